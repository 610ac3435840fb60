// Package application composes the per-account use cases into the engine shared by
// the daemon and the single-shot command.
package application

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"credit-reset/internal/clock"
	"credit-reset/internal/config"
	"credit-reset/internal/domain/ports/adapter"
	"credit-reset/internal/domain/ports/repository"
	"credit-reset/internal/infra/gateway"
	"credit-reset/internal/infra/ratelimit"
	"credit-reset/internal/infra/retry"
	"credit-reset/internal/usecase"
)

// GatewayFactory builds the gateway for one API key.
type GatewayFactory func(apiKey string, limiter ratelimit.Limiter) adapter.SubscriptionGateway

// EngineDeps are the collaborators shared by every account.
type EngineDeps struct {
	Clock    clock.Clock
	Notifier adapter.Notifier
	History  repository.HistoryRepository
	// Gateways defaults to the vendor HTTP client.
	Gateways GatewayFactory
}

// Engine is the use case graph for every configured account.
type Engine struct {
	Fleet    *usecase.Fleet
	Accounts []*usecase.Account
	// Bucket is nil when rate limiting is disabled.
	Bucket *ratelimit.TokenBucket
}

// BuildEngine wires one gateway, executor, deferred scheduler and checkpoint use case
// per key. ctx bounds the deferred fires; cancel it at shutdown.
func BuildEngine(ctx context.Context, cfg *config.Config, deps EngineDeps, logger *zerolog.Logger) (*Engine, error) {
	if len(cfg.API.Keys) == 0 {
		return nil, errors.New("no api keys configured")
	}
	if deps.Notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.SystemClock{}
	}
	if deps.History == nil {
		deps.History = repository.NoopHistory{}
	}

	e := &Engine{}
	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if cfg.RateLimit.Enabled {
		b, err := ratelimit.NewTokenBucket(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerMinute, deps.Clock, logger)
		if err != nil {
			return nil, err
		}
		e.Bucket = b
		limiter = b
	}

	newGateway := deps.Gateways
	if newGateway == nil {
		newGateway = httpGateways(cfg, deps.Clock, logger)
	}

	classifier := usecase.NewClassifier(usecase.ClassifierConfig{
		Cooldown:            cfg.Reset.Cooldown,
		LowBalanceThreshold: cfg.Reset.LowBalanceThreshold,
		ExcludePlanNames:    cfg.Reset.ExcludePlanNames,
	})
	loc := cfg.ScheduleLocation()

	for _, key := range cfg.API.Keys {
		gw := newGateway(key, limiter)
		exec := usecase.NewResetExecutor(gw, deps.Clock, usecase.ResetExecutorConfig{
			VerificationWait: cfg.Reset.VerificationWait,
			DryRun:           cfg.Reset.DryRun,
		}, logger)
		delayed := usecase.NewDelayedResetScheduler(ctx, gw, exec, deps.Notifier, deps.Clock, usecase.DelayedResetConfig{
			Cooldown:       cfg.Reset.Cooldown,
			SafetyMargin:   cfg.Reset.SafetyMargin,
			EndOfDayBuffer: cfg.Reset.EndOfDayBuffer,
			Location:       loc,
		}, logger)
		cp := usecase.NewCheckpointUseCase(gw, classifier, exec, delayed, deps.Notifier, deps.History, deps.Clock,
			usecase.CheckpointConfig{
				RequestInterval: cfg.Reset.RequestInterval,
				DryRun:          cfg.Reset.DryRun,
			}, logger)
		e.Accounts = append(e.Accounts, &usecase.Account{Gateway: gw, Checkpoint: cp, Delayed: delayed})
	}
	e.Fleet = usecase.NewFleet(e.Accounts, logger)

	logger.Info().
		Int("accounts", len(e.Accounts)).
		Bool("dry_run", cfg.Reset.DryRun).
		Bool("rate_limit", cfg.RateLimit.Enabled).
		Bool("retry", cfg.Retry.Enabled).
		Msg("engine ready")
	return e, nil
}

func httpGateways(cfg *config.Config, clk clock.Clock, logger *zerolog.Logger) GatewayFactory {
	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.Retry.MaxRetries
	policy.BaseDelay = cfg.Retry.BaseDelay
	policy.MaxDelay = cfg.Retry.MaxDelay

	return func(key string, limiter ratelimit.Limiter) adapter.SubscriptionGateway {
		return gateway.NewClient(gateway.Options{
			BaseURL:       cfg.API.BaseURL,
			APIKey:        key,
			Timeout:       cfg.API.Timeout,
			Location:      cfg.APILocation(),
			RateLimitWait: cfg.RateLimit.WaitTimeout,
			RetryEnabled:  cfg.Retry.Enabled,
			Retry:         policy,
		}, limiter, clk, logger)
	}
}

// PendingCount is read by the pending-delayed gauge.
func (e *Engine) PendingCount() float64 {
	return float64(e.Fleet.PendingCount())
}
