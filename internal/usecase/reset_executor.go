// File: internal/usecase/reset_executor.go
package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"credit-reset/internal/clock"
	"credit-reset/internal/domain"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/adapter"
)

// creditEpsilon is the tolerance under which two balances count as unchanged.
const creditEpsilon = 0.01

type ResetExecutorConfig struct {
	// VerificationWait is the settle pause between a reset call and the re-fetch.
	VerificationWait time.Duration
	DryRun           bool
}

// ResetExecutor performs one reset and verifies its effect against a fresh snapshot.
// A 2xx from the vendor is not trusted on its own.
type ResetExecutor struct {
	gw    adapter.SubscriptionGateway
	clock clock.Clock
	cfg   ResetExecutorConfig
	log   *zerolog.Logger
}

func NewResetExecutor(gw adapter.SubscriptionGateway, clk clock.Clock, cfg ResetExecutorConfig, logger *zerolog.Logger) *ResetExecutor {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	l := logger.With().Str("component", "ResetExecutor").Str("account", gw.AccountMask()).Logger()
	return &ResetExecutor{gw: gw, clock: clk, cfg: cfg, log: &l}
}

// Execute never returns an error. Transport and credential failures, including a
// failed verification fetch, become FAILED; a record missing or unreadable in an
// otherwise good verification fetch becomes an unverified SUCCESS.
func (e *ResetExecutor) Execute(ctx context.Context, sub *model.Subscription, kind model.CheckpointKind) *model.ResetDetail {
	d := model.NewResetDetail(sub)
	log := e.log.With().Str("subscription_id", sub.ID).Str("plan", sub.PlanName).Str("checkpoint", string(kind)).Logger()

	log.Info().
		Int("reset_times", sub.ResetTimes).
		Float64("credits", sub.CurrentCredits).
		Float64("credit_percent", sub.CreditPercent()).
		Msgf("%s resetting %s", kind.Label(), sub.Label())

	if e.cfg.DryRun {
		d.Status = model.ResetStatusSkipped
		d.Reason = model.SkipReasonDryRun
		d.Message = "[DRY-RUN] reset not sent"
		log.Info().Msg("dry run, reset skipped")
		return d
	}

	res, err := e.gw.ResetOne(ctx, sub.ID)
	if err != nil {
		d.Status = model.ResetStatusFailed
		d.Message = err.Error()
		d.Error = err.Error()
		log.Error().Err(err).Msg("reset call failed")
		return d
	}
	if !res.Success {
		d.Status = model.ResetStatusFailed
		d.Message = res.Message
		d.Error = fmt.Errorf("%w: %s", domain.ErrResetRejected, res.Message).Error()
		log.Error().Str("message", res.Message).Msg("reset rejected by remote api")
		return d
	}

	d.Status = model.ResetStatusSuccess
	if err := e.clock.Sleep(ctx, e.cfg.VerificationWait); err != nil {
		d.Message = "reset accepted (unverified: interrupted before verification)"
		log.Warn().Err(err).Msg("verification skipped")
		return d
	}

	subs, err := e.gw.FetchAll(ctx)
	if err != nil {
		d.Status = model.ResetStatusFailed
		d.Message = fmt.Sprintf("reset sent but verification fetch failed: %v", err)
		d.Error = err.Error()
		log.Error().Err(err).Msg("verification fetch failed")
		return d
	}
	after := model.FindSubscription(subs, sub.ID)
	if after == nil {
		d.Message = "reset accepted (unverified: subscription not found after reset)"
		log.Warn().Msg("subscription missing after reset, result unverified")
		return d
	}
	if after.Malformed() {
		d.Message = "reset accepted (unverified: subscription record unreadable after reset)"
		log.Warn().Str("error", after.DecodeError).Msg("malformed record after reset, result unverified")
		return d
	}

	classifyEffect(d, after)
	switch {
	case d.Status == model.ResetStatusSkipped:
		log.Warn().Float64("credits", d.BeforeCredits).Int("reset_times", d.BeforeResetTimes).
			Msg("api reported success but nothing changed")
	default:
		log.Info().
			Float64("before_credits", d.BeforeCredits).Float64("after_credits", *d.AfterCredits).
			Int("before_reset_times", d.BeforeResetTimes).Int("after_reset_times", *d.AfterResetTimes).
			Bool("cross_day_refill", d.CrossDayRefill).
			Msg("reset verified")
	}
	return d
}

// classifyEffect compares the before side of d with the re-fetched snapshot.
func classifyEffect(d *model.ResetDetail, after *model.Subscription) {
	credits := after.CurrentCredits
	times := after.ResetTimes
	d.AfterCredits = &credits
	d.AfterResetTimes = &times
	d.Verified = true

	creditsUnchanged := math.Abs(d.BeforeCredits-credits) < creditEpsilon
	timesUnchanged := d.BeforeResetTimes == times
	switch {
	case creditsUnchanged && timesUnchanged:
		d.Status = model.ResetStatusSkipped
		d.Reason = model.SkipReasonNoEffect
		d.Message = "api reported success but credits and reset times are unchanged"
	case times > d.BeforeResetTimes:
		d.Status = model.ResetStatusSuccess
		d.CrossDayRefill = true
		d.Message = "reset succeeded (cross-day refill detected)"
	default:
		d.Status = model.ResetStatusSuccess
		d.Message = "reset succeeded"
	}
}
