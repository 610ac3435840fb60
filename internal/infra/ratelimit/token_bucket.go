// Package ratelimit bounds the outbound call rate to the vendor API.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"credit-reset/internal/clock"
	"credit-reset/internal/infra/metrics"
)

// DefaultPollInterval is how often WaitForToken retries TryConsume.
const DefaultPollInterval = time.Second

// Limiter gates every outbound call.
type Limiter interface {
	WaitForToken(ctx context.Context, maxWait time.Duration) bool
}

var (
	_ Limiter = (*TokenBucket)(nil)
	_ Limiter = Unlimited{}
)

// TokenBucket holds up to capacity tokens and refills refillPerMinute tokens per minute.
// One instance is shared by every account and by both the immediate and deferred
// paths, so their combined call rate never exceeds the refill rate.
// rate.Limiter performs the refill-then-consume step atomically.
type TokenBucket struct {
	capacity        int
	refillPerMinute float64
	lim             *rate.Limiter
	clock           clock.Clock
	pollInterval    time.Duration
	log             *zerolog.Logger
}

// NewTokenBucket starts full.
func NewTokenBucket(capacity int, refillPerMinute float64, clk clock.Clock, logger *zerolog.Logger) (*TokenBucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("rate limit capacity must be greater than 0, got %d", capacity)
	}
	if refillPerMinute <= 0 {
		return nil, fmt.Errorf("rate limit refill rate must be greater than 0, got %v", refillPerMinute)
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	l := logger.With().Str("component", "RateLimiter").Logger()
	b := &TokenBucket{
		capacity:        capacity,
		refillPerMinute: refillPerMinute,
		lim:             rate.NewLimiter(rate.Limit(refillPerMinute/60.0), capacity),
		clock:           clk,
		pollInterval:    DefaultPollInterval,
		log:             &l,
	}
	b.log.Info().Int("capacity", capacity).Float64("refill_per_minute", refillPerMinute).Msg("rate limiter initialised")
	return b, nil
}

// TryConsume refills by elapsed time and takes one token if available.
func (b *TokenBucket) TryConsume() bool {
	now := b.clock.Now()
	ok := b.lim.AllowN(now, 1)
	tokens := b.lim.TokensAt(now)
	metrics.SetRateLimitTokens(tokens)
	if !ok {
		metrics.IncRateLimitDenied()
		b.log.Debug().Float64("tokens", tokens).Int("capacity", b.capacity).Msg("rate limit: no token available")
		return false
	}
	b.log.Trace().Float64("tokens", tokens).Int("capacity", b.capacity).Msg("token consumed")
	return true
}

// WaitForToken polls TryConsume until it succeeds, maxWait elapses or ctx is done.
func (b *TokenBucket) WaitForToken(ctx context.Context, maxWait time.Duration) bool {
	start := b.clock.Now()
	for b.clock.Now().Sub(start) < maxWait {
		if b.TryConsume() {
			return true
		}
		if err := b.clock.Sleep(ctx, b.pollInterval); err != nil {
			return false
		}
	}
	b.log.Error().Dur("max_wait", maxWait).Msg("rate limit: timed out waiting for a token")
	return false
}

// Available returns the whole tokens currently in the bucket.
func (b *TokenBucket) Available() int {
	return int(b.lim.TokensAt(b.clock.Now()))
}

// Status is a point-in-time view for the admin API.
type Status struct {
	Capacity        int     `json:"capacity"`
	Available       int     `json:"available"`
	RefillPerMinute float64 `json:"refill_per_minute"`
	UtilizationPct  float64 `json:"utilization_percent"`
}

func (b *TokenBucket) Status() Status {
	tokens := b.lim.TokensAt(b.clock.Now())
	return Status{
		Capacity:        b.capacity,
		Available:       int(tokens),
		RefillPerMinute: b.refillPerMinute,
		UtilizationPct:  (float64(b.capacity) - tokens) / float64(b.capacity) * 100,
	}
}

// Unlimited is used when rate limiting is disabled.
type Unlimited struct{}

func (Unlimited) WaitForToken(context.Context, time.Duration) bool { return true }
