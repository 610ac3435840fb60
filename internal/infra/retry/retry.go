// Package retry wraps a single outbound call with classified, bounded,
// exponentially delayed retries.
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"credit-reset/internal/clock"
)

// Policy configures Do.
type Policy struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	ShouldRetry func(error) bool
	// Sleep defaults to the wall clock.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy mirrors the service defaults: 3 retries, 1s base, 10s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		ShouldRetry: DefaultShouldRetry,
	}
}

// Backoff returns min(base*2^attempt, max).
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs op up to MaxRetries+1 times. A non-retryable error, or a failure on the
// last attempt, is returned immediately without sleeping.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = clock.SystemClock{}.Sleep
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if attempt == maxRetries || !shouldRetry(err) {
			return zero, err
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return zero, errors.Join(lastErr, serr)
		}
	}
	return zero, lastErr
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// HTTPStatus extracts the status code carried by err, if any.
func HTTPStatus(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus(), true
	}
	return 0, false
}

// DefaultShouldRetry retries connection-reset and timeout class transport errors,
// HTTP 5xx and HTTP 429. Everything else is final.
func DefaultShouldRetry(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if status, ok := HTTPStatus(err); ok {
		return status >= 500 || status == http.StatusTooManyRequests
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// NoRetryOnCredentials wraps next so that 401 and 403 are never retried.
func NoRetryOnCredentials(next func(error) bool) func(error) bool {
	if next == nil {
		next = DefaultShouldRetry
	}
	return func(err error) bool {
		if status, ok := HTTPStatus(err); ok {
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				return false
			}
		}
		return next(err)
	}
}
