//go:build !integration

package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

type recorder struct {
	sleeps []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return ctx.Err()
}

func testPolicy(r *recorder) Policy {
	p := DefaultPolicy()
	p.Sleep = r.sleep
	return p
}

func TestDo(t *testing.T) {
	t.Run("should retry transient failures with doubling delays", func(t *testing.T) {
		rec := &recorder{}
		calls := 0
		got, err := Do(context.Background(), testPolicy(rec), func(context.Context) (string, error) {
			calls++
			if calls <= 2 {
				return "", statusErr(http.StatusBadGateway)
			}
			return "ok", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.sleeps)
	})

	t.Run("should not sleep on a non-retryable error", func(t *testing.T) {
		rec := &recorder{}
		calls := 0
		_, err := Do(context.Background(), testPolicy(rec), func(context.Context) (int, error) {
			calls++
			return 0, statusErr(http.StatusBadRequest)
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, rec.sleeps)
	})

	t.Run("should give up after max retries without a trailing sleep", func(t *testing.T) {
		rec := &recorder{}
		calls := 0
		_, err := Do(context.Background(), testPolicy(rec), func(context.Context) (int, error) {
			calls++
			return 0, statusErr(http.StatusServiceUnavailable)
		})

		var se statusErr
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 4, calls)
		assert.Len(t, rec.sleeps, 3)
	})

	t.Run("should report each retry", func(t *testing.T) {
		rec := &recorder{}
		var attempts []int
		p := testPolicy(rec)
		p.OnRetry = func(attempt int, _ time.Duration, _ error) { attempts = append(attempts, attempt) }
		calls := 0
		_, _ = Do(context.Background(), p, func(context.Context) (int, error) {
			calls++
			if calls == 1 {
				return 0, syscall.ECONNRESET
			}
			return 1, nil
		})
		assert.Equal(t, []int{1}, attempts)
	})

	t.Run("should stop when the context is cancelled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := DefaultPolicy()
		p.Sleep = func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		}
		calls := 0
		_, err := Do(ctx, p, func(context.Context) (int, error) {
			calls++
			return 0, statusErr(http.StatusInternalServerError)
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 8*time.Second, p.Backoff(3))
	assert.Equal(t, 10*time.Second, p.Backoff(4))
	assert.Equal(t, 10*time.Second, p.Backoff(30))
}

func TestDefaultShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"should retry 500", statusErr(500), true},
		{"should retry 503", statusErr(503), true},
		{"should retry 429", statusErr(429), true},
		{"should not retry 400", statusErr(400), false},
		{"should not retry 404", statusErr(404), false},
		{"should retry connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"should retry timeouts", syscall.ETIMEDOUT, true},
		{"should retry truncated bodies", io.ErrUnexpectedEOF, true},
		{"should not retry cancellation", context.Canceled, false},
		{"should not retry plain errors", errors.New("boom"), false},
		{"should not retry nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultShouldRetry(tt.err))
		})
	}
}

func TestNoRetryOnCredentials(t *testing.T) {
	should := NoRetryOnCredentials(nil)
	assert.False(t, should(statusErr(http.StatusUnauthorized)))
	assert.False(t, should(statusErr(http.StatusForbidden)))
	assert.True(t, should(statusErr(http.StatusBadGateway)))
	assert.False(t, should(statusErr(http.StatusBadRequest)))
}
