package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit-reset/internal/clock/clocktest"
	"credit-reset/internal/domain"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/infra/retry"
)

const testKey = "sk-test-0123456789abcdef"

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

var shanghai = time.FixedZone("CST", 8*3600)

type denyLimiter struct{}

func (denyLimiter) WaitForToken(context.Context, time.Duration) bool { return false }

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *clocktest.Fake) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	clk := clocktest.NewFake(time.Date(2026, 1, 10, 12, 0, 0, 0, shanghai))
	c := NewClient(Options{
		BaseURL:      srv.URL + "/",
		APIKey:       testKey,
		Timeout:      5 * time.Second,
		Location:     shanghai,
		RetryEnabled: true,
		Retry:        retry.DefaultPolicy(),
	}, nil, clk, newTestLogger())
	return c, clk
}

const listBody = `[
  {"id": 101, "subscriptionPlanName": "Pro", "subscriptionPlan": {"planType": "MONTHLY", "subscriptionName": "Pro", "creditLimit": 20},
   "isActive": true, "subscriptionStatus": "活跃中", "remainingDays": 12, "currentCredits": 3.5, "resetTimes": 2,
   "lastCreditReset": "2026-01-10 08:30:00"},
  {"id": "202", "subscriptionPlanName": "PAYGO", "subscriptionPlan": {"planType": "PAY_PER_USE"},
   "isActive": true, "remainingDays": "n/a", "currentCredits": null, "resetTimes": 0, "lastCreditReset": null}
]`

func TestClient_FetchAll(t *testing.T) {
	t.Run("should send the raw key and map records", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/subscription", r.URL.Path)
			assert.Equal(t, testKey, r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(listBody))
		})

		subs, err := c.FetchAll(context.Background())
		require.NoError(t, err)
		require.Len(t, subs, 2)

		pro := subs[0]
		assert.Equal(t, "101", pro.ID)
		assert.Equal(t, model.PlanCategoryFixed, pro.Category)
		assert.Equal(t, "活跃中", pro.StatusLabel)
		require.NotNil(t, pro.RemainingDays)
		assert.Equal(t, 12, *pro.RemainingDays)
		assert.Equal(t, 3.5, pro.CurrentCredits)
		assert.Equal(t, 20.0, pro.CreditLimit)
		assert.Equal(t, 2, pro.ResetTimes)
		require.NotNil(t, pro.LastResetAt)
		assert.True(t, pro.LastResetAt.Equal(time.Date(2026, 1, 10, 0, 30, 0, 0, time.UTC)))

		paygo := subs[1]
		assert.Equal(t, "202", paygo.ID)
		assert.True(t, paygo.IsMetered())
		assert.Nil(t, paygo.RemainingDays)
		assert.Nil(t, paygo.LastResetAt)
		assert.Zero(t, paygo.CurrentCredits)
	})

	t.Run("should keep good records when one record is malformed", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[
  {"id": 1, "subscriptionPlanName": "Pro", "isActive": true, "currentCredits": 2, "resetTimes": 2,
   "lastCreditReset": "2026-01-10 08:30:00"},
  {"id": 2, "subscriptionPlanName": "Plus", "isActive": "true", "currentCredits": 1, "resetTimes": 1,
   "lastCreditReset": 1736500000},
  {"id": 3, "subscriptionPlanName": "Team", "isActive": "yes please"},
  7
]`))
		})

		subs, err := c.FetchAll(context.Background())
		require.NoError(t, err)
		require.Len(t, subs, 4)

		assert.Equal(t, "1", subs[0].ID)
		assert.False(t, subs[0].Malformed())
		assert.True(t, subs[0].IsActive)

		assert.Equal(t, "2", subs[1].ID)
		assert.True(t, subs[1].Malformed())
		assert.Contains(t, subs[1].DecodeError, "lastCreditReset")

		assert.Equal(t, "3", subs[2].ID)
		assert.True(t, subs[2].Malformed())

		assert.Empty(t, subs[3].ID)
		assert.True(t, subs[3].Malformed())
	})

	t.Run("should accept a quoted boolean for isActive", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data": [{"id": 9, "subscriptionPlanName": "Pro", "isActive": "true"}]}`))
		})

		subs, err := c.FetchAll(context.Background())
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.False(t, subs[0].Malformed())
		assert.True(t, subs[0].IsActive)
	})

	t.Run("should fail when the body is not a list", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`"maintenance"`))
		})

		_, err := c.FetchAll(context.Background())
		require.Error(t, err)
	})

	t.Run("should retry a 503 with backoff and then succeed", func(t *testing.T) {
		var calls int32
		c, clk := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"data": []}`))
		})

		subs, err := c.FetchAll(context.Background())
		require.NoError(t, err)
		assert.Empty(t, subs)
		assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clk.Sleeps())
	})

	t.Run("should fail with rate limit timeout when no token arrives", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("request must not be sent")
		})
		c.limiter = denyLimiter{}

		_, err := c.FetchAll(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrRateLimitTimeout))
	})
}

func TestClient_ResetOne(t *testing.T) {
	t.Run("should treat 204 as success", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/reset-credits/101", r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		})
		res, err := c.ResetOne(context.Background(), "101")
		require.NoError(t, err)
		assert.True(t, res.Success)
	})

	t.Run("should surface a declared failure as a result", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success": false, "message": "cooldown not finished"}`))
		})
		res, err := c.ResetOne(context.Background(), "101")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "cooldown not finished", res.Message)
	})

	t.Run("should not retry credential errors", func(t *testing.T) {
		var calls int32
		c, clk := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusForbidden)
		})
		_, err := c.ResetOne(context.Background(), "101")
		require.Error(t, err)
		assert.True(t, IsCredentialError(err))
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
		assert.Empty(t, clk.Sleeps())

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusForbidden, apiErr.HTTPStatus())
	})

	t.Run("should log a rejected key distinctly", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		var buf bytes.Buffer
		l := zerolog.New(&buf)
		c.log = &l

		_, err := c.ResetOne(context.Background(), "101")
		require.Error(t, err)
		assert.Contains(t, buf.String(), "api key rejected")
		assert.Contains(t, buf.String(), `"op":"reset_credits"`)
	})

	t.Run("should not flag a bad request as a rejected key", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		})
		var buf bytes.Buffer
		l := zerolog.New(&buf)
		c.log = &l

		_, err := c.ResetOne(context.Background(), "101")
		require.Error(t, err)
		assert.False(t, IsCredentialError(err))
		assert.NotContains(t, buf.String(), "api key rejected")
	})

	t.Run("should retry 429 on reset", func(t *testing.T) {
		var calls int32
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			_, _ = w.Write([]byte(`{"success": true}`))
		})
		res, err := c.ResetOne(context.Background(), "101")
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	})
}

func TestClient_Ping(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/usage", r.URL.Path)
		w.WriteHeader(http.StatusUnauthorized)
	})
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestParseAPITime(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want *time.Time
	}{
		{"should read naive timestamps in the api zone", "2026-01-10 08:30:00", ptrTime(time.Date(2026, 1, 10, 0, 30, 0, 0, time.UTC))},
		{"should accept RFC3339", "2026-01-10T00:30:00Z", ptrTime(time.Date(2026, 1, 10, 0, 30, 0, 0, time.UTC))},
		{"should return nil for garbage", "yesterday", nil},
		{"should return nil for empty", "  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAPITime(tt.in, shanghai)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, got.Equal(*tt.want), "got %s", got)
		})
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
