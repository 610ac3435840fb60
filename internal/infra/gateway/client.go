// Package gateway implements the vendor subscription API for one account.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"credit-reset/internal/clock"
	"credit-reset/internal/domain"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/adapter"
	"credit-reset/internal/infra/logging"
	"credit-reset/internal/infra/metrics"
	"credit-reset/internal/infra/ratelimit"
	"credit-reset/internal/infra/retry"
)

const (
	pathSubscriptions = "/api/subscription"
	pathResetCredits  = "/api/reset-credits/"
	pathUsage         = "/api/usage"
)

var _ adapter.SubscriptionGateway = (*Client)(nil)

// APIError is a non-2xx answer from the vendor API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Sprintf("%s: api key rejected (401)", e.Op)
	case http.StatusTooManyRequests:
		return fmt.Sprintf("%s: throttled by remote api (429)", e.Op)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Options configures a Client.
type Options struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	Location      *time.Location // zone of the vendor's timestamps
	RateLimitWait time.Duration
	RetryEnabled  bool
	Retry         retry.Policy
}

// Client talks to the vendor API with one key. Every attempt, retries included,
// first takes a token from the shared limiter.
type Client struct {
	baseURL       string
	apiKey        string
	mask          string
	client        *http.Client
	limiter       ratelimit.Limiter
	rateLimitWait time.Duration
	retryEnabled  bool
	retry         retry.Policy
	loc           *time.Location
	log           *zerolog.Logger
}

// NewClient builds a client. limiter may be ratelimit.Unlimited{}; clk drives retry backoff.
func NewClient(opts Options, limiter ratelimit.Limiter, clk clock.Clock, logger *zerolog.Logger) *Client {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.RateLimitWait <= 0 {
		opts.RateLimitWait = time.Minute
	}
	mask := logging.MaskAPIKey(opts.APIKey)
	l := logger.With().Str("component", "Gateway").Str("account", mask).Logger()

	policy := opts.Retry
	policy.Sleep = clk.Sleep
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		l.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("request failed, retrying")
	}

	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		apiKey:        opts.APIKey,
		mask:          mask,
		client:        &http.Client{Timeout: opts.Timeout},
		limiter:       limiter,
		rateLimitWait: opts.RateLimitWait,
		retryEnabled:  opts.RetryEnabled,
		retry:         policy,
		loc:           opts.Location,
		log:           &l,
	}
}

func (g *Client) AccountMask() string { return g.mask }

// FetchAll returns every subscription of the account in the order the API lists them.
func (g *Client) FetchAll(ctx context.Context) ([]*model.Subscription, error) {
	body, err := g.withRetry(ctx, "fetch_subscriptions", retry.DefaultShouldRetry, func(ctx context.Context) ([]byte, error) {
		b, _, err := g.post(ctx, "fetch_subscriptions", pathSubscriptions)
		return b, err
	})
	if err != nil {
		return nil, err
	}

	raws, err := decodeSubscriptions(body)
	if err != nil {
		return nil, fmt.Errorf("fetch_subscriptions: %w", err)
	}
	subs := make([]*model.Subscription, 0, len(raws))
	for i, r := range raws {
		sub := r.toModel(g.loc)
		if sub.Malformed() {
			g.log.Warn().Int("index", i).Str("subscription_id", sub.ID).Str("error", sub.DecodeError).
				Msg("malformed subscription record")
		}
		subs = append(subs, sub)
	}
	metrics.SetSubscriptionsSeen(g.mask, len(subs))
	g.log.Debug().Int("count", len(subs)).Msg("subscriptions fetched")
	return subs, nil
}

type resetResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// ResetOne asks the API to reset a subscription's credits. 401 and 403 are never retried.
// A declared failure ({"success":false}) is returned as a result, not an error.
func (g *Client) ResetOne(ctx context.Context, subscriptionID string) (*adapter.ResetResult, error) {
	shouldRetry := retry.NoRetryOnCredentials(g.retry.ShouldRetry)
	body, err := g.withRetry(ctx, "reset_credits", shouldRetry, func(ctx context.Context) ([]byte, error) {
		b, status, err := g.post(ctx, "reset_credits", pathResetCredits+subscriptionID)
		if err != nil {
			return nil, err
		}
		if status == http.StatusNoContent {
			return nil, nil
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return &adapter.ResetResult{Success: true, Message: "reset accepted"}, nil
	}
	var resp resetResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// a 2xx without a parseable envelope counts as accepted; verification decides
		g.log.Warn().Err(err).Str("subscription_id", subscriptionID).Msg("unparseable reset response")
		return &adapter.ResetResult{Success: true, Message: "reset accepted"}, nil
	}
	if resp.Success != nil && !*resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "reset failed"
		}
		return &adapter.ResetResult{Success: false, Message: msg}, nil
	}
	msg := resp.Message
	if msg == "" {
		msg = "reset accepted"
	}
	return &adapter.ResetResult{Success: true, Message: msg}, nil
}

// Ping checks connectivity and the key via the usage endpoint.
func (g *Client) Ping(ctx context.Context) error {
	_, err := g.withRetry(ctx, "usage", retry.DefaultShouldRetry, func(ctx context.Context) ([]byte, error) {
		b, _, err := g.post(ctx, "usage", pathUsage)
		return b, err
	})
	return err
}

// withRetry runs fn under the retry policy. A rejected key is logged on its own
// line since no retry or later run can fix it.
func (g *Client) withRetry(ctx context.Context, op string, shouldRetry func(error) bool, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	body, err := g.attempts(ctx, op, shouldRetry, fn)
	if IsCredentialError(err) {
		metrics.IncGatewayCredentialRejected(op)
		g.log.Error().Err(err).Str("op", op).Msg("api key rejected by the vendor, check the configured key")
	}
	return body, err
}

func (g *Client) attempts(ctx context.Context, op string, shouldRetry func(error) bool, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if !g.retryEnabled {
		return fn(ctx)
	}
	p := g.retry
	p.ShouldRetry = shouldRetry
	onRetry := p.OnRetry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.IncGatewayRetry(op)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}
	return retry.Do(ctx, p, fn)
}

// post performs one attempt: token, request, status check.
func (g *Client) post(ctx context.Context, op, path string) ([]byte, int, error) {
	if !g.limiter.WaitForToken(ctx, g.rateLimitWait) {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("%s: %w", op, domain.ErrRateLimitTimeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Authorization", g.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		metrics.ObserveGatewayRequest(op, 0, time.Since(start).Milliseconds())
		g.log.Error().Err(err).Str("op", op).Msg("network error")
		return nil, 0, fmt.Errorf("%s: failed to send request: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	metrics.ObserveGatewayRequest(op, resp.StatusCode, time.Since(start).Milliseconds())
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%s: failed to read response body: %w", op, err)
	}
	g.log.Debug().Str("op", op).Int("status", resp.StatusCode).Msg("api response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
		g.log.Error().Int("status", resp.StatusCode).Str("op", op).Str("body", apiErr.Body).Msg("api error")
		return nil, resp.StatusCode, apiErr
	}
	return body, resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IsCredentialError reports a 401/403 from the vendor.
func IsCredentialError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}
