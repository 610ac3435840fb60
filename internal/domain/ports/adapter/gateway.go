package adapter

import (
	"context"

	"credit-reset/internal/domain/model"
)

// ResetResult is the remote API's declared answer to a reset call.
// A declared success is not proof of effect; callers verify by re-fetching.
type ResetResult struct {
	Success bool
	Message string
}

// SubscriptionGateway talks to the vendor API for one account.
// Implementations surface HTTP status codes (via an HTTPStatus() int method on the
// error) and transport errors unchanged so callers can classify them.
type SubscriptionGateway interface {
	FetchAll(ctx context.Context) ([]*model.Subscription, error)
	ResetOne(ctx context.Context, subscriptionID string) (*ResetResult, error)
	// Ping checks credentials and connectivity.
	Ping(ctx context.Context) error
	// AccountMask identifies the account in logs and notifications without leaking the key.
	AccountMask() string
}
