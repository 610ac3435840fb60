package adapter

import (
	"context"

	"credit-reset/internal/domain/model"
)

// Notifier delivers run reports. Notify is fire-and-forget from the caller's side:
// a failing channel must never fail or block a checkpoint run.
type Notifier interface {
	Notify(ctx context.Context, report *model.RunSummary)
}

// StartupReport lists the subscriptions seen when the service starts.
type StartupReport struct {
	Accounts      int
	Subscriptions []*model.Subscription
}

// StartupNotifier is implemented by sinks that can announce a service start.
type StartupNotifier interface {
	NotifyStartup(ctx context.Context, report *StartupReport)
}
