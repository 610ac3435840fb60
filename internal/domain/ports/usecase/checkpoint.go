package usecase

import (
	"context"

	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/adapter"
)

// CheckpointRunner runs one checkpoint across every configured account.
// Used by the cron trigger, the admin API and the single-shot command.
type CheckpointRunner interface {
	Run(ctx context.Context, kind model.CheckpointKind) []*model.RunSummary
}

// DelayedResetInspector exposes the armed deferred resets of every account.
type DelayedResetInspector interface {
	PendingDelayed() []model.ScheduledTask
	CancelAllDelayed() int
	WaitDelayed(ctx context.Context) error
}

// StartupReporter checks every account once when the service starts.
type StartupReporter interface {
	Startup(ctx context.Context) (*adapter.StartupReport, error)
}
