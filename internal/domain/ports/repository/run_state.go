package repository

import (
	"context"
	"time"

	"credit-reset/internal/domain/model"
)

// ExecutionRecord is one stored single-shot execution of a checkpoint.
type ExecutionRecord struct {
	Date      string               `json:"date"` // YYYY-MM-DD in the schedule time zone
	Kind      model.CheckpointKind `json:"type"`
	Status    string               `json:"status"` // success | failure
	Timestamp time.Time            `json:"timestamp"`
	Result    *ExecutionResult     `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// ExecutionResult is the condensed outcome stored with a successful execution.
type ExecutionResult struct {
	Accounts  int `json:"accounts"`
	Success   int `json:"success"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Scheduled int `json:"scheduled"`
}

// ExecutionStats summarises the store for the -stats command.
type ExecutionStats struct {
	Today             map[model.CheckpointKind]bool
	LastExecutionDate string
	TotalExecutions   int
	RecentFailures    int
	TotalFailures     int
}

// RunStateRepository is the idempotency store used by the single-shot path so that a
// re-triggered invocation does not execute the same checkpoint twice on one day.
type RunStateRepository interface {
	HasRunToday(ctx context.Context, kind model.CheckpointKind) (bool, error)
	RecordSuccess(ctx context.Context, kind model.CheckpointKind, result *ExecutionResult) error
	RecordFailure(ctx context.Context, kind model.CheckpointKind, cause error) error
	RecentFailureCount(ctx context.Context, window time.Duration) (int, error)
	Stats(ctx context.Context) (*ExecutionStats, error)
}
