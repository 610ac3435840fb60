package repository

import (
	"context"

	"credit-reset/internal/domain/model"
)

// -----------------------------
// Run history
// -----------------------------

type HistoryRepository interface {
	// SaveRun stores a finished run with its details.
	SaveRun(ctx context.Context, run *model.RunSummary) error
	// ListRecent returns runs started within the last `days` days, newest first.
	ListRecent(ctx context.Context, days int) ([]*model.RunSummary, error)
	// Prune deletes runs older than keepDays and returns how many were removed.
	Prune(ctx context.Context, keepDays int) (int64, error)
}

// NoopHistory is used when no database is configured.
type NoopHistory struct{}

func (NoopHistory) SaveRun(context.Context, *model.RunSummary) error { return nil }
func (NoopHistory) ListRecent(context.Context, int) ([]*model.RunSummary, error) {
	return []*model.RunSummary{}, nil
}
func (NoopHistory) Prune(context.Context, int) (int64, error) { return 0, nil }
