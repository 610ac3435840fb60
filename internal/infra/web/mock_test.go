//go:build !integration

package web

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"credit-reset/internal/domain"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/infra/ratelimit"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

type mockTrigger struct {
	mu    sync.Mutex
	err   error
	kinds []model.CheckpointKind
}

func (m *mockTrigger) Run(ctx context.Context, kind model.CheckpointKind) ([]*model.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.kinds = append(m.kinds, kind)
	s := model.NewRunSummary(kind, "sk-ab123...wxyz", time.Date(2026, 3, 10, 18, 55, 0, 0, time.UTC))
	return []*model.RunSummary{s}, nil
}

func (m *mockTrigger) NextRuns() map[string]time.Time {
	return map[string]time.Time{"FIRST": time.Date(2026, 3, 10, 10, 55, 0, 0, time.UTC)}
}

type mockAccounts []string

func (m mockAccounts) Accounts() []string { return m }

type mockDelayed struct{ tasks []model.ScheduledTask }

func (m *mockDelayed) PendingDelayed() []model.ScheduledTask { return m.tasks }
func (m *mockDelayed) CancelAllDelayed() int                 { return len(m.tasks) }
func (m *mockDelayed) WaitDelayed(ctx context.Context) error { return nil }

type mockLocker struct{ held map[string]bool }

func (m *mockLocker) Acquire(ctx context.Context, name string) (func(), error) {
	if m.held[name] {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

func (m *mockLocker) Locked(ctx context.Context, name string) (bool, error) {
	return m.held[name], nil
}

type mockHistory struct {
	days int
	runs []*model.RunSummary
	err  error
}

func (m *mockHistory) SaveRun(context.Context, *model.RunSummary) error { return nil }
func (m *mockHistory) ListRecent(_ context.Context, days int) ([]*model.RunSummary, error) {
	m.days = days
	return m.runs, m.err
}
func (m *mockHistory) Prune(context.Context, int) (int64, error) { return 0, nil }

type mockLimiter struct{}

func (mockLimiter) Status() ratelimit.Status {
	return ratelimit.Status{Capacity: 10, Available: 7, RefillPerMinute: 10, UtilizationPct: 30}
}

type mockManual struct {
	allow bool
	seen  []string
}

func (m *mockManual) Allow(_ context.Context, kind string) (bool, error) {
	m.seen = append(m.seen, kind)
	return m.allow, nil
}
