//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/adapter"
	"credit-reset/internal/domain/ports/repository"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

var cst = time.FixedZone("CST", 8*3600)

func at(hour, min, sec int) time.Time {
	return time.Date(2026, 3, 10, hour, min, sec, 0, cst)
}

func ptr[T any](v T) *T { return &v }

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// fixedSub returns an active fixed-quota subscription that passes every rule.
func fixedSub(id string, resetTimes int, lastReset *time.Time) *model.Subscription {
	return &model.Subscription{
		ID:             id,
		PlanType:       "MONTHLY",
		Category:       model.PlanCategoryFixed,
		PlanName:       "Pro",
		IsActive:       true,
		StatusLabel:    "active",
		RemainingDays:  ptr(20),
		CurrentCredits: 4.2,
		CreditLimit:    20,
		ResetTimes:     resetTimes,
		LastResetAt:    lastReset,
	}
}

func clone(s *model.Subscription) *model.Subscription {
	c := *s
	return &c
}

// =============================
// Adapters
// =============================

// ---- FakeGateway ----

type FakeGateway struct {
	mu   sync.Mutex
	mask string
	subs []*model.Subscription

	// FetchErrs are returned by successive FetchAll calls before the list is served.
	FetchErrs []error
	// ResetFunc overrides the reset answer.
	ResetFunc func(id string) (*adapter.ResetResult, error)
	// AfterReset mutates the stored snapshot after an accepted reset.
	AfterReset func(s *model.Subscription)

	Resets  []string
	Fetches int
}

var _ adapter.SubscriptionGateway = (*FakeGateway)(nil)

func NewFakeGateway(subs ...*model.Subscription) *FakeGateway {
	return &FakeGateway{mask: "sk-test...abcd", subs: subs}
}

// applyTypicalReset refills credits and consumes one reset.
func applyTypicalReset(s *model.Subscription) {
	s.CurrentCredits = s.CreditLimit
	s.ResetTimes--
}

func (g *FakeGateway) SetSubs(subs ...*model.Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = subs
}

func (g *FakeGateway) FetchAll(ctx context.Context) ([]*model.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Fetches++
	if len(g.FetchErrs) > 0 {
		err := g.FetchErrs[0]
		g.FetchErrs = g.FetchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([]*model.Subscription, 0, len(g.subs))
	for _, s := range g.subs {
		out = append(out, clone(s))
	}
	return out, nil
}

func (g *FakeGateway) ResetOne(ctx context.Context, id string) (*adapter.ResetResult, error) {
	g.mu.Lock()
	g.Resets = append(g.Resets, id)
	fn := g.ResetFunc
	g.mu.Unlock()

	if fn != nil {
		res, err := fn(id)
		if err != nil || !res.Success {
			return res, err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.AfterReset != nil {
		if s := model.FindSubscription(g.subs, id); s != nil {
			g.AfterReset(s)
		}
	}
	return &adapter.ResetResult{Success: true, Message: "ok"}, nil
}

func (g *FakeGateway) Ping(ctx context.Context) error { return nil }

func (g *FakeGateway) AccountMask() string { return g.mask }

func (g *FakeGateway) ResetCalls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.Resets))
	copy(out, g.Resets)
	return out
}

// ---- RecordingNotifier ----

type RecordingNotifier struct {
	mu      sync.Mutex
	Reports []*model.RunSummary
}

var _ adapter.Notifier = (*RecordingNotifier)(nil)

func (n *RecordingNotifier) Notify(ctx context.Context, report *model.RunSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Reports = append(n.Reports, report)
}

func (n *RecordingNotifier) All() []*model.RunSummary {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*model.RunSummary, len(n.Reports))
	copy(out, n.Reports)
	return out
}

// =============================
// Repositories
// =============================

// ---- memHistory ----

type memHistory struct {
	mu   sync.Mutex
	runs []*model.RunSummary
	err  error
}

var _ repository.HistoryRepository = (*memHistory)(nil)

func (h *memHistory) SaveRun(ctx context.Context, run *model.RunSummary) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.runs = append(h.runs, run)
	return nil
}

func (h *memHistory) ListRecent(ctx context.Context, days int) ([]*model.RunSummary, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*model.RunSummary(nil), h.runs...), nil
}

func (h *memHistory) Prune(ctx context.Context, keepDays int) (int64, error) { return 0, nil }

// ---- memRunState ----

type memRunState struct {
	mu        sync.Mutex
	ranToday  map[model.CheckpointKind]bool
	failures  int
	successes []*repository.ExecutionResult
	causes    []error
	readErr   error
}

var _ repository.RunStateRepository = (*memRunState)(nil)

func newMemRunState() *memRunState {
	return &memRunState{ranToday: map[model.CheckpointKind]bool{}}
}

func (m *memRunState) HasRunToday(ctx context.Context, kind model.CheckpointKind) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return false, m.readErr
	}
	return m.ranToday[kind], nil
}

func (m *memRunState) RecordSuccess(ctx context.Context, kind model.CheckpointKind, result *repository.ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ranToday[kind] = true
	m.successes = append(m.successes, result)
	return nil
}

func (m *memRunState) RecordFailure(ctx context.Context, kind model.CheckpointKind, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	m.causes = append(m.causes, cause)
	return nil
}

func (m *memRunState) RecentFailureCount(ctx context.Context, window time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures, nil
}

func (m *memRunState) Stats(ctx context.Context) (*repository.ExecutionStats, error) {
	return nil, errors.New("not implemented")
}
