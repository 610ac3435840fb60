//go:build !integration

package sched

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"credit-reset/internal/config"
	"credit-reset/internal/domain/model"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// fakeRunner returns one summary per call and can block until released.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []model.CheckpointKind
	failed  bool
	started chan struct{}
	release chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, kind model.CheckpointKind) []*model.RunSummary {
	f.mu.Lock()
	f.calls = append(f.calls, kind)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	s := model.NewRunSummary(kind, "mask", time.Now())
	if f.failed {
		s.Err = "fetch failed"
	}
	return []*model.RunSummary{s}
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeHistory struct {
	mu       sync.Mutex
	keepDays []int
}

func (h *fakeHistory) SaveRun(context.Context, *model.RunSummary) error { return nil }
func (h *fakeHistory) ListRecent(context.Context, int) ([]*model.RunSummary, error) {
	return nil, nil
}
func (h *fakeHistory) Prune(_ context.Context, keepDays int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.keepDays = append(h.keepDays, keepDays)
	return 3, nil
}

func configForTest() *config.Config {
	cfg := config.Default()
	return cfg
}
