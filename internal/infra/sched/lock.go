package sched

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"credit-reset/internal/clock"
	"credit-reset/internal/domain"
	"credit-reset/internal/domain/ports/adapter"
)

var _ adapter.Locker = (*ExecutionLock)(nil)

// ExecutionLock is the single-process lock: at most one run per checkpoint name.
type ExecutionLock struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock clock.Clock
	log   *zerolog.Logger
}

func NewExecutionLock(clk clock.Clock, logger *zerolog.Logger) *ExecutionLock {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	l := logger.With().Str("component", "ExecutionLock").Logger()
	return &ExecutionLock{held: make(map[string]time.Time), clock: clk, log: &l}
}

func (l *ExecutionLock) Acquire(_ context.Context, name string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if since, ok := l.held[name]; ok {
		l.log.Warn().Str("lock", name).Time("held_since", since).Msg("lock already held")
		return nil, domain.ErrLockHeld
	}
	l.held[name] = l.clock.Now()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, nil
}

func (l *ExecutionLock) Locked(_ context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[name]
	return ok, nil
}
