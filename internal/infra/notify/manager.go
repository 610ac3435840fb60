// Package notify delivers run reports to the configured channels.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"credit-reset/internal/clock"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/adapter"
	"credit-reset/internal/infra/metrics"
)

// Channel is one delivery target.
type Channel interface {
	Name() string
	SendReport(ctx context.Context, r *model.RunSummary) error
	SendStartup(ctx context.Context, rep *adapter.StartupReport, at time.Time) error
}

var (
	_ adapter.Notifier        = (*Manager)(nil)
	_ adapter.StartupNotifier = (*Manager)(nil)
)

// Manager fans every report out to all channels concurrently. Sends are detached
// from the caller and bounded by timeout; failures are logged and counted only.
type Manager struct {
	channels []Channel
	timeout  time.Duration
	clock    clock.Clock
	log      *zerolog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func NewManager(channels []Channel, timeout time.Duration, clk clock.Clock, logger *zerolog.Logger) *Manager {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	l := logger.With().Str("component", "NotifyManager").Logger()
	names := make([]string, 0, len(channels))
	for _, c := range channels {
		names = append(names, c.Name())
	}
	l.Info().Strs("channels", names).Msg("notification channels ready")
	return &Manager{channels: channels, timeout: timeout, clock: clk, log: &l}
}

// Channels returns the names of the configured channels.
func (m *Manager) Channels() []string {
	out := make([]string, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, c.Name())
	}
	return out
}

// Notify records run metrics and dispatches the report. It never blocks on delivery.
func (m *Manager) Notify(ctx context.Context, r *model.RunSummary) {
	if r == nil {
		return
	}
	record(r)
	m.dispatch(ctx, "report", func(ctx context.Context, c Channel) error {
		return c.SendReport(ctx, r)
	})
}

func (m *Manager) NotifyStartup(ctx context.Context, rep *adapter.StartupReport) {
	if rep == nil {
		return
	}
	at := m.clock.Now()
	m.dispatch(ctx, "startup", func(ctx context.Context, c Channel) error {
		return c.SendStartup(ctx, rep, at)
	})
}

func (m *Manager) dispatch(ctx context.Context, kind string, send func(context.Context, Channel) error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.log.Warn().Str("kind", kind).Msg("notification dropped: manager closed")
		return
	}
	m.wg.Add(len(m.channels))
	m.mu.Unlock()

	base := context.WithoutCancel(ctx)
	for _, c := range m.channels {
		go func(c Channel) {
			defer m.wg.Done()
			sctx, cancel := context.WithTimeout(base, m.timeout)
			defer cancel()
			err := send(sctx, c)
			metrics.IncNotification(c.Name(), err == nil)
			if err != nil {
				m.log.Error().Err(err).Str("channel", c.Name()).Str("kind", kind).Msg("notification failed")
				return
			}
			m.log.Debug().Str("channel", c.Name()).Str("kind", kind).Msg("notification sent")
		}(c)
	}
}

// Close stops accepting reports and waits for in-flight sends or ctx.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func record(r *model.RunSummary) {
	checkpoint := string(r.Kind)
	for _, d := range r.Details {
		metrics.IncReset(checkpoint, string(d.Status), r.Delayed)
		if r.Delayed {
			metrics.IncDelayedFired(string(d.Status))
		}
	}
	for reason, n := range r.Excluded {
		metrics.AddSubscriptionsExcluded(checkpoint, reason, n)
	}
	if !r.Delayed && r.Err == "" {
		metrics.SetSubscriptionsSeen(r.AccountMask, r.Total)
	}
}
