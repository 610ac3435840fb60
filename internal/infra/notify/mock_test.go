//go:build !integration

package notify

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"credit-reset/internal/config"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/adapter"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// fakeChannel records what it was asked to send.
type fakeChannel struct {
	name    string
	err     error
	block   chan struct{}
	mu      sync.Mutex
	reports []*model.RunSummary
	starts  []*adapter.StartupReport
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) SendReport(ctx context.Context, r *model.RunSummary) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.reports = append(f.reports, r)
	f.mu.Unlock()
	return f.err
}

func (f *fakeChannel) SendStartup(_ context.Context, rep *adapter.StartupReport, _ time.Time) error {
	f.mu.Lock()
	f.starts = append(f.starts, rep)
	f.mu.Unlock()
	return f.err
}

func (f *fakeChannel) reportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

var cst = time.FixedZone("CST", 8*3600)

func sampleSummary() *model.RunSummary {
	start := time.Date(2026, 3, 10, 18, 55, 0, 0, cst)
	after := 100.0
	afterTimes := 1
	fire := start.Add(2 * time.Hour)
	s := model.NewRunSummary(model.CheckpointSecond, "sk-ab123...wxyz", start)
	s.Total = 5
	s.Eligible = 3
	s.Add(&model.ResetDetail{
		SubscriptionID: "1", SubscriptionName: "Pro <team>", Status: model.ResetStatusSuccess,
		BeforeCredits: 3.5, AfterCredits: &after, BeforeResetTimes: 2, AfterResetTimes: &afterTimes,
		Verified: true, Message: "reset succeeded",
	})
	s.Add(&model.ResetDetail{
		SubscriptionID: "2", SubscriptionName: "Plus", Status: model.ResetStatusFailed,
		Message: "reset-credits: http 500",
	})
	s.Add(&model.ResetDetail{
		SubscriptionID: "3", SubscriptionName: "Basic", Status: model.ResetStatusScheduled,
		ScheduledAt: &fire, Message: "deferred reset scheduled at 2026-03-10 20:55:01",
	})
	s.Exclude("METERED_PLAN")
	s.Finish(start.Add(5 * time.Second))
	return s
}

func sampleStartup() *adapter.StartupReport {
	days := 12
	return &adapter.StartupReport{
		Accounts: 1,
		Subscriptions: []*model.Subscription{
			{ID: "1", PlanName: "Pro", IsActive: true, CurrentCredits: 10, CreditLimit: 100, ResetTimes: 2, RemainingDays: &days},
			{ID: "2", PlanName: "Old", IsActive: false, CurrentCredits: 0, CreditLimit: 50},
		},
	}
}

func sampleNotifyConfig(dir string) config.NotifyConfig {
	var cfg config.NotifyConfig
	cfg.Telegram.Enabled = true // no token: skipped
	cfg.LocalFile.Enabled = true
	cfg.LocalFile.Dir = dir
	cfg.Timeout = time.Second
	return cfg
}
