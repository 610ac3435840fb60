// File: internal/usecase/fleet_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/adapter"
	portuc "credit-reset/internal/domain/ports/usecase"
)

// Account bundles the per-key components. Accounts share the rate limiter and notifier.
type Account struct {
	Gateway    adapter.SubscriptionGateway
	Checkpoint *CheckpointUseCase
	Delayed    *DelayedResetScheduler
}

var (
	_ portuc.CheckpointRunner      = (*Fleet)(nil)
	_ portuc.DelayedResetInspector = (*Fleet)(nil)
	_ portuc.StartupReporter       = (*Fleet)(nil)
)

// Fleet runs checkpoints over every configured account, one account at a time.
type Fleet struct {
	accounts []*Account
	log      *zerolog.Logger
}

func NewFleet(accounts []*Account, logger *zerolog.Logger) *Fleet {
	l := logger.With().Str("component", "Fleet").Logger()
	return &Fleet{accounts: accounts, log: &l}
}

func (f *Fleet) Accounts() []string {
	out := make([]string, 0, len(f.accounts))
	for _, a := range f.accounts {
		out = append(out, a.Gateway.AccountMask())
	}
	return out
}

// Run processes the accounts serially so they never compete for the shared limiter.
func (f *Fleet) Run(ctx context.Context, kind model.CheckpointKind) []*model.RunSummary {
	out := make([]*model.RunSummary, 0, len(f.accounts))
	for i, a := range f.accounts {
		f.log.Info().Int("account_index", i+1).Int("accounts", len(f.accounts)).
			Str("account", a.Gateway.AccountMask()).Str("checkpoint", string(kind)).Msg("processing account")
		out = append(out, a.Checkpoint.Run(ctx, kind))
	}
	return out
}

func (f *Fleet) PendingDelayed() []model.ScheduledTask {
	var out []model.ScheduledTask
	for _, a := range f.accounts {
		if a.Delayed != nil {
			out = append(out, a.Delayed.Pending()...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

func (f *Fleet) PendingCount() int {
	n := 0
	for _, a := range f.accounts {
		if a.Delayed != nil {
			n += a.Delayed.Count()
		}
	}
	return n
}

func (f *Fleet) CancelAllDelayed() int {
	n := 0
	for _, a := range f.accounts {
		if a.Delayed != nil {
			n += a.Delayed.CancelAll()
		}
	}
	return n
}

// OnDelayedFired registers fn with every account's deferred scheduler.
func (f *Fleet) OnDelayedFired(fn func(*model.RunSummary)) {
	for _, a := range f.accounts {
		if a.Delayed != nil {
			a.Delayed.OnFired(fn)
		}
	}
}

func (f *Fleet) WaitDelayed(ctx context.Context) error {
	for _, a := range f.accounts {
		if a.Delayed == nil {
			continue
		}
		if err := a.Delayed.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Startup pings every account and collects the subscriptions it sees. Accounts that
// fail are logged and left out; it errors only when no account answered.
func (f *Fleet) Startup(ctx context.Context) (*adapter.StartupReport, error) {
	report := &adapter.StartupReport{}
	var errs []error
	for _, a := range f.accounts {
		mask := a.Gateway.AccountMask()
		if err := a.Gateway.Ping(ctx); err != nil {
			f.log.Error().Err(err).Str("account", mask).Msg("connection test failed")
			errs = append(errs, fmt.Errorf("%s: %w", mask, err))
			continue
		}
		subs, err := a.Gateway.FetchAll(ctx)
		if err != nil {
			f.log.Error().Err(err).Str("account", mask).Msg("fetching subscriptions failed")
			errs = append(errs, fmt.Errorf("%s: %w", mask, err))
			continue
		}
		report.Accounts++
		report.Subscriptions = append(report.Subscriptions, subs...)
		for _, s := range subs {
			ev := f.log.Info().Str("account", mask).Str("subscription_id", s.ID).Str("plan", s.PlanName).
				Bool("active", s.IsActive).Int("reset_times", s.ResetTimes).
				Float64("credits", s.CurrentCredits).Float64("credit_limit", s.CreditLimit)
			if s.LastResetAt != nil {
				ev = ev.Time("last_reset", *s.LastResetAt)
			}
			ev.Msg("subscription")
		}
	}
	if report.Accounts == 0 && len(errs) > 0 {
		return report, errors.Join(errs...)
	}
	return report, nil
}
