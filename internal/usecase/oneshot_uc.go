// File: internal/usecase/oneshot_uc.go
package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"credit-reset/internal/domain"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/repository"
	portuc "credit-reset/internal/domain/ports/usecase"
)

// recentFailureWindow is how far back failures count against a single-shot run.
const recentFailureWindow = 24 * time.Hour

type OneShotOptions struct {
	// Force skips the already-ran-today and recent-failure guards.
	Force bool
	// DryRun skips the guards and does not record the execution.
	DryRun bool
	// Wait blocks until every deferred reset scheduled by the run has fired and
	// folds the fired outcomes into the result before it is recorded.
	Wait bool
}

// OneShotResult is what a single invocation produced.
type OneShotResult struct {
	Summaries []*model.RunSummary
	Totals    repository.ExecutionResult
}

// Failed reports whether any account errored or any subscription failed.
func (r *OneShotResult) Failed() bool {
	for _, s := range r.Summaries {
		if s.Failure() {
			return true
		}
	}
	return false
}

// Waiter blocks until deferred resets are done and reports each fired outcome.
type Waiter interface {
	WaitDelayed(ctx context.Context) error
	OnDelayedFired(fn func(*model.RunSummary))
}

// firedCollector gathers deferred fire summaries from the scheduler goroutines.
type firedCollector struct {
	mu        sync.Mutex
	summaries []*model.RunSummary
}

func (c *firedCollector) add(s *model.RunSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = append(c.summaries, s)
}

func (c *firedCollector) drain() []*model.RunSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.summaries
	c.summaries = nil
	return out
}

// foldDelayed moves each fired outcome out of Scheduled and into its final
// counter, and keeps the fire's summary so Failed sees it.
func (r *OneShotResult) foldDelayed(fired []*model.RunSummary) {
	for _, s := range fired {
		r.Summaries = append(r.Summaries, s)
		r.Totals.Scheduled -= s.OutcomeCount()
		if r.Totals.Scheduled < 0 {
			r.Totals.Scheduled = 0
		}
		r.Totals.Success += s.Success
		r.Totals.Failed += s.Failed
		r.Totals.Skipped += s.Skipped
	}
}

// OneShotUseCase runs a checkpoint once, for external schedulers that may fire
// more than once a day.
type OneShotUseCase struct {
	runner            portuc.CheckpointRunner
	waiter            Waiter
	state             repository.RunStateRepository
	maxRecentFailures int
	log               *zerolog.Logger
}

func NewOneShotUseCase(runner portuc.CheckpointRunner, waiter Waiter, state repository.RunStateRepository, maxRecentFailures int, logger *zerolog.Logger) *OneShotUseCase {
	l := logger.With().Str("component", "OneShotUseCase").Logger()
	return &OneShotUseCase{runner: runner, waiter: waiter, state: state, maxRecentFailures: maxRecentFailures, log: &l}
}

// Execute returns ErrAlreadyRanToday or ErrTooManyFailures when a guard refuses the run.
func (uc *OneShotUseCase) Execute(ctx context.Context, kind model.CheckpointKind, opts OneShotOptions) (*OneShotResult, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCheckpoint, kind)
	}
	guarded := !opts.Force && !opts.DryRun
	if guarded {
		ran, err := uc.state.HasRunToday(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("read run state: %w", err)
		}
		if ran {
			uc.log.Warn().Str("checkpoint", string(kind)).Msg("already executed today, use -force to run again")
			return nil, domain.ErrAlreadyRanToday
		}
	}
	if !opts.Force && uc.maxRecentFailures > 0 {
		n, err := uc.state.RecentFailureCount(ctx, recentFailureWindow)
		if err != nil {
			return nil, fmt.Errorf("read run state: %w", err)
		}
		if n >= uc.maxRecentFailures {
			uc.log.Error().Int("recent_failures", n).Msg("too many failures in the last 24h, fix the cause and retry with -force")
			return nil, fmt.Errorf("%w: %d in the last 24h", domain.ErrTooManyFailures, n)
		}
	}

	var fired *firedCollector
	if opts.Wait && uc.waiter != nil {
		fired = &firedCollector{}
		uc.waiter.OnDelayedFired(fired.add)
	}

	res := &OneShotResult{Summaries: uc.runner.Run(ctx, kind)}
	res.Totals.Accounts = len(res.Summaries)
	for _, s := range res.Summaries {
		res.Totals.Success += s.Success
		res.Totals.Failed += s.Failed
		res.Totals.Skipped += s.Skipped
		res.Totals.Scheduled += s.Scheduled
	}

	if opts.Wait && res.Totals.Scheduled > 0 && uc.waiter != nil {
		uc.log.Info().Int("scheduled", res.Totals.Scheduled).Msg("waiting for deferred resets")
		if err := uc.waiter.WaitDelayed(ctx); err != nil {
			uc.log.Warn().Err(err).Msg("stopped waiting for deferred resets")
		}
	}
	if fired != nil {
		res.foldDelayed(fired.drain())
	}

	if opts.DryRun {
		return res, nil
	}
	if res.Failed() {
		cause := fmt.Errorf("partial failure: %d succeeded, %d failed across %d accounts%s",
			res.Totals.Success, res.Totals.Failed, res.Totals.Accounts, fatalSuffix(res.Summaries))
		if err := uc.state.RecordFailure(ctx, kind, cause); err != nil {
			uc.log.Error().Err(err).Msg("recording failure failed")
		}
		return res, nil
	}
	if err := uc.state.RecordSuccess(ctx, kind, &res.Totals); err != nil {
		uc.log.Error().Err(err).Msg("recording success failed")
	}
	return res, nil
}

func fatalSuffix(summaries []*model.RunSummary) string {
	n := 0
	for _, s := range summaries {
		if s.Err != "" {
			n++
		}
	}
	if n == 0 {
		return ""
	}
	return fmt.Sprintf(", %d accounts aborted", n)
}
