// File: internal/usecase/checkpoint_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"credit-reset/internal/clock"
	"credit-reset/internal/domain"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/adapter"
	"credit-reset/internal/domain/ports/repository"
	"credit-reset/internal/infra/logging"
)

// Deferrer decides between an immediate and a deferred reset.
type Deferrer interface {
	Handle(ctx context.Context, sub *model.Subscription, kind model.CheckpointKind) *model.ResetDetail
}

var _ Deferrer = (*DelayedResetScheduler)(nil)

type CheckpointConfig struct {
	// RequestInterval is the pause between two processed subscriptions.
	RequestInterval time.Duration
	DryRun          bool
}

// CheckpointUseCase drives one checkpoint run for one account.
type CheckpointUseCase struct {
	gw         adapter.SubscriptionGateway
	classifier *Classifier
	exec       Resetter
	deferrer   Deferrer
	notifier   adapter.Notifier
	history    repository.HistoryRepository
	clock      clock.Clock
	cfg        CheckpointConfig
	log        *zerolog.Logger
}

func NewCheckpointUseCase(
	gw adapter.SubscriptionGateway,
	classifier *Classifier,
	exec Resetter,
	deferrer Deferrer,
	notifier adapter.Notifier,
	history repository.HistoryRepository,
	clk clock.Clock,
	cfg CheckpointConfig,
	logger *zerolog.Logger,
) *CheckpointUseCase {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if history == nil {
		history = repository.NoopHistory{}
	}
	l := logger.With().Str("component", "CheckpointUseCase").Str("account", gw.AccountMask()).Logger()
	return &CheckpointUseCase{
		gw:         gw,
		classifier: classifier,
		exec:       exec,
		deferrer:   deferrer,
		notifier:   notifier,
		history:    history,
		clock:      clk,
		cfg:        cfg,
		log:        &l,
	}
}

// Run fetches once, classifies every subscription and processes the eligible ones
// serially in gateway order. It never returns an error: a failed fetch is reported
// in RunSummary.Err with zero counts.
func (uc *CheckpointUseCase) Run(ctx context.Context, kind model.CheckpointKind) *model.RunSummary {
	start := uc.clock.Now()
	summary := model.NewRunSummary(kind, uc.gw.AccountMask(), start)
	summary.DryRun = uc.cfg.DryRun

	ctx = logging.WithRunID(logging.WithCheckpoint(ctx, string(kind)), summary.ID)
	log := logging.With(ctx, uc.log)
	defer logging.TraceDuration(log, "CheckpointUseCase.Run")()

	if !kind.Valid() {
		summary.Err = fmt.Sprintf("%v: %q", domain.ErrUnknownCheckpoint, kind)
		return uc.finish(ctx, log, summary)
	}
	log.Info().Bool("dry_run", uc.cfg.DryRun).Msgf("%s started", kind.Label())

	subs, err := uc.gw.FetchAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("fetching subscriptions failed, run aborted")
		summary.Err = err.Error()
		return uc.finish(ctx, log, summary)
	}
	summary.Total = len(subs)

	eligible := make([]*model.Subscription, 0, len(subs))
	for _, sub := range subs {
		res := uc.classifier.Classify(sub, kind, start)
		if !res.Eligible {
			summary.Exclude(string(res.Reason))
			ev := log.Info()
			if res.Reason == ReasonMeteredPlan {
				ev = log.Warn()
			}
			ev.Str("subscription_id", subIDOf(sub)).Str("reason", string(res.Reason)).Msg(res.Detail)
			continue
		}
		eligible = append(eligible, sub)
	}
	summary.Eligible = len(eligible)
	log.Info().Int("total", summary.Total).Int("eligible", summary.Eligible).Msg("subscriptions classified")

	deferrable := kind.Policy().Deferrable && uc.deferrer != nil
	for i, sub := range eligible {
		if err := ctx.Err(); err != nil {
			summary.Add(cancelledDetail(sub, err))
			continue
		}

		var d *model.ResetDetail
		if deferrable {
			d = uc.deferrer.Handle(ctx, sub, kind)
		} else {
			d = uc.exec.Execute(ctx, sub, kind)
		}
		summary.Add(d)

		if i < len(eligible)-1 {
			_ = uc.clock.Sleep(ctx, uc.cfg.RequestInterval)
		}
	}

	return uc.finish(ctx, log, summary)
}

func (uc *CheckpointUseCase) finish(ctx context.Context, log *zerolog.Logger, summary *model.RunSummary) *model.RunSummary {
	summary.Finish(uc.clock.Now())
	log.Info().
		Int("success", summary.Success).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Int("scheduled", summary.Scheduled).
		Dur("duration", summary.Duration()).
		Msgf("%s finished", summary.Kind.Label())

	// history and notification must not be lost when the run itself was cancelled
	bg := context.WithoutCancel(ctx)
	if err := uc.history.SaveRun(bg, summary); err != nil {
		log.Error().Err(err).Msg("saving run history failed")
	}
	uc.notifier.Notify(bg, summary)
	return summary
}

func cancelledDetail(sub *model.Subscription, cause error) *model.ResetDetail {
	d := model.NewResetDetail(sub)
	d.Status = model.ResetStatusFailed
	d.Message = "run cancelled before this subscription was processed"
	if errors.Is(cause, context.DeadlineExceeded) {
		d.Message = "run deadline exceeded before this subscription was processed"
	}
	d.Error = cause.Error()
	return d
}

func subIDOf(sub *model.Subscription) string {
	if sub == nil {
		return ""
	}
	return sub.ID
}
