// Package sched fires checkpoint runs at configured wall-clock times.
package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"credit-reset/internal/clock"
	"credit-reset/internal/config"
	"credit-reset/internal/domain"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/adapter"
	"credit-reset/internal/domain/ports/repository"
	portuc "credit-reset/internal/domain/ports/usecase"
	"credit-reset/internal/infra/logging"
	"credit-reset/internal/infra/metrics"
)

const pruneEntry = "HISTORY_PRUNE"

type TriggerConfig struct {
	FirstResetTime   string
	SecondResetTime  string
	LowBalanceTime   string
	EnableLowBalance bool
	HistoryPruneTime string
	HistoryKeepDays  int
	Location         *time.Location
}

// TriggerConfigFrom maps the schedule and database sections onto a TriggerConfig.
func TriggerConfigFrom(cfg *config.Config) TriggerConfig {
	return TriggerConfig{
		FirstResetTime:   cfg.Schedule.FirstResetTime,
		SecondResetTime:  cfg.Schedule.SecondResetTime,
		LowBalanceTime:   cfg.Schedule.LowBalanceTime,
		EnableLowBalance: cfg.Schedule.EnableLowBalance,
		HistoryPruneTime: cfg.Schedule.HistoryPruneTime,
		HistoryKeepDays:  cfg.Database.HistoryKeepDays,
		Location:         cfg.ScheduleLocation(),
	}
}

// Trigger owns the cron entries. Every firing runs under the checkpoint's lock.
type Trigger struct {
	runner  portuc.CheckpointRunner
	lock    adapter.Locker
	history repository.HistoryRepository
	cfg     TriggerConfig
	clock   clock.Clock
	cron    *cron.Cron
	log     *zerolog.Logger

	mu      sync.Mutex
	base    context.Context
	entries map[string]cron.EntryID
}

func NewTrigger(
	runner portuc.CheckpointRunner,
	lock adapter.Locker,
	history repository.HistoryRepository,
	clk clock.Clock,
	cfg TriggerConfig,
	logger *zerolog.Logger,
) (*Trigger, error) {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if history == nil {
		history = repository.NoopHistory{}
	}
	l := logger.With().Str("component", "Trigger").Logger()
	t := &Trigger{
		runner:  runner,
		lock:    lock,
		history: history,
		cfg:     cfg,
		clock:   clk,
		cron:    cron.New(cron.WithLocation(cfg.Location)),
		log:     &l,
		base:    context.Background(),
		entries: make(map[string]cron.EntryID),
	}

	if err := t.addCheckpoint(model.CheckpointFirst, cfg.FirstResetTime); err != nil {
		return nil, err
	}
	if err := t.addCheckpoint(model.CheckpointSecond, cfg.SecondResetTime); err != nil {
		return nil, err
	}
	if cfg.EnableLowBalance {
		if err := t.addCheckpoint(model.CheckpointLowBalance, cfg.LowBalanceTime); err != nil {
			return nil, err
		}
	}
	if cfg.HistoryPruneTime != "" && cfg.HistoryKeepDays > 0 {
		if err := t.add(pruneEntry, cfg.HistoryPruneTime, func() { t.PruneHistory(t.baseContext()) }); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func dailySpec(hhmm string) (string, error) {
	h, m, err := config.ParseClock(hhmm)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

func (t *Trigger) add(name, hhmm string, fn func()) error {
	spec, err := dailySpec(hhmm)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	id, err := t.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	t.entries[name] = id
	t.log.Info().Str("entry", name).Str("at", hhmm).Str("tz", t.cfg.Location.String()).Msg("cron entry registered")
	return nil
}

func (t *Trigger) addCheckpoint(kind model.CheckpointKind, hhmm string) error {
	return t.add(string(kind), hhmm, func() {
		if _, err := t.Run(t.baseContext(), kind); err != nil && !errors.Is(err, domain.ErrLockHeld) {
			t.log.Error().Err(err).Str("checkpoint", string(kind)).Msg("scheduled run failed")
		}
	})
}

func (t *Trigger) baseContext() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.base
}

// Start begins firing entries; ctx bounds every scheduled run.
func (t *Trigger) Start(ctx context.Context) {
	t.mu.Lock()
	t.base = ctx
	t.mu.Unlock()
	t.cron.Start()
	t.log.Info().Int("entries", len(t.entries)).Msg("trigger started")
}

// Stop prevents new firings and waits for running ones or ctx.
func (t *Trigger) Stop(ctx context.Context) error {
	done := t.cron.Stop()
	select {
	case <-done.Done():
		t.log.Info().Msg("trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes one checkpoint across all accounts under its lock. It returns
// domain.ErrLockHeld without running when another run holds the lock.
func (t *Trigger) Run(ctx context.Context, kind model.CheckpointKind) ([]*model.RunSummary, error) {
	ctx = logging.WithCheckpoint(ctx, string(kind))
	log := logging.With(ctx, t.log)

	release, err := t.lock.Acquire(ctx, kind.LockName())
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			metrics.IncLockContended(string(kind))
			metrics.IncCheckpointRun(string(kind), "skipped_locked")
			log.Warn().Msg("previous run still in progress, skipping")
		}
		return nil, err
	}
	defer release()

	start := t.clock.Now()
	log.Info().Msg("checkpoint run started")
	summaries := t.runner.Run(ctx, kind)
	elapsed := t.clock.Now().Sub(start)

	result := "ok"
	for _, s := range summaries {
		if s.Failure() {
			result = "failed"
			break
		}
	}
	metrics.IncCheckpointRun(string(kind), result)
	metrics.ObserveCheckpointDuration(string(kind), elapsed.Seconds())
	log.Info().Str("result", result).Int("accounts", len(summaries)).Dur("took", elapsed).Msg("checkpoint run finished")
	return summaries, nil
}

// PruneHistory drops runs older than the configured retention.
func (t *Trigger) PruneHistory(ctx context.Context) {
	n, err := t.history.Prune(ctx, t.cfg.HistoryKeepDays)
	if err != nil {
		t.log.Error().Err(err).Msg("history prune failed")
		return
	}
	t.log.Info().Int64("deleted", n).Msg("history prune done")
}

// NextRuns maps each entry name to its next fire time; zero before Start.
func (t *Trigger) NextRuns() map[string]time.Time {
	out := make(map[string]time.Time, len(t.entries))
	for name, id := range t.entries {
		out[name] = t.cron.Entry(id).Next
	}
	return out
}

// Kinds lists the checkpoints this trigger schedules.
func (t *Trigger) Kinds() []model.CheckpointKind {
	kinds := []model.CheckpointKind{model.CheckpointFirst, model.CheckpointSecond}
	if t.cfg.EnableLowBalance {
		kinds = append(kinds, model.CheckpointLowBalance)
	}
	return kinds
}
