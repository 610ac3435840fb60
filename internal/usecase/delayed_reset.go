// File: internal/usecase/delayed_reset.go
package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"credit-reset/internal/clock"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/adapter"
)

// Resetter executes one reset with verification.
type Resetter interface {
	Execute(ctx context.Context, sub *model.Subscription, kind model.CheckpointKind) *model.ResetDetail
}

var _ Resetter = (*ResetExecutor)(nil)

type DelayedResetConfig struct {
	Cooldown time.Duration
	// SafetyMargin is added to the cooldown end to absorb clock skew.
	SafetyMargin time.Duration
	// EndOfDayBuffer moves the latest allowed fire time before local midnight.
	EndOfDayBuffer time.Duration
	Location       *time.Location
}

type delayedEntry struct {
	task  model.ScheduledTask
	timer clock.Timer
	seq   uint64
}

// DelayedResetScheduler resets a subscription as soon as its cooldown expires, later
// on the same local day, without blocking the checkpoint run that asked for it.
// It owns the registry of armed fires; a subscription has at most one.
type DelayedResetScheduler struct {
	baseCtx  context.Context
	gw       adapter.SubscriptionGateway
	exec     Resetter
	notifier adapter.Notifier
	clock    clock.Clock
	cfg      DelayedResetConfig
	log      *zerolog.Logger

	mu      sync.Mutex
	tasks   map[string]*delayedEntry
	seq     uint64
	wg      sync.WaitGroup
	onFired []func(*model.RunSummary)
}

// NewDelayedResetScheduler builds a scheduler. Fires run under ctx, not under the
// context of the run that scheduled them; cancel ctx at shutdown.
func NewDelayedResetScheduler(
	ctx context.Context,
	gw adapter.SubscriptionGateway,
	exec Resetter,
	notifier adapter.Notifier,
	clk clock.Clock,
	cfg DelayedResetConfig,
	logger *zerolog.Logger,
) *DelayedResetScheduler {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	l := logger.With().Str("component", "DelayedResetScheduler").Str("account", gw.AccountMask()).Logger()
	return &DelayedResetScheduler{
		baseCtx:  ctx,
		gw:       gw,
		exec:     exec,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
		log:      &l,
		tasks:    make(map[string]*delayedEntry),
	}
}

// Handle resets now when the cooldown has passed, otherwise arms a fire for the
// cooldown end and returns SCHEDULED at once. A fire that would land after the
// end of the local day is refused with SKIPPED.
func (s *DelayedResetScheduler) Handle(ctx context.Context, sub *model.Subscription, kind model.CheckpointKind) *model.ResetDetail {
	now := s.clock.Now()
	if model.CooldownPassed(sub.LastResetAt, now, s.cfg.Cooldown) {
		return s.exec.Execute(ctx, sub, kind)
	}

	log := s.log.With().Str("subscription_id", sub.ID).Str("checkpoint", string(kind)).Logger()
	cooldownEnd := model.CooldownEnd(sub.LastResetAt, s.cfg.Cooldown)
	fireAt := cooldownEnd.Add(s.cfg.SafetyMargin)
	endOfDay := model.EndOfDay(now, s.cfg.Location, s.cfg.EndOfDayBuffer)

	d := model.NewResetDetail(sub)
	if fireAt.After(endOfDay) {
		d.Status = model.ResetStatusSkipped
		d.Reason = model.SkipReasonCrossMidnight
		d.Message = fmt.Sprintf("deferred reset at %s would cross midnight, skipped to keep tomorrow's quota",
			fireAt.In(s.cfg.Location).Format("2006-01-02 15:04:05"))
		log.Warn().Time("last_reset", *sub.LastResetAt).Time("fire_at", fireAt).Msg("deferral would cross midnight, skipped")
		return d
	}

	task := model.ScheduledTask{
		Key:            model.DelayedTaskKey(sub.ID),
		SubscriptionID: sub.ID,
		Kind:           kind,
		FireAt:         fireAt,
		CreatedAt:      now,
	}
	delay := fireAt.Sub(now)
	if delay < 0 {
		delay = 0
	}
	s.arm(task, sub.Label(), delay)

	at := fireAt
	d.Status = model.ResetStatusScheduled
	d.ScheduledAt = &at
	d.Message = fmt.Sprintf("deferred reset scheduled at %s", fireAt.In(s.cfg.Location).Format("2006-01-02 15:04:05"))
	log.Info().Time("fire_at", fireAt).Str("in", model.FormatDuration(delay)).Msgf("%s cooling down, deferred reset scheduled", sub.Label())
	return d
}

// arm registers task, cancelling any fire already armed under the same key.
func (s *DelayedResetScheduler) arm(task model.ScheduledTask, label string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tasks[task.Key]; ok {
		if old.timer.Stop() {
			s.wg.Done()
		}
		delete(s.tasks, task.Key)
		s.log.Info().Str("key", task.Key).Msg("replaced pending deferred reset")
	}

	s.seq++
	e := &delayedEntry{task: task, seq: s.seq}
	seq := s.seq
	s.wg.Add(1)
	e.timer = s.clock.AfterFunc(delay, func() { s.fire(task, label, seq) })
	s.tasks[task.Key] = e
}

func (s *DelayedResetScheduler) fire(task model.ScheduledTask, label string, seq uint64) {
	defer s.wg.Done()
	defer s.deregister(task.Key, seq)

	ctx := s.baseCtx
	if ctx.Err() != nil {
		return
	}
	log := s.log.With().Str("subscription_id", task.SubscriptionID).Str("checkpoint", string(task.Kind)).Logger()
	log.Info().Msgf("%s running deferred reset", label)

	subs, err := s.gw.FetchAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Msg("deferred reset: fetching subscriptions failed")
		d := &model.ResetDetail{
			SubscriptionID: task.SubscriptionID,
			Status:         model.ResetStatusFailed,
			Message:        err.Error(),
			Error:          err.Error(),
		}
		s.report(ctx, model.NewDelayedSummary(task.Kind, s.gw.AccountMask(), s.clock.Now(), d))
		return
	}

	latest := model.FindSubscription(subs, task.SubscriptionID)
	if latest == nil {
		log.Error().Msg("deferred reset: subscription no longer exists, dropped")
		return
	}
	if latest.Malformed() {
		log.Error().Str("error", latest.DecodeError).Msg("deferred reset: subscription record unreadable, dropped")
		return
	}

	d := s.exec.Execute(ctx, latest, task.Kind)
	s.report(ctx, model.NewDelayedSummary(task.Kind, s.gw.AccountMask(), s.clock.Now(), d))
}

// OnFired registers fn to receive the summary of every fire that produced an
// outcome. fn runs on the fire's goroutine before Wait can return.
func (s *DelayedResetScheduler) OnFired(fn func(*model.RunSummary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFired = append(s.onFired, fn)
}

func (s *DelayedResetScheduler) report(ctx context.Context, summary *model.RunSummary) {
	s.notifier.Notify(ctx, summary)
	s.mu.Lock()
	observers := append([]func(*model.RunSummary){}, s.onFired...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(summary)
	}
}

// deregister removes key only if it still belongs to the fire identified by seq,
// so a fire that raced with its replacement cannot drop the new task.
func (s *DelayedResetScheduler) deregister(key string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.tasks[key]; ok && e.seq == seq {
		delete(s.tasks, key)
	}
}

// Pending lists armed tasks ordered by fire time.
func (s *DelayedResetScheduler) Pending() []model.ScheduledTask {
	s.mu.Lock()
	out := make([]model.ScheduledTask, 0, len(s.tasks))
	for _, e := range s.tasks {
		out = append(out, e.task)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

func (s *DelayedResetScheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *DelayedResetScheduler) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// CancelAll stops every armed fire without running it. Fires already running finish.
func (s *DelayedResetScheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, e := range s.tasks {
		if e.timer.Stop() {
			s.wg.Done()
			n++
		}
		delete(s.tasks, key)
	}
	if n > 0 {
		s.log.Info().Int("cancelled", n).Msg("pending deferred resets cancelled")
	}
	return n
}

// Wait blocks until every armed fire has run or been cancelled, or ctx is done.
func (s *DelayedResetScheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
