//go:build !integration

package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit-reset/internal/domain"
	"credit-reset/internal/domain/model"
)

var cst = time.FixedZone("CST", 8*3600)

func baseConfig() TriggerConfig {
	return TriggerConfig{
		FirstResetTime:   "18:55",
		SecondResetTime:  "23:55",
		LowBalanceTime:   "00:01",
		EnableLowBalance: true,
		HistoryPruneTime: "03:30",
		HistoryKeepDays:  90,
		Location:         cst,
	}
}

func TestExecutionLock(t *testing.T) {
	ctx := context.Background()
	l := NewExecutionLock(nil, newTestLogger())

	release, err := l.Acquire(ctx, "first-reset")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "first-reset")
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	other, err := l.Acquire(ctx, "second-reset")
	require.NoError(t, err)
	other()

	held, _ := l.Locked(ctx, "first-reset")
	assert.True(t, held)

	release()
	release()
	held, _ = l.Locked(ctx, "first-reset")
	assert.False(t, held)

	again, err := l.Acquire(ctx, "first-reset")
	require.NoError(t, err)
	again()
}

func TestNewTrigger(t *testing.T) {
	t.Run("should register every enabled entry", func(t *testing.T) {
		tr, err := NewTrigger(&fakeRunner{}, NewExecutionLock(nil, newTestLogger()), &fakeHistory{}, nil, baseConfig(), newTestLogger())
		require.NoError(t, err)

		next := tr.NextRuns()
		assert.Len(t, next, 4)
		assert.Contains(t, next, "FIRST")
		assert.Contains(t, next, "LOW_BALANCE")
		assert.Contains(t, next, pruneEntry)
		assert.Equal(t, []model.CheckpointKind{model.CheckpointFirst, model.CheckpointSecond, model.CheckpointLowBalance}, tr.Kinds())
	})

	t.Run("should skip low balance when disabled", func(t *testing.T) {
		cfg := baseConfig()
		cfg.EnableLowBalance = false
		cfg.HistoryKeepDays = 0
		tr, err := NewTrigger(&fakeRunner{}, NewExecutionLock(nil, newTestLogger()), nil, nil, cfg, newTestLogger())
		require.NoError(t, err)
		assert.Len(t, tr.NextRuns(), 2)
	})

	t.Run("should reject malformed times", func(t *testing.T) {
		cfg := baseConfig()
		cfg.SecondResetTime = "25:99"
		_, err := NewTrigger(&fakeRunner{}, NewExecutionLock(nil, newTestLogger()), nil, nil, cfg, newTestLogger())
		assert.Error(t, err)
	})

	t.Run("should compute next fire times in the schedule zone after start", func(t *testing.T) {
		tr, err := NewTrigger(&fakeRunner{}, NewExecutionLock(nil, newTestLogger()), nil, nil, baseConfig(), newTestLogger())
		require.NoError(t, err)
		tr.Start(context.Background())
		defer func() { _ = tr.Stop(context.Background()) }()

		next := tr.NextRuns()["FIRST"].In(cst)
		assert.Equal(t, 18, next.Hour())
		assert.Equal(t, 55, next.Minute())
	})

	t.Run("should build from config", func(t *testing.T) {
		cfg := TriggerConfigFrom(configForTest())
		assert.Equal(t, "18:55", cfg.FirstResetTime)
		assert.Equal(t, 90, cfg.HistoryKeepDays)
		assert.NotNil(t, cfg.Location)
	})
}

func TestTrigger_Run(t *testing.T) {
	t.Run("should run the checkpoint under its lock", func(t *testing.T) {
		lock := NewExecutionLock(nil, newTestLogger())
		runner := &fakeRunner{}
		tr, err := NewTrigger(runner, lock, nil, nil, baseConfig(), newTestLogger())
		require.NoError(t, err)

		out, err := tr.Run(context.Background(), model.CheckpointSecond)
		require.NoError(t, err)
		assert.Len(t, out, 1)
		assert.Equal(t, 1, runner.callCount())

		held, _ := lock.Locked(context.Background(), model.CheckpointSecond.LockName())
		assert.False(t, held, "lock must be released after the run")
	})

	t.Run("should skip when the same checkpoint is already running", func(t *testing.T) {
		runner := &fakeRunner{started: make(chan struct{}), release: make(chan struct{})}
		tr, err := NewTrigger(runner, NewExecutionLock(nil, newTestLogger()), nil, nil, baseConfig(), newTestLogger())
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			_, err := tr.Run(context.Background(), model.CheckpointFirst)
			done <- err
		}()
		<-runner.started

		_, err = tr.Run(context.Background(), model.CheckpointFirst)
		assert.ErrorIs(t, err, domain.ErrLockHeld)

		close(runner.release)
		require.NoError(t, <-done)
		assert.Equal(t, 1, runner.callCount())
	})

	t.Run("should still report failed runs", func(t *testing.T) {
		runner := &fakeRunner{failed: true}
		tr, err := NewTrigger(runner, NewExecutionLock(nil, newTestLogger()), nil, nil, baseConfig(), newTestLogger())
		require.NoError(t, err)

		out, err := tr.Run(context.Background(), model.CheckpointFirst)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.True(t, out[0].Failure())
	})
}

func TestTrigger_PruneHistory(t *testing.T) {
	h := &fakeHistory{}
	tr, err := NewTrigger(&fakeRunner{}, NewExecutionLock(nil, newTestLogger()), h, nil, baseConfig(), newTestLogger())
	require.NoError(t, err)

	tr.PruneHistory(context.Background())
	assert.Equal(t, []int{90}, h.keepDays)
}
