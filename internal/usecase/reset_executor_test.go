package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit-reset/internal/clock/clocktest"
	"credit-reset/internal/domain"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/adapter"
	"credit-reset/internal/usecase"
)

func newExecutor(gw *FakeGateway, clk *clocktest.Fake, dryRun bool) *usecase.ResetExecutor {
	return usecase.NewResetExecutor(gw, clk, usecase.ResetExecutorConfig{
		VerificationWait: 3 * time.Second,
		DryRun:           dryRun,
	}, newTestLogger())
}

func TestResetExecutor_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("should verify a reset that changed credits and reset times", func(t *testing.T) {
		sub := fixedSub("7", 2, nil)
		gw := NewFakeGateway(clone(sub))
		gw.AfterReset = applyTypicalReset
		clk := clocktest.NewFake(at(18, 55, 0))

		d := newExecutor(gw, clk, false).Execute(ctx, sub, model.CheckpointFirst)

		assert.Equal(t, model.ResetStatusSuccess, d.Status)
		assert.True(t, d.Verified)
		assert.False(t, d.CrossDayRefill)
		require.NotNil(t, d.AfterCredits)
		assert.Equal(t, 20.0, *d.AfterCredits)
		assert.Equal(t, 1, *d.AfterResetTimes)
		assert.Equal(t, []string{"7"}, gw.ResetCalls())
		assert.Equal(t, []time.Duration{3 * time.Second}, clk.Sleeps())
	})

	t.Run("should skip a reset with no observable effect", func(t *testing.T) {
		sub := fixedSub("7", 2, nil)
		gw := NewFakeGateway(clone(sub))
		gw.AfterReset = func(s *model.Subscription) { s.CurrentCredits += 0.005 }

		d := newExecutor(gw, clocktest.NewFake(at(18, 55, 0)), false).Execute(ctx, sub, model.CheckpointFirst)

		assert.Equal(t, model.ResetStatusSkipped, d.Status)
		assert.Equal(t, model.SkipReasonNoEffect, d.Reason)
	})

	t.Run("should flag a cross-day refill when reset times went up", func(t *testing.T) {
		sub := fixedSub("7", 1, nil)
		gw := NewFakeGateway(clone(sub))
		gw.AfterReset = func(s *model.Subscription) {
			s.CurrentCredits = s.CreditLimit
			s.ResetTimes = 2
		}

		d := newExecutor(gw, clocktest.NewFake(at(0, 1, 0)), false).Execute(ctx, sub, model.CheckpointLowBalance)

		assert.Equal(t, model.ResetStatusSuccess, d.Status)
		assert.True(t, d.CrossDayRefill)
		assert.Contains(t, d.Message, "cross-day refill")
	})

	t.Run("should report unverified success when the record vanished", func(t *testing.T) {
		sub := fixedSub("7", 2, nil)
		gw := NewFakeGateway(clone(sub))
		gw.AfterReset = func(*model.Subscription) { gw.subs = nil }

		d := newExecutor(gw, clocktest.NewFake(at(18, 55, 0)), false).Execute(ctx, sub, model.CheckpointFirst)

		assert.Equal(t, model.ResetStatusSuccess, d.Status)
		assert.False(t, d.Verified)
		assert.Contains(t, d.Message, "unverified")
	})

	t.Run("should fail when the verification fetch fails", func(t *testing.T) {
		sub := fixedSub("7", 2, nil)
		gw := NewFakeGateway(clone(sub))
		gw.FetchErrs = []error{errors.New("boom")}

		d := newExecutor(gw, clocktest.NewFake(at(18, 55, 0)), false).Execute(ctx, sub, model.CheckpointFirst)

		assert.Equal(t, model.ResetStatusFailed, d.Status)
		assert.False(t, d.Verified)
		assert.Equal(t, "boom", d.Error)
		assert.Contains(t, d.Message, "verification fetch failed")
		assert.Equal(t, []string{"7"}, gw.ResetCalls())
	})

	t.Run("should report unverified success when the record is unreadable after reset", func(t *testing.T) {
		sub := fixedSub("7", 2, nil)
		gw := NewFakeGateway(clone(sub))
		gw.AfterReset = func(*model.Subscription) {
			gw.subs = []*model.Subscription{{ID: "7", DecodeError: "bad isActive"}}
		}

		d := newExecutor(gw, clocktest.NewFake(at(18, 55, 0)), false).Execute(ctx, sub, model.CheckpointFirst)

		assert.Equal(t, model.ResetStatusSuccess, d.Status)
		assert.False(t, d.Verified)
		assert.Nil(t, d.AfterCredits)
		assert.Contains(t, d.Message, "unverified")
	})

	t.Run("should fail on a declared failure without verifying", func(t *testing.T) {
		sub := fixedSub("7", 2, nil)
		gw := NewFakeGateway(clone(sub))
		gw.ResetFunc = func(string) (*adapter.ResetResult, error) {
			return &adapter.ResetResult{Success: false, Message: "not allowed"}, nil
		}
		clk := clocktest.NewFake(at(18, 55, 0))

		d := newExecutor(gw, clk, false).Execute(ctx, sub, model.CheckpointFirst)

		assert.Equal(t, model.ResetStatusFailed, d.Status)
		assert.Equal(t, "not allowed", d.Message)
		assert.Contains(t, d.Error, domain.ErrResetRejected.Error())
		assert.Contains(t, d.Error, "not allowed")
		assert.Zero(t, gw.Fetches)
		assert.Empty(t, clk.Sleeps())
	})

	t.Run("should fail on a transport error", func(t *testing.T) {
		sub := fixedSub("7", 2, nil)
		gw := NewFakeGateway(clone(sub))
		gw.ResetFunc = func(string) (*adapter.ResetResult, error) { return nil, errors.New("connection reset") }

		d := newExecutor(gw, clocktest.NewFake(at(18, 55, 0)), false).Execute(ctx, sub, model.CheckpointFirst)

		assert.Equal(t, model.ResetStatusFailed, d.Status)
		assert.Equal(t, "connection reset", d.Error)
	})

	t.Run("should not call the api in dry-run", func(t *testing.T) {
		sub := fixedSub("7", 2, nil)
		gw := NewFakeGateway(clone(sub))

		d := newExecutor(gw, clocktest.NewFake(at(18, 55, 0)), true).Execute(ctx, sub, model.CheckpointFirst)

		assert.Equal(t, model.ResetStatusSkipped, d.Status)
		assert.Equal(t, model.SkipReasonDryRun, d.Reason)
		assert.Empty(t, gw.ResetCalls())
	})
}
