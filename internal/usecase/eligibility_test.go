package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"credit-reset/internal/domain/model"
	"credit-reset/internal/usecase"
)

func newClassifier(exclude ...string) *usecase.Classifier {
	return usecase.NewClassifier(usecase.ClassifierConfig{
		Cooldown:            5 * time.Hour,
		LowBalanceThreshold: 1,
		ExcludePlanNames:    exclude,
	})
}

func TestClassifier_Precedence(t *testing.T) {
	now := at(18, 55, 0)
	recent := ptr(now.Add(-time.Hour))

	tests := []struct {
		name   string
		sub    func() *model.Subscription
		kind   model.CheckpointKind
		want   bool
		reason usecase.EligibilityReason
	}{
		{
			name: "should accept an ideal subscription at FIRST",
			sub:  func() *model.Subscription { return fixedSub("1", 2, nil) },
			kind: model.CheckpointFirst, want: true, reason: usecase.ReasonEligible,
		},
		{
			name: "should reject metered plans before the name blacklist",
			sub: func() *model.Subscription {
				s := fixedSub("1", 2, nil)
				s.Category = model.PlanCategoryMetered
				s.PlanName = "Legacy"
				return s
			},
			kind: model.CheckpointSecond, reason: usecase.ReasonMeteredPlan,
		},
		{
			name: "should reject blacklisted names case and space insensitively",
			sub: func() *model.Subscription {
				s := fixedSub("1", 2, nil)
				s.PlanName = "  LEGACY "
				s.IsActive = false
				return s
			},
			kind: model.CheckpointFirst, reason: usecase.ReasonExcludedByName,
		},
		{
			name: "should reject blacklisted catalog names",
			sub: func() *model.Subscription {
				s := fixedSub("1", 2, nil)
				s.CatalogName = "legacy"
				return s
			},
			kind: model.CheckpointFirst, reason: usecase.ReasonExcludedByName,
		},
		{
			name: "should reject inactive before checking status",
			sub: func() *model.Subscription {
				s := fixedSub("1", 2, nil)
				s.IsActive = false
				s.StatusLabel = "expired"
				return s
			},
			kind: model.CheckpointFirst, reason: usecase.ReasonInactive,
		},
		{
			name: "should reject a non-active status label",
			sub: func() *model.Subscription {
				s := fixedSub("1", 2, nil)
				s.StatusLabel = "已过期"
				return s
			},
			kind: model.CheckpointFirst, reason: usecase.ReasonStatusInactive,
		},
		{
			name: "should accept the localized active label",
			sub: func() *model.Subscription {
				s := fixedSub("1", 2, nil)
				s.StatusLabel = " 活跃中 "
				return s
			},
			kind: model.CheckpointFirst, want: true, reason: usecase.ReasonEligible,
		},
		{
			name: "should accept an empty status label",
			sub: func() *model.Subscription {
				s := fixedSub("1", 2, nil)
				s.StatusLabel = ""
				return s
			},
			kind: model.CheckpointFirst, want: true, reason: usecase.ReasonEligible,
		},
		{
			name: "should reject zero remaining days",
			sub: func() *model.Subscription {
				s := fixedSub("1", 2, nil)
				s.RemainingDays = ptr(0)
				return s
			},
			kind: model.CheckpointFirst, reason: usecase.ReasonExpired,
		},
		{
			name: "should ignore unknown remaining days",
			sub: func() *model.Subscription {
				s := fixedSub("1", 2, nil)
				s.RemainingDays = nil
				return s
			},
			kind: model.CheckpointFirst, want: true, reason: usecase.ReasonEligible,
		},
		{
			name: "should reject cooldown at FIRST before the quota check",
			sub:  func() *model.Subscription { return fixedSub("1", 0, recent) },
			kind: model.CheckpointFirst, reason: usecase.ReasonCooldown,
		},
		{
			name: "should let cooldown through at SECOND and then check quota",
			sub:  func() *model.Subscription { return fixedSub("1", 0, recent) },
			kind: model.CheckpointSecond, reason: usecase.ReasonQuota,
		},
		{
			name: "should reject low balance checkpoint when balance is at the threshold",
			sub: func() *model.Subscription {
				s := fixedSub("1", 1, nil)
				s.CurrentCredits = 1
				return s
			},
			kind: model.CheckpointLowBalance, reason: usecase.ReasonBalanceOK,
		},
		{
			name: "should accept low balance checkpoint below the threshold",
			sub: func() *model.Subscription {
				s := fixedSub("1", 1, nil)
				s.CurrentCredits = 0.99
				return s
			},
			kind: model.CheckpointLowBalance, want: true, reason: usecase.ReasonEligible,
		},
		{
			name: "should reject a snapshot without id",
			sub:  func() *model.Subscription { return fixedSub("", 2, nil) },
			kind: model.CheckpointFirst, reason: usecase.ReasonInvalidSnapshot,
		},
		{
			name: "should reject a snapshot decoded from a malformed record",
			sub: func() *model.Subscription {
				return &model.Subscription{ID: "2", DecodeError: "json: cannot unmarshal number into lastCreditReset"}
			},
			kind: model.CheckpointFirst, reason: usecase.ReasonInvalidSnapshot,
		},
	}

	c := newClassifier("legacy")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.sub(), tt.kind, now)
			assert.Equal(t, tt.want, got.Eligible)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestClassifier_MeteredNeverEligible(t *testing.T) {
	c := newClassifier()
	now := at(12, 0, 0)
	for _, kind := range model.AllCheckpoints {
		for _, rt := range []int{0, 1, 2, 5} {
			for _, last := range []*time.Time{nil, ptr(now.Add(-time.Minute)), ptr(now.Add(-48 * time.Hour))} {
				s := fixedSub("m", rt, last)
				s.Category = model.PlanCategoryMetered
				s.CurrentCredits = 0
				got := c.Classify(s, kind, now)
				assert.False(t, got.Eligible, "kind=%s resetTimes=%d", kind, rt)
				assert.Equal(t, usecase.ReasonMeteredPlan, got.Reason)
			}
		}
	}
}

func TestClassifier_QuotaPolicy(t *testing.T) {
	c := newClassifier()
	now := at(12, 0, 0)

	t.Run("should accept resetTimes=2 at the strict checkpoint", func(t *testing.T) {
		assert.True(t, c.Classify(fixedSub("1", 2, nil), model.CheckpointFirst, now).Eligible)
	})
	t.Run("should reject resetTimes=1 at the strict checkpoint", func(t *testing.T) {
		got := c.Classify(fixedSub("1", 1, nil), model.CheckpointFirst, now)
		assert.False(t, got.Eligible)
		assert.Equal(t, usecase.ReasonQuota, got.Reason)
	})
	t.Run("should accept resetTimes=1 at the lenient checkpoint", func(t *testing.T) {
		assert.True(t, c.Classify(fixedSub("1", 1, nil), model.CheckpointSecond, now).Eligible)
		assert.True(t, c.Classify(fixedSub("1", 1, nil), model.CheckpointManual, now).Eligible)
	})
}

func TestClassifier_CooldownBoundary(t *testing.T) {
	c := newClassifier()
	now := at(18, 55, 0)

	t.Run("should pass one second after the cooldown", func(t *testing.T) {
		got := c.Classify(fixedSub("1", 2, ptr(now.Add(-5*time.Hour-time.Second))), model.CheckpointFirst, now)
		assert.True(t, got.Eligible)
		assert.False(t, got.CooldownPending)
	})
	t.Run("should pass exactly at the cooldown", func(t *testing.T) {
		assert.True(t, c.Classify(fixedSub("1", 2, ptr(now.Add(-5*time.Hour))), model.CheckpointFirst, now).Eligible)
	})
	t.Run("should block one second before the cooldown", func(t *testing.T) {
		got := c.Classify(fixedSub("1", 2, ptr(now.Add(-5*time.Hour+time.Second))), model.CheckpointFirst, now)
		assert.False(t, got.Eligible)
		assert.Equal(t, usecase.ReasonCooldown, got.Reason)
	})
	t.Run("should mark deferrable kinds as cooldown pending", func(t *testing.T) {
		got := c.Classify(fixedSub("1", 2, ptr(now.Add(-5*time.Hour+time.Second))), model.CheckpointSecond, now)
		assert.True(t, got.Eligible)
		assert.True(t, got.CooldownPending)
	})
}
