// File: internal/usecase/eligibility.go
package usecase

import (
	"fmt"
	"strings"
	"time"

	"credit-reset/internal/domain/model"
)

// EligibilityReason names the rule that decided a classification.
type EligibilityReason string

const (
	ReasonEligible        EligibilityReason = "ELIGIBLE"
	ReasonInvalidSnapshot EligibilityReason = "INVALID_SNAPSHOT"
	ReasonMeteredPlan     EligibilityReason = "METERED_PLAN"
	ReasonExcludedByName  EligibilityReason = "EXCLUDED_BY_NAME"
	ReasonInactive        EligibilityReason = "INACTIVE"
	ReasonStatusInactive  EligibilityReason = "STATUS_NOT_ACTIVE"
	ReasonExpired         EligibilityReason = "EXPIRED"
	ReasonCooldown        EligibilityReason = "COOLDOWN"
	ReasonQuota           EligibilityReason = "INSUFFICIENT_RESET_TIMES"
	ReasonBalanceOK       EligibilityReason = "BALANCE_ABOVE_THRESHOLD"
)

// Eligibility is the result of Classify.
type Eligibility struct {
	Eligible bool
	Reason   EligibilityReason
	// CooldownPending is set on an eligible result whose cooldown has not passed yet;
	// only deferrable checkpoints produce it.
	CooldownPending bool
	Detail          string
}

// activeStatusLabels are the status labels treated as "usable", compared lower-cased.
var activeStatusLabels = map[string]struct{}{
	"active": {},
	"活跃中":    {},
}

// ClassifierConfig holds the inputs of Classify that come from configuration.
type ClassifierConfig struct {
	Cooldown            time.Duration
	LowBalanceThreshold float64
	ExcludePlanNames    []string
}

// Classifier decides whether a subscription may be reset at a checkpoint.
// It performs no I/O.
type Classifier struct {
	cooldown  time.Duration
	threshold float64
	excluded  map[string]struct{}
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	ex := make(map[string]struct{}, len(cfg.ExcludePlanNames))
	for _, n := range cfg.ExcludePlanNames {
		if k := normalizeName(n); k != "" {
			ex[k] = struct{}{}
		}
	}
	return &Classifier{cooldown: cfg.Cooldown, threshold: cfg.LowBalanceThreshold, excluded: ex}
}

func (c *Classifier) Cooldown() time.Duration { return c.cooldown }

// Classify applies the rules in a fixed order; the first failing rule decides.
// A snapshot without an id or from an undecodable record is never eligible.
//
//  1. metered plan
//  2. name in the exclusion set
//  3. not active
//  4. status label present and not an active synonym
//  5. remaining days known and <= 0
//  6. cooldown not passed (fatal unless the checkpoint is deferrable)
//  7. reset-times quota, then the low-balance predicate
func (c *Classifier) Classify(sub *model.Subscription, kind model.CheckpointKind, now time.Time) Eligibility {
	if sub == nil || sub.ID == "" {
		return reject(ReasonInvalidSnapshot, "missing subscription id")
	}
	if sub.Malformed() {
		return reject(ReasonInvalidSnapshot, "malformed record: "+sub.DecodeError)
	}
	if sub.IsMetered() {
		return reject(ReasonMeteredPlan, "pay-as-you-go plans are never reset")
	}
	if c.isExcluded(sub) {
		return reject(ReasonExcludedByName, "plan name is in the exclusion list")
	}
	if !sub.IsActive {
		return reject(ReasonInactive, "subscription is not active")
	}
	if label := strings.TrimSpace(sub.StatusLabel); label != "" {
		if _, ok := activeStatusLabels[strings.ToLower(label)]; !ok {
			return reject(ReasonStatusInactive, fmt.Sprintf("status is %q", label))
		}
	}
	if sub.RemainingDays != nil && *sub.RemainingDays <= 0 {
		return reject(ReasonExpired, fmt.Sprintf("remaining days %d", *sub.RemainingDays))
	}

	policy := kind.Policy()
	pending := false
	if !model.CooldownPassed(sub.LastResetAt, now, c.cooldown) {
		if !policy.Deferrable {
			left := model.CooldownRemaining(sub.LastResetAt, now, c.cooldown)
			return reject(ReasonCooldown, "cooling down, "+model.FormatDuration(left)+" left")
		}
		pending = true
	}

	if sub.ResetTimes < policy.MinResetTimes {
		return reject(ReasonQuota, fmt.Sprintf("reset times %d below %d", sub.ResetTimes, policy.MinResetTimes))
	}
	if policy.RequiresLowBalance && !(sub.CurrentCredits < c.threshold) {
		return reject(ReasonBalanceOK, fmt.Sprintf("balance %.2f not below %.2f", sub.CurrentCredits, c.threshold))
	}
	return Eligibility{Eligible: true, Reason: ReasonEligible, CooldownPending: pending}
}

func (c *Classifier) isExcluded(sub *model.Subscription) bool {
	if len(c.excluded) == 0 {
		return false
	}
	for _, n := range []string{sub.PlanName, sub.CatalogName} {
		if _, ok := c.excluded[normalizeName(n)]; ok && n != "" {
			return true
		}
	}
	return false
}

func normalizeName(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func reject(r EligibilityReason, detail string) Eligibility {
	return Eligibility{Eligible: false, Reason: r, Detail: detail}
}
