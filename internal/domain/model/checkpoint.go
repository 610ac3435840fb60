package model

import (
	"strings"

	"credit-reset/internal/domain"
)

// CheckpointKind names one scheduled evaluation pass.
type CheckpointKind string

const (
	CheckpointFirst      CheckpointKind = "FIRST"
	CheckpointSecond     CheckpointKind = "SECOND"
	CheckpointLowBalance CheckpointKind = "LOW_BALANCE"
	CheckpointManual     CheckpointKind = "MANUAL"
)

// CheckpointPolicy is the eligibility policy a checkpoint carries.
type CheckpointPolicy struct {
	// Deferrable checkpoints keep cooldown-blocked subscriptions and schedule them for later.
	Deferrable bool
	// MinResetTimes is the smallest remaining quota that still allows a reset.
	MinResetTimes int
	// RequiresLowBalance additionally demands CurrentCredits < threshold.
	RequiresLowBalance bool
}

var policies = map[CheckpointKind]CheckpointPolicy{
	CheckpointFirst:      {Deferrable: false, MinResetTimes: 2},
	CheckpointSecond:     {Deferrable: true, MinResetTimes: 1},
	CheckpointLowBalance: {Deferrable: true, MinResetTimes: 1, RequiresLowBalance: true},
	CheckpointManual:     {Deferrable: false, MinResetTimes: 1},
}

// AllCheckpoints lists the kinds in a stable order.
var AllCheckpoints = []CheckpointKind{CheckpointFirst, CheckpointSecond, CheckpointLowBalance, CheckpointManual}

// Policy returns the policy for k. Unknown kinds get the strictest policy.
func (k CheckpointKind) Policy() CheckpointPolicy {
	if p, ok := policies[k]; ok {
		return p
	}
	return CheckpointPolicy{Deferrable: false, MinResetTimes: 2}
}

func (k CheckpointKind) Valid() bool {
	_, ok := policies[k]
	return ok
}

// LockName is the execution lock name for this checkpoint.
func (k CheckpointKind) LockName() string {
	return strings.ReplaceAll(strings.ToLower(string(k)), "_", "-") + "-reset"
}

// Label is a short display name.
func (k CheckpointKind) Label() string {
	switch k {
	case CheckpointFirst:
		return "first checkpoint"
	case CheckpointSecond:
		return "second checkpoint"
	case CheckpointLowBalance:
		return "low balance check"
	case CheckpointManual:
		return "manual"
	}
	return string(k)
}

// ParseCheckpointKind accepts "first", "FIRST", "low-balance", "low_balance" and so on.
func ParseCheckpointKind(s string) (CheckpointKind, error) {
	k := CheckpointKind(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !k.Valid() {
		return "", domain.ErrUnknownCheckpoint
	}
	return k, nil
}
