package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

type ResetStatus string

const (
	ResetStatusSuccess   ResetStatus = "SUCCESS"
	ResetStatusFailed    ResetStatus = "FAILED"
	ResetStatusSkipped   ResetStatus = "SKIPPED"
	ResetStatusScheduled ResetStatus = "SCHEDULED"
)

// SkipReason qualifies SKIPPED and unverified outcomes for callers that branch on them.
type SkipReason string

const (
	SkipReasonNone          SkipReason = ""
	SkipReasonCrossMidnight SkipReason = "CROSS_MIDNIGHT"
	SkipReasonNoEffect      SkipReason = "NO_EFFECT"
	SkipReasonDryRun        SkipReason = "DRY_RUN"
)

// ResetDetail is the per-subscription outcome of one checkpoint run.
type ResetDetail struct {
	SubscriptionID   string      `json:"subscription_id"`
	SubscriptionName string      `json:"subscription_name"`
	Status           ResetStatus `json:"status"`
	Reason           SkipReason  `json:"reason,omitempty"`
	BeforeCredits    float64     `json:"before_credits"`
	AfterCredits     *float64    `json:"after_credits,omitempty"`
	BeforeResetTimes int         `json:"before_reset_times"`
	AfterResetTimes  *int        `json:"after_reset_times,omitempty"`
	Verified         bool        `json:"verified"`
	CrossDayRefill   bool        `json:"cross_day_refill,omitempty"`
	ScheduledAt      *time.Time  `json:"scheduled_at,omitempty"`
	Message          string      `json:"message"`
	Error            string      `json:"error,omitempty"`
}

// NewResetDetail seeds a detail with the "before" side of a snapshot.
func NewResetDetail(sub *Subscription) *ResetDetail {
	return &ResetDetail{
		SubscriptionID:   sub.ID,
		SubscriptionName: sub.PlanName,
		BeforeCredits:    sub.CurrentCredits,
		BeforeResetTimes: sub.ResetTimes,
	}
}

// RunSummary aggregates one checkpoint run for one account.
type RunSummary struct {
	ID          string         `json:"id"`
	Kind        CheckpointKind `json:"kind"`
	Delayed     bool           `json:"delayed"`
	AccountMask string         `json:"account"`
	DryRun      bool           `json:"dry_run,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Total       int            `json:"total"`
	Eligible    int            `json:"eligible"`
	Success     int            `json:"success"`
	Failed      int            `json:"failed"`
	Skipped     int            `json:"skipped"`
	Scheduled   int            `json:"scheduled"`
	Details     []*ResetDetail `json:"details"`
	// Excluded counts not-eligible subscriptions by classifier reason.
	Excluded map[string]int `json:"excluded,omitempty"`
	Err      string         `json:"error,omitempty"`
}

// NewRunSummary starts a summary stamped with a fresh run id.
func NewRunSummary(kind CheckpointKind, accountMask string, startedAt time.Time) *RunSummary {
	return &RunSummary{
		ID:          NewRunID(),
		Kind:        kind,
		AccountMask: accountMask,
		StartedAt:   startedAt,
		Details:     []*ResetDetail{},
	}
}

// NewRunID returns a sortable run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

// Add appends a detail and bumps the matching counter.
func (r *RunSummary) Add(d *ResetDetail) {
	r.Details = append(r.Details, d)
	switch d.Status {
	case ResetStatusSuccess:
		r.Success++
	case ResetStatusScheduled:
		r.Scheduled++
	case ResetStatusSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

// Exclude records one not-eligible subscription.
func (r *RunSummary) Exclude(reason string) {
	if r.Excluded == nil {
		r.Excluded = make(map[string]int)
	}
	r.Excluded[reason]++
}

// Finish stamps the end time.
func (r *RunSummary) Finish(at time.Time) {
	r.FinishedAt = at
}

func (r *RunSummary) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// OutcomeCount is Success+Failed+Skipped+Scheduled; it equals Eligible for a completed run.
func (r *RunSummary) OutcomeCount() int {
	return r.Success + r.Failed + r.Skipped + r.Scheduled
}

// Failure reports whether the run had a fatal error or any failed subscription.
func (r *RunSummary) Failure() bool {
	return r.Err != "" || r.Failed > 0
}

// NewDelayedSummary wraps the result of a single deferred fire.
func NewDelayedSummary(kind CheckpointKind, accountMask string, at time.Time, d *ResetDetail) *RunSummary {
	s := NewRunSummary(kind, accountMask, at)
	s.Delayed = true
	s.Total = 1
	s.Eligible = 1
	s.Add(d)
	s.Finish(at)
	return s
}
