package model

import (
	"fmt"
	"strings"
	"time"
)

// PlanCategory separates plans that may be auto-reset from metered ones that must not be.
type PlanCategory string

const (
	PlanCategoryFixed   PlanCategory = "fixed"
	PlanCategoryMetered PlanCategory = "metered"
)

// Raw plan type markers used by the vendor for metered plans.
const (
	PlanTypePaygo     = "PAYGO"
	PlanTypePayPerUse = "PAY_PER_USE"
)

// CategorizePlan maps the vendor's raw plan fields onto a PlanCategory.
// It is called once at ingestion; nothing downstream compares raw plan strings.
func CategorizePlan(planType, planName, planSubscriptionName string) PlanCategory {
	switch strings.ToUpper(strings.TrimSpace(planType)) {
	case PlanTypePaygo, PlanTypePayPerUse:
		return PlanCategoryMetered
	}
	if planName == PlanTypePaygo || planSubscriptionName == PlanTypePaygo {
		return PlanCategoryMetered
	}
	return PlanCategoryFixed
}

// Subscription is a read-only snapshot of one remote subscription.
// A fresh snapshot is fetched on every pass; it is never mutated locally.
type Subscription struct {
	ID             string
	PlanType       string
	Category       PlanCategory
	PlanName       string
	CatalogName    string // the plan's catalog name; may differ from PlanName
	IsActive       bool
	StatusLabel    string
	RemainingDays  *int // nil when the vendor sent no usable number
	CurrentCredits float64
	CreditLimit    float64
	ResetTimes     int
	LastResetAt    *time.Time // nil when never reset
	// DecodeError is set when the vendor record could not be decoded; only ID may
	// be filled in and the snapshot is never eligible.
	DecodeError string
}

// IsMetered reports whether the subscription is pay-as-you-go.
func (s *Subscription) IsMetered() bool {
	return s.Category == PlanCategoryMetered
}

// Malformed reports whether the snapshot came from an undecodable record.
func (s *Subscription) Malformed() bool {
	return s.DecodeError != ""
}

// Label is the human readable "[name(id)]" form used in logs and notifications.
func (s *Subscription) Label() string {
	name := s.PlanName
	if name == "" {
		name = "UNKNOWN"
	}
	return fmt.Sprintf("[%s(%s)]", name, s.ID)
}

// CreditPercent returns the balance as a percentage of the credit limit (display only).
func (s *Subscription) CreditPercent() float64 {
	if s.CreditLimit <= 0 {
		return 0
	}
	return s.CurrentCredits / s.CreditLimit * 100
}

// FindSubscription returns the snapshot with the given id, or nil.
func FindSubscription(subs []*Subscription, id string) *Subscription {
	for _, s := range subs {
		if s != nil && s.ID == id {
			return s
		}
	}
	return nil
}
