package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"credit-reset/internal/domain/model"
)

// apiTimeLayout is the vendor's timestamp format, expressed in the API time zone.
const apiTimeLayout = "2006-01-02 15:04:05"

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(string(b))
	return nil
}

// flexNumber accepts a JSON number, a numeric string, or null. Valid is false when
// the value is missing or not numeric.
type flexNumber struct {
	Value float64
	Valid bool
}

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	*f = flexNumber{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) {
		return nil
	}
	*f = flexNumber{Value: v, Valid: true}
	return nil
}

// flexBool accepts true/false, "true"/"false" and 1/0.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = false
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("not a boolean: %s", b)
	}
	*f = flexBool(v)
	return nil
}

type rawPlan struct {
	PlanType         string     `json:"planType"`
	SubscriptionName string     `json:"subscriptionName"`
	CreditLimit      flexNumber `json:"creditLimit"`
}

type rawSubscription struct {
	ID                   flexString `json:"id"`
	SubscriptionPlanName string     `json:"subscriptionPlanName"`
	SubscriptionPlan     *rawPlan   `json:"subscriptionPlan"`
	IsActive             flexBool   `json:"isActive"`
	SubscriptionStatus   string     `json:"subscriptionStatus"`
	RemainingDays        flexNumber `json:"remainingDays"`
	CurrentCredits       flexNumber `json:"currentCredits"`
	CreditLimit          flexNumber `json:"creditLimit"`
	ResetTimes           flexNumber `json:"resetTimes"`
	LastCreditReset      *string    `json:"lastCreditReset"`

	// decodeErr is set when this element could not be decoded; only ID is kept.
	decodeErr error
}

// decodeSubscriptions accepts a bare array or a {"data": [...]} envelope. Each
// element is decoded on its own so one bad record does not lose the others; only
// a body that is not a list at all is an error.
func decodeSubscriptions(body []byte) ([]rawSubscription, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty subscription list response")
	}
	var elems []json.RawMessage
	if body[0] == '{' {
		var env struct {
			Data []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		elems = env.Data
	} else if err := json.Unmarshal(body, &elems); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	raws := make([]rawSubscription, 0, len(elems))
	for _, e := range elems {
		raws = append(raws, decodeSubscription(e))
	}
	return raws, nil
}

func decodeSubscription(e json.RawMessage) rawSubscription {
	var r rawSubscription
	err := json.Unmarshal(e, &r)
	if err == nil {
		return r
	}
	// keep whatever id can be read so the record stays traceable in logs
	var idOnly struct {
		ID flexString `json:"id"`
	}
	_ = json.Unmarshal(e, &idOnly)
	return rawSubscription{ID: idOnly.ID, decodeErr: err}
}

// toModel maps the raw record. The plan category is decided here and nowhere else.
func (r rawSubscription) toModel(loc *time.Location) *model.Subscription {
	if r.decodeErr != nil {
		return &model.Subscription{ID: string(r.ID), DecodeError: r.decodeErr.Error()}
	}
	plan := rawPlan{}
	if r.SubscriptionPlan != nil {
		plan = *r.SubscriptionPlan
	}
	s := &model.Subscription{
		ID:             string(r.ID),
		PlanType:       plan.PlanType,
		Category:       model.CategorizePlan(plan.PlanType, r.SubscriptionPlanName, plan.SubscriptionName),
		PlanName:       r.SubscriptionPlanName,
		CatalogName:    plan.SubscriptionName,
		IsActive:       bool(r.IsActive),
		StatusLabel:    r.SubscriptionStatus,
		CurrentCredits: r.CurrentCredits.Value,
		ResetTimes:     int(r.ResetTimes.Value),
	}
	if s.PlanName == "" {
		s.PlanName = plan.SubscriptionName
	}
	switch {
	case plan.CreditLimit.Valid:
		s.CreditLimit = plan.CreditLimit.Value
	case r.CreditLimit.Valid:
		s.CreditLimit = r.CreditLimit.Value
	}
	if r.RemainingDays.Valid {
		d := int(math.Ceil(r.RemainingDays.Value))
		s.RemainingDays = &d
	}
	if r.LastCreditReset != nil {
		s.LastResetAt = ParseAPITime(*r.LastCreditReset, loc)
	}
	return s
}

// ParseAPITime parses a vendor timestamp. Values without a zone are read in loc.
// Returns nil for empty or unparseable input; such a subscription counts as never reset.
func ParseAPITime(s string, loc *time.Location) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range []string{apiTimeLayout, "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t
		}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
