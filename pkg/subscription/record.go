package subscription

import (
	"strings"
	"time"
)

// Plan is the entitlement tier of a subscription.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// ParsePlan accepts a plan name in any case.
func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", ErrUnknownPlan
	}
	return p, nil
}

func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// Paid reports whether the plan requires a provider subscription.
func (p Plan) Paid() bool {
	return p == PlanPro || p == PlanEnterprise
}

func (p Plan) String() string { return string(p) }

// Status is the provider-reported lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusPastDue  Status = "past_due"
	StatusTrialing Status = "trialing"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCanceled, StatusPastDue, StatusTrialing:
		return true
	}
	return false
}

// ParseProviderStatus folds provider status vocabularies (Stripe, Paddle)
// into the four states a record can hold.
func ParseProviderStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return StatusActive, true
	case "trialing":
		return StatusTrialing, true
	case "past_due", "unpaid", "incomplete", "paused":
		return StatusPastDue, true
	case "canceled", "cancelled", "incomplete_expired", "expired":
		return StatusCanceled, true
	}
	return "", false
}

// DefaultPeriod is the entitlement window granted by manual repair.
const DefaultPeriod = 30 * 24 * time.Hour

// Record is the persisted subscription state of one user key.
type Record struct {
	UserKey                string    `json:"user_key"`
	Plan                   Plan      `json:"plan"`
	Status                 Status    `json:"status"`
	ExternalCustomerID     string    `json:"external_customer_id,omitempty"`
	ExternalSubscriptionID string    `json:"external_subscription_id,omitempty"`
	CurrentPeriodEnd       int64     `json:"current_period_end,omitempty"` // epoch seconds
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
	LastUpdated            int64     `json:"last_updated"` // epoch millis, write-ordering marker
}

// DefaultRecord is the implicit state of an identity that never paid.
func DefaultRecord(userKey string, now time.Time) Record {
	return Record{
		UserKey:   userKey,
		Plan:      PlanFree,
		Status:    StatusActive,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (r Record) Validate() error {
	if r.UserKey == "" {
		return ErrInvalidRecord
	}
	if !r.Plan.Valid() || !r.Status.Valid() {
		return ErrInvalidRecord
	}
	return nil
}

func (r Record) IsPaid() bool { return r.Plan.Paid() }

func (r Record) IsCanceled() bool { return r.Status == StatusCanceled }

// Consistent reports whether the record satisfies the steady-state rules:
// a paid plan carries a provider subscription and a canceled record is free.
// Right after checkout a paid record may briefly lack the subscription ID.
func (r Record) Consistent() bool {
	if r.Plan.Paid() && r.ExternalSubscriptionID == "" {
		return false
	}
	if r.Status == StatusCanceled && r.Plan != PlanFree {
		return false
	}
	return true
}

// Expired reports whether the entitlement window has passed.
// A record without a period end never expires.
func (r Record) Expired(now time.Time) bool {
	return r.CurrentPeriodEnd > 0 && now.Unix() > r.CurrentPeriodEnd
}

// EffectivePlan is the plan the user is entitled to at now.
func (r Record) EffectivePlan(now time.Time) Plan {
	if r.Plan.Paid() && (r.Expired(now) || r.Status == StatusCanceled) {
		return PlanFree
	}
	return r.Plan
}

// View is the shape exposed to UI consumers.
type View struct {
	Plan             Plan   `json:"plan"`
	Status           Status `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end,omitempty"`
	IsCanceled       bool   `json:"is_canceled"`
	RenewalDate      string `json:"renewal_date,omitempty"`
}

func (r Record) View() View {
	v := View{
		Plan:             r.Plan,
		Status:           r.Status,
		CurrentPeriodEnd: r.CurrentPeriodEnd,
		IsCanceled:       r.Status == StatusCanceled,
	}
	if r.CurrentPeriodEnd > 0 {
		v.RenewalDate = time.Unix(r.CurrentPeriodEnd, 0).UTC().Format("January 2, 2006")
	}
	return v
}
