package subscription

import "github.com/dmitrymomot/subsync/pkg/identity"

// Kind names a state transition the Reconciler knows how to apply.
type Kind string

const (
	KindCheckoutCompleted   Kind = "checkout_completed"
	KindSubscriptionUpdated Kind = "subscription_updated"
	KindSubscriptionDeleted Kind = "subscription_deleted"
	KindManualPlanSet       Kind = "manual_plan_set"
)

func (k Kind) Valid() bool {
	switch k {
	case KindCheckoutCompleted, KindSubscriptionUpdated, KindSubscriptionDeleted, KindManualPlanSet:
		return true
	}
	return false
}

// PaymentStatus is the settlement state of a checkout transaction.
type PaymentStatus string

const (
	PaymentPaid     PaymentStatus = "paid"
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentNoneDue  PaymentStatus = "no_payment_required"
	PaymentPending  PaymentStatus = "pending"
	PaymentCanceled PaymentStatus = "canceled"
)

// Completed reports whether the transaction reached a state that grants
// entitlement.
func (s PaymentStatus) Completed() bool {
	return s == PaymentPaid || s == PaymentNoneDue
}

// Event is a normalized reconciliation input. Providers produce it from
// webhooks and checkout lookups; handlers produce ManualPlanSet directly.
//
// Fields used per kind:
//   - CheckoutCompleted: Identity (from checkout metadata), Plan, PaymentStatus,
//     CustomerID, SubscriptionID, CurrentPeriodEnd, optional Status.
//   - SubscriptionUpdated: CustomerID, Status, PriceID, CurrentPeriodEnd.
//   - SubscriptionDeleted: CustomerID.
//   - ManualPlanSet: Identity, Plan, optional SubscriptionID hint, Force.
type Event struct {
	Kind          Kind
	ID            string // provider event or transaction id, for logs only
	ProviderEvent string // raw provider event name

	Identity identity.Descriptor
	Plan     Plan

	PaymentStatus    PaymentStatus
	Status           Status
	CustomerID       string
	SubscriptionID   string
	PriceID          string
	CurrentPeriodEnd int64 // epoch seconds

	// Contact details reported by the provider, used for notifications.
	CustomerEmail string
	CustomerName  string

	// Force makes ManualPlanSet overwrite regardless of the stored marker.
	Force bool
}

// Outcome describes what a reconciliation did.
type Outcome struct {
	Kind     Kind
	Key      identity.Key
	Record   *Record // record as stored after the call
	Previous *Record // record before the call; nil when none existed
	Applied  bool    // false when the write was stale

	// UsedFallback is set when the primary key was rejected and the
	// alternate key was written instead.
	UsedFallback bool
}

// PreviousPlan is the plan held before the transition, free when no record
// existed.
func (o *Outcome) PreviousPlan() Plan {
	if o == nil || o.Previous == nil {
		return PlanFree
	}
	return o.Previous.Plan
}

// Changed reports whether the transition altered the plan.
func (o *Outcome) Changed() bool {
	if o == nil || o.Record == nil || !o.Applied {
		return false
	}
	return o.Record.Plan != o.PreviousPlan()
}
