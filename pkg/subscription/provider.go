package subscription

import (
	"context"
	"time"
)

// BillingProvider is the slice of a payment provider the engine consumes.
// Implementations use the official SDKs and translate provider objects into
// Events; nothing provider-specific leaks past this interface.
type BillingProvider interface {
	// Name identifies the provider in logs, metrics and webhook routes.
	Name() string

	// CreateCheckout opens a hosted checkout carrying {user_key, plan} as
	// metadata so the completion can be correlated later.
	CreateCheckout(ctx context.Context, req ProviderCheckoutRequest) (*CheckoutSession, error)

	// GetCheckout returns the completion data of a checkout for the
	// interactive success path.
	GetCheckout(ctx context.Context, sessionID string) (*CheckoutSnapshot, error)

	// ParseWebhook verifies the signature before reading the payload.
	// Unhandled event types return ErrEventIgnored.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)

	// CancelSubscription ends the provider subscription immediately.
	CancelSubscription(ctx context.Context, subscriptionID string) error

	// CustomerEmail looks up the billing email of a provider customer.
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}

// Metadata keys written on checkout and read back on completion.
const (
	MetadataUserKey = "user_key"
	MetadataPlan    = "plan"
	MetadataEmail   = "email"
)

// ProviderCheckoutRequest is what the initiator asks a provider to open.
type ProviderCheckoutRequest struct {
	UserKey        string
	Plan           Plan
	PriceID        string
	Email          string
	SuccessURL     string // may contain {CHECKOUT_SESSION_ID}
	CancelURL      string
	IdempotencyKey string
}

// CheckoutSession is an opened hosted checkout.
type CheckoutSession struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CheckoutSnapshot is a checkout as seen after the customer returned.
type CheckoutSnapshot struct {
	ID               string
	PaymentStatus    PaymentStatus
	UserKey          string // from metadata
	Plan             Plan   // from metadata; empty if missing or unknown
	CustomerID       string
	CustomerEmail    string
	CustomerName     string
	SubscriptionID   string
	CurrentPeriodEnd int64
	AmountTotal      int64
	Currency         string
}

// Event builds the CheckoutCompleted event for this snapshot.
func (s *CheckoutSnapshot) Event() Event {
	ev := Event{
		Kind:             KindCheckoutCompleted,
		ID:               s.ID,
		Plan:             s.Plan,
		PaymentStatus:    s.PaymentStatus,
		CustomerID:       s.CustomerID,
		SubscriptionID:   s.SubscriptionID,
		CurrentPeriodEnd: s.CurrentPeriodEnd,
		CustomerEmail:    s.CustomerEmail,
		CustomerName:     s.CustomerName,
	}
	ev.Identity.SessionID = s.UserKey
	ev.Identity.Email = s.CustomerEmail
	ev.Identity.Name = s.CustomerName
	ev.Identity.CustomerID = s.CustomerID
	return ev
}
