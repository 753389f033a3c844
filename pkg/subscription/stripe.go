package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	APIKey            string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret     string `env:"STRIPE_WEBHOOK_SECRET"`
	ProPriceID        string `env:"STRIPE_PRO_PRICE_ID"`
	EnterprisePriceID string `env:"STRIPE_ENTERPRISE_PRICE_ID"`
}

// StripeProvider implements BillingProvider on stripe-go.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider creates a Stripe provider with its own API client,
// leaving the package-level stripe.Key untouched.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	return &StripeProvider{
		api:           client.New(cfg.APIKey, nil),
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

func (p *StripeProvider) Name() string { return "stripe" }

// CreateCheckout opens a subscription-mode Checkout Session.
func (p *StripeProvider) CreateCheckout(ctx context.Context, req ProviderCheckoutRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserKey),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				MetadataUserKey: req.UserKey,
				MetadataPlan:    string(req.Plan),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserKey, req.UserKey)
	params.AddMetadata(MetadataPlan, string(req.Plan))
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
		params.AddMetadata(MetadataEmail, req.Email)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	if s.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{
		ID:        s.ID,
		URL:       s.URL,
		ExpiresAt: time.Unix(s.ExpiresAt, 0).UTC(),
	}, nil
}

// GetCheckout fetches a session with its subscription expanded.
func (p *StripeProvider) GetCheckout(ctx context.Context, sessionID string) (*CheckoutSnapshot, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrProviderRejected)
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")

	s, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	if s.LastResponse == nil || len(s.LastResponse.RawJSON) == 0 {
		return nil, ErrMalformedPayload
	}

	var raw stripeCheckoutSession
	if err := json.Unmarshal(s.LastResponse.RawJSON, &raw); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	return raw.snapshot(), nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes the event.
func (p *StripeProvider) ParseWebhook(_ context.Context, payload []byte, signature string) (*Event, error) {
	if signature == "" {
		return nil, ErrSignatureInvalid
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrSignatureInvalid, err)
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var s stripeCheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		ev := s.snapshot().Event()
		ev.ID = event.ID
		ev.ProviderEvent = string(event.Type)
		return &ev, nil

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		if sub.Customer.ID == "" {
			return nil, fmt.Errorf("%w: subscription without customer", ErrMalformedPayload)
		}

		ev := Event{
			Kind:             KindSubscriptionUpdated,
			ID:               event.ID,
			ProviderEvent:    string(event.Type),
			CustomerID:       sub.Customer.ID,
			SubscriptionID:   sub.ID,
			PriceID:          sub.priceID(),
			CurrentPeriodEnd: sub.periodEnd(),
		}
		if status, ok := ParseProviderStatus(sub.Status); ok {
			ev.Status = status
		}
		if event.Type == "customer.subscription.deleted" {
			ev.Kind = KindSubscriptionDeleted
		}
		return &ev, nil
	}

	return nil, ErrEventIgnored
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return ErrMissingSubscriptionID
	}

	params := &stripe.SubscriptionCancelParams{Prorate: stripe.Bool(false)}
	params.Context = ctx
	if _, err := p.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		return classifyStripeError(err)
	}
	return nil
}

func (p *StripeProvider) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", ErrMissingCustomerID
	}

	params := &stripe.CustomerParams{}
	params.Context = ctx
	c, err := p.api.Customers.Get(customerID, params)
	if err != nil {
		return "", classifyStripeError(err)
	}
	return c.Email, nil
}

// classifyStripeError splits SDK errors into client-fixable, configuration,
// rate-limit and transient classes.
func classifyStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return errors.Join(ErrProviderUnavailable, err)
	}

	switch {
	case se.HTTPStatusCode == http.StatusUnauthorized || se.HTTPStatusCode == http.StatusForbidden:
		return errors.Join(ErrProviderMisconfigured, err)
	case se.HTTPStatusCode == http.StatusTooManyRequests:
		return errors.Join(ErrProviderRateLimited, err)
	case se.HTTPStatusCode >= http.StatusInternalServerError || se.Type == stripe.ErrorTypeAPI:
		return errors.Join(ErrProviderUnavailable, err)
	default:
		return errors.Join(ErrProviderRejected, err)
	}
}

// stripeRef decodes an expandable field: either an id string or an object
// carrying an id.
type stripeRef struct {
	ID  string
	Raw json.RawMessage
}

func (r *stripeRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	r.Raw = append(json.RawMessage(nil), b...)
	return nil
}

type stripeCheckoutSession struct {
	ID              string            `json:"id"`
	PaymentStatus   string            `json:"payment_status"`
	Status          string            `json:"status"`
	ClientReference string            `json:"client_reference_id"`
	CustomerEmail   string            `json:"customer_email"`
	Customer        stripeRef         `json:"customer"`
	Subscription    stripeRef         `json:"subscription"`
	Metadata        map[string]string `json:"metadata"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	CustomerDetails struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
}

func (s stripeCheckoutSession) snapshot() *CheckoutSnapshot {
	snap := &CheckoutSnapshot{
		ID:             s.ID,
		PaymentStatus:  PaymentStatus(s.PaymentStatus),
		UserKey:        firstNonEmpty(s.Metadata[MetadataUserKey], s.ClientReference),
		CustomerID:     s.Customer.ID,
		CustomerEmail:  firstNonEmpty(s.CustomerDetails.Email, s.CustomerEmail, s.Metadata[MetadataEmail]),
		CustomerName:   s.CustomerDetails.Name,
		SubscriptionID: s.Subscription.ID,
		AmountTotal:    s.AmountTotal,
		Currency:       s.Currency,
	}
	if plan, err := ParsePlan(s.Metadata[MetadataPlan]); err == nil {
		snap.Plan = plan
	}
	if len(s.Subscription.Raw) > 0 {
		var sub stripeSubscription
		if err := json.Unmarshal(s.Subscription.Raw, &sub); err == nil {
			snap.CurrentPeriodEnd = sub.periodEnd()
		}
	}
	return snap
}

// stripeSubscription covers both API versions: current_period_end moved from
// the subscription onto its items.
type stripeSubscription struct {
	ID               string            `json:"id"`
	Customer         stripeRef         `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s stripeSubscription) priceID() string {
	for _, item := range s.Items.Data {
		if item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

func (s stripeSubscription) periodEnd() int64 {
	end := s.CurrentPeriodEnd
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
	}
	return end
}
