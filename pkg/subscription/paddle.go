package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/PaddleHQ/paddle-go-sdk/v4/pkg/paddleerr"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey            string `env:"PADDLE_API_KEY"`
	WebhookSecret     string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment       string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	ProPriceID        string `env:"PADDLE_PRO_PRICE_ID"`
	EnterprisePriceID string `env:"PADDLE_ENTERPRISE_PRICE_ID"`
}

// PaddleProvider implements BillingProvider for Paddle Billing.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleProvider creates a Paddle provider for the configured environment.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderEnv, cfg.Environment)
	}
	if err != nil {
		return nil, errors.Join(ErrProviderMisconfigured, err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

func (p *PaddleProvider) Name() string { return "paddle" }

// CreateCheckout creates a transaction whose custom data carries the
// correlation metadata. Paddle returns the hosted checkout URL on it.
func (p *PaddleProvider) CreateCheckout(ctx context.Context, req ProviderCheckoutRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	txReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			MetadataUserKey: req.UserKey,
			MetadataPlan:    string(req.Plan),
		},
	}
	if req.Email != "" {
		txReq.CustomData[MetadataEmail] = req.Email
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, classifyPaddleError(err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil || *tx.Checkout.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{
		ID:        tx.ID,
		URL:       *tx.Checkout.URL,
		ExpiresAt: time.Now().Add(24 * time.Hour).UTC(),
	}, nil
}

// GetCheckout reads a transaction back. Paddle has no separate checkout
// object; the transaction id is the session id.
func (p *PaddleProvider) GetCheckout(ctx context.Context, sessionID string) (*CheckoutSnapshot, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", ErrProviderRejected)
	}

	tx, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{TransactionID: sessionID})
	if err != nil {
		return nil, classifyPaddleError(err)
	}

	var raw paddleTransaction
	if err := remarshal(tx, &raw); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	return raw.snapshot(), nil
}

// ParseWebhook verifies the Paddle-Signature header and normalizes the event.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	if signature == "" {
		return nil, ErrSignatureInvalid
	}

	// The SDK verifier works on requests.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil || !valid {
		return nil, errors.Join(ErrSignatureInvalid, err)
	}

	var envelope struct {
		EventID   string          `json:"event_id"`
		EventType string          `json:"event_type"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}

	switch envelope.EventType {
	case "transaction.completed", "transaction.paid":
		var tx paddleTransaction
		if err := json.Unmarshal(envelope.Data, &tx); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		ev := tx.snapshot().Event()
		ev.ID = envelope.EventID
		ev.ProviderEvent = envelope.EventType
		return &ev, nil

	case "subscription.updated", "subscription.canceled":
		var sub paddleSubscription
		if err := json.Unmarshal(envelope.Data, &sub); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		if sub.CustomerID == "" {
			return nil, fmt.Errorf("%w: subscription without customer", ErrMalformedPayload)
		}

		ev := Event{
			Kind:             KindSubscriptionUpdated,
			ID:               envelope.EventID,
			ProviderEvent:    envelope.EventType,
			CustomerID:       sub.CustomerID,
			SubscriptionID:   sub.ID,
			PriceID:          sub.priceID(),
			CurrentPeriodEnd: sub.CurrentBillingPeriod.end(),
		}
		if status, ok := ParseProviderStatus(sub.Status); ok {
			ev.Status = status
		}
		if envelope.EventType == "subscription.canceled" {
			ev.Kind = KindSubscriptionDeleted
		}
		return &ev, nil
	}

	return nil, ErrEventIgnored
}

func (p *PaddleProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return ErrMissingSubscriptionID
	}

	_, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: subscriptionID,
		EffectiveFrom:  paddle.PtrTo(paddle.EffectiveFromImmediately),
	})
	if err != nil {
		return classifyPaddleError(err)
	}
	return nil
}

func (p *PaddleProvider) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", ErrMissingCustomerID
	}

	c, err := p.client.CustomersClient.GetCustomer(ctx, &paddle.GetCustomerRequest{CustomerID: customerID})
	if err != nil {
		return "", classifyPaddleError(err)
	}
	return c.Email, nil
}

// classifyPaddleError maps SDK failures by the API error code, then by HTTP
// status. Anything unclassified is treated as transient.
func classifyPaddleError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrProviderUnavailable, err)
	}

	var perr *paddleerr.Error
	if !errors.As(err, &perr) {
		return errors.Join(ErrProviderUnavailable, err)
	}

	switch {
	case strings.HasPrefix(perr.Code, "authentication_"), perr.Code == "forbidden":
		return errors.Join(ErrProviderMisconfigured, err)
	case perr.Code == "too_many_requests":
		return errors.Join(ErrProviderRateLimited, err)
	case perr.Code == "not_found", perr.Code == "bad_request":
		return errors.Join(ErrProviderRejected, err)
	}

	switch {
	case perr.Status == http.StatusUnauthorized, perr.Status == http.StatusForbidden:
		return errors.Join(ErrProviderMisconfigured, err)
	case perr.Status == http.StatusTooManyRequests:
		return errors.Join(ErrProviderRateLimited, err)
	case perr.Status >= 400 && perr.Status < 500:
		return errors.Join(ErrProviderRejected, err)
	default:
		return errors.Join(ErrProviderUnavailable, err)
	}
}

// remarshal copies an SDK struct into a local shape through its JSON form.
func remarshal(src, dst any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

type paddlePeriod struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

func (p *paddlePeriod) end() int64 {
	if p == nil || p.EndsAt == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, p.EndsAt)
	if err != nil {
		return 0
	}
	return t.Unix()
}

type paddleTransaction struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CurrencyCode   string         `json:"currency_code"`
	CustomData     map[string]any `json:"custom_data"`
	BillingPeriod  *paddlePeriod  `json:"billing_period"`
	Details        struct {
		Totals struct {
			Total string `json:"total"`
		} `json:"totals"`
	} `json:"details"`
}

func (t paddleTransaction) snapshot() *CheckoutSnapshot {
	snap := &CheckoutSnapshot{
		ID:               t.ID,
		PaymentStatus:    paddlePaymentStatus(t.Status),
		UserKey:          customString(t.CustomData, MetadataUserKey),
		CustomerID:       t.CustomerID,
		CustomerEmail:    customString(t.CustomData, MetadataEmail),
		SubscriptionID:   t.SubscriptionID,
		CurrentPeriodEnd: t.BillingPeriod.end(),
		Currency:         t.CurrencyCode,
	}
	if plan, err := ParsePlan(customString(t.CustomData, MetadataPlan)); err == nil {
		snap.Plan = plan
	}
	var total int64
	if _, err := fmt.Sscan(t.Details.Totals.Total, &total); err == nil {
		snap.AmountTotal = total
	}
	return snap
}

type paddleSubscription struct {
	ID                   string        `json:"id"`
	Status               string        `json:"status"`
	CustomerID           string        `json:"customer_id"`
	CurrentBillingPeriod *paddlePeriod `json:"current_billing_period"`
	Items                []struct {
		Price struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
}

func (s paddleSubscription) priceID() string {
	for _, item := range s.Items {
		if item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

// paddlePaymentStatus folds transaction statuses into payment states.
// "paid" means captured but not yet fully processed; both grant access.
func paddlePaymentStatus(status string) PaymentStatus {
	switch status {
	case "completed", "paid":
		return PaymentPaid
	case "canceled":
		return PaymentCanceled
	case "past_due":
		return PaymentUnpaid
	default:
		return PaymentPending
	}
}

func customString(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
