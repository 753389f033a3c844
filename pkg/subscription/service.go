package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/subsync/pkg/identity"
	"github.com/dmitrymomot/subsync/pkg/logger"
)

// Service ties the engine together for the HTTP layer: every entry point
// resolves identity, goes through the Reconciler and, where a plan changed,
// hands a notification to the Notifier.
type Service struct {
	store      Store
	catalog    *Catalog
	provider   BillingProvider
	reconciler *Reconciler
	verifier   *Verifier
	checkout   *CheckoutInitiator
	notifier   *Notifier
	now        func() time.Time
	logger     *slog.Logger
	metrics    *Metrics
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger; nil keeps the discard logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records metrics on m and passes it to default components.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier enables transition emails.
func WithNotifier(n *Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithVerifier replaces the default verifier.
func WithVerifier(v *Verifier) ServiceOption {
	return func(s *Service) {
		if v != nil {
			s.verifier = v
		}
	}
}

// WithReconciler replaces the default reconciler.
func WithReconciler(r *Reconciler) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.reconciler = r
		}
	}
}

// WithCheckoutInitiator replaces the default checkout initiator.
func WithCheckoutInitiator(ci *CheckoutInitiator) ServiceOption {
	return func(s *Service) {
		if ci != nil {
			s.checkout = ci
		}
	}
}

// WithNow overrides the wall clock used for expiry checks.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService panics if a required dependency is nil. Components not supplied
// through options are built with defaults on top of store, catalog and
// provider.
func NewService(store Store, catalog *Catalog, provider BillingProvider, opts ...ServiceOption) *Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	if catalog == nil {
		panic("subscription: Catalog is required")
	}
	if provider == nil {
		panic("subscription: BillingProvider is required")
	}

	s := &Service{
		store:    store,
		catalog:  catalog,
		provider: provider,
		now:      time.Now,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.reconciler == nil {
		s.reconciler = NewReconciler(store, catalog,
			WithReconcilerLogger(s.logger),
			WithReconcilerMetrics(s.metrics),
			WithReconcilerNow(s.now),
		)
	}
	if s.verifier == nil {
		s.verifier = NewVerifier(store, WithVerifierLogger(s.logger), WithVerifierMetrics(s.metrics))
	}
	if s.checkout == nil {
		s.checkout = NewCheckoutInitiator(provider, catalog, CheckoutConfig{},
			WithCheckoutLogger(s.logger),
			WithCheckoutMetrics(s.metrics),
		)
	}
	if s.notifier == nil {
		s.notifier = NewNotifier(nil)
	}

	return s
}

// Catalog exposes the plan catalog for display.
func (s *Service) Catalog() *Catalog { return s.catalog }

// Provider names the configured billing provider.
func (s *Service) Provider() string { return s.provider.Name() }

// StartCheckout resolves the caller and opens a checkout for plan.
func (s *Service) StartCheckout(ctx context.Context, d identity.Descriptor, plan string) (*CheckoutResult, error) {
	p, err := ParsePlan(plan)
	if err != nil {
		return nil, err
	}
	key, err := identity.Resolve(d)
	if err != nil {
		return nil, err
	}
	return s.checkout.Start(ctx, CheckoutRequest{UserKey: key.Value, Plan: p, Email: d.Email})
}

// Completion is the result of the interactive success path.
type Completion struct {
	Record   *Record `json:"subscription"`
	Verified bool    `json:"verified"`
	Attempts int     `json:"-"`
}

// CompleteCheckout applies a finished checkout synchronously and reads the
// result back. An unverified read-back is still a success.
func (s *Service) CompleteCheckout(ctx context.Context, d identity.Descriptor, sessionID, plan string) (*Completion, error) {
	var requested Plan
	if plan != "" {
		p, err := ParsePlan(plan)
		if err != nil {
			return nil, err
		}
		requested = p
	}

	snap, err := s.provider.GetCheckout(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !snap.PaymentStatus.Completed() {
		return nil, ErrPaymentNotCompleted
	}

	switch {
	case snap.Plan == "" && requested == "":
		return nil, ErrUnknownPlan
	case snap.Plan == "":
		snap.Plan = requested
	case requested != "" && requested != snap.Plan:
		return nil, ErrPlanMismatch
	}

	ev := snap.Event()
	// Checkout metadata wins; the caller's session fills the gaps.
	if ev.Identity.SessionID == "" {
		ev.Identity.SessionID = d.SessionID
	}
	if ev.Identity.Email == "" {
		ev.Identity.Email = d.Email
	}
	if ev.Identity.Name == "" {
		ev.Identity.Name = d.Name
	}

	out, err := s.reconciler.Apply(ctx, ev)
	if err != nil {
		return nil, err
	}

	v := s.verifier.Verify(ctx, out.Record.UserKey, snap.Plan)
	rec := v.Record
	if rec == nil {
		rec = out.Record
	}

	s.notifyTransition(ctx, out, ev)

	return &Completion{Record: rec, Verified: v.Verified, Attempts: v.Attempts}, nil
}

// WebhookStatus says how a delivered webhook was disposed of. Every status is
// acknowledged to the provider.
type WebhookStatus string

const (
	WebhookApplied         WebhookStatus = "applied"
	WebhookStale           WebhookStatus = "stale"
	WebhookIgnored         WebhookStatus = "ignored"
	WebhookUnknownCustomer WebhookStatus = "unknown_customer"
	WebhookUnpaid          WebhookStatus = "payment_not_completed"
)

type WebhookResult struct {
	Provider string        `json:"provider"`
	EventID  string        `json:"event_id,omitempty"`
	Kind     Kind          `json:"kind,omitempty"`
	Status   WebhookStatus `json:"status"`
}

// HandleWebhook verifies, parses and applies a provider webhook. A returned
// error means the provider should redeliver, except ErrSignatureInvalid and
// ErrMalformedPayload which will never succeed.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	res := &WebhookResult{Provider: s.provider.Name()}

	ev, err := s.provider.ParseWebhook(ctx, payload, signature)
	switch {
	case errors.Is(err, ErrEventIgnored):
		res.Status = WebhookIgnored
		return res, nil
	case err != nil:
		s.logger.WarnContext(ctx, "webhook rejected",
			logger.Component("webhook"),
			logger.Provider(res.Provider),
			logger.Error(err),
		)
		return nil, err
	}

	res.EventID = ev.ID
	res.Kind = ev.Kind

	out, err := s.reconciler.Apply(ctx, *ev)
	switch {
	case errors.Is(err, ErrUnknownCustomer):
		res.Status = WebhookUnknownCustomer
		return res, nil
	case errors.Is(err, ErrPaymentNotCompleted):
		res.Status = WebhookUnpaid
		return res, nil
	case err != nil:
		return nil, err
	}

	res.Status = WebhookStale
	if out.Applied {
		res.Status = WebhookApplied
	}

	s.notifyTransition(ctx, out, *ev)

	return res, nil
}

// ManualSet is the operator repair path. subscriptionID is an optional hint
// recorded with a paid plan; an empty hint keeps the stored one. force
// bypasses the ordering guard.
func (s *Service) ManualSet(ctx context.Context, d identity.Descriptor, plan, subscriptionID string, force bool) (*Outcome, error) {
	p, err := ParsePlan(plan)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Apply(ctx, Event{
		Kind:           KindManualPlanSet,
		Identity:       d,
		Plan:           p,
		SubscriptionID: subscriptionID,
		Force:          force,
	})
}

// Current returns the caller's record, creating the default free record on
// first access.
func (s *Service) Current(ctx context.Context, d identity.Descriptor) (*Record, error) {
	rec, key, err := s.lookup(ctx, d)
	switch {
	case err == nil:
		return rec, nil
	case !errors.Is(err, ErrRecordNotFound):
		return nil, err
	}

	// LastUpdated 0 never beats an existing row, so this only inserts.
	stored, _, err := s.store.ConditionalUpsert(ctx, DefaultRecord(key.Value, s.now()))
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Cancel ends the caller's paid subscription at the provider and locally.
// A provider failure is logged as divergence and does not stop the local
// downgrade; the provider's own webhook converges it later.
func (s *Service) Cancel(ctx context.Context, d identity.Descriptor) (*Outcome, error) {
	rec, _, err := s.lookup(ctx, d)
	if err != nil {
		return nil, err
	}
	if !rec.IsPaid() {
		return &Outcome{Kind: KindManualPlanSet, Record: rec, Previous: rec}, nil
	}

	if rec.ExternalSubscriptionID != "" {
		if err := s.provider.CancelSubscription(ctx, rec.ExternalSubscriptionID); err != nil {
			s.metrics.diverged("cancel_provider")
			s.logger.ErrorContext(ctx, "provider cancellation failed, downgrading locally",
				logger.Component("service"),
				logger.Provider(s.provider.Name()),
				logger.UserKey(rec.UserKey),
				logger.SubscriptionID(rec.ExternalSubscriptionID),
				logger.Error(err),
			)
		}
	}

	ev := Event{
		Kind:       KindManualPlanSet,
		Identity:   d,
		Plan:       PlanFree,
		CustomerID: rec.ExternalCustomerID,
	}
	out, err := s.reconciler.Apply(ctx, ev)
	if err != nil {
		if rec.ExternalSubscriptionID != "" {
			s.metrics.diverged("cancel_store")
		}
		return nil, err
	}

	s.notifyTransition(ctx, out, ev)
	return out, nil
}

// lookup reads the caller's record under the primary key, or the alternate
// key when the primary is not storable.
func (s *Service) lookup(ctx context.Context, d identity.Descriptor) (*Record, identity.Key, error) {
	key, err := identity.Resolve(d)
	if err != nil {
		return nil, identity.Key{}, err
	}

	rec, err := s.store.Get(ctx, key.Value)
	if !errors.Is(err, ErrKeyFormatRejected) {
		return rec, key, err
	}

	alt, ok := identity.Alternate(d, key)
	if !ok {
		return nil, key, err
	}
	rec, err = s.store.Get(ctx, alt.Value)
	return rec, alt, err
}

// notifyTransition sends a receipt when a paid plan was entered and a
// cancellation notice when a paid plan was left.
func (s *Service) notifyTransition(ctx context.Context, out *Outcome, ev Event) {
	if !out.Changed() {
		return
	}

	prev, next := out.PreviousPlan(), out.Record.Plan
	msg := Notification{
		To:        firstNonEmpty(ev.CustomerEmail, ev.Identity.Email),
		UserName:  firstNonEmpty(ev.CustomerName, ev.Identity.Name),
		ResolveTo: s.customerEmail(out.Record.ExternalCustomerID),
	}

	switch {
	case next.Paid():
		msg.Kind = NotifyReceipt
		msg.PlanName = s.catalog.DisplayName(next)
		if info, ok := s.catalog.Info(next); ok {
			msg.Amount = info.Price.String()
		}
		msg.InvoiceID = ev.ID
		msg.Date = s.now().Add(DefaultPeriod)
	case prev.Paid():
		msg.Kind = NotifyCancellation
		msg.PlanName = s.catalog.DisplayName(prev)
		msg.Date = s.now()
		if out.Previous != nil && out.Previous.CurrentPeriodEnd > 0 {
			msg.Date = time.Unix(out.Previous.CurrentPeriodEnd, 0)
		}
	default:
		return
	}

	s.notifier.Notify(ctx, msg)
}

func (s *Service) customerEmail(customerID string) func(context.Context) (string, error) {
	if customerID == "" {
		return nil
	}
	return func(ctx context.Context) (string, error) {
		return s.provider.CustomerEmail(ctx, customerID)
	}
}
