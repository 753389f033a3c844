package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/subsync/pkg/identity"
	"github.com/dmitrymomot/subsync/pkg/logger"
)

// Reconciler applies events to the Store. It is the only writer of records;
// every entry point funnels through Apply.
type Reconciler struct {
	store   Store
	catalog *Catalog
	clock   Clock
	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger sets the logger; nil keeps the discard logger.
func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the write-ordering marker source.
func WithClock(c Clock) ReconcilerOption {
	return func(r *Reconciler) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithReconcilerNow overrides the wall clock used for period arithmetic.
func WithReconcilerNow(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithReconcilerMetrics records outcomes and fallback retries on m.
func WithReconcilerMetrics(m *Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// NewReconciler panics on missing dependencies to fail fast at wiring time.
func NewReconciler(store Store, catalog *Catalog, opts ...ReconcilerOption) *Reconciler {
	if store == nil {
		panic("subscription: Store is required")
	}
	if catalog == nil {
		panic("subscription: Catalog is required")
	}

	r := &Reconciler{
		store:   store,
		catalog: catalog,
		clock:   NewMonotonicClock(),
		now:     time.Now,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply computes the next record for ev and writes it. A stale write is not an
// error: the Outcome reports Applied=false and carries the stored record.
//
// The write marker is issued before the record is read. A write computed from
// a read that a concurrent writer has since overtaken carries the older marker
// and is rejected by the store.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (*Outcome, error) {
	start := time.Now()
	marker := r.clock.Now()

	var (
		out *Outcome
		err error
	)
	switch ev.Kind {
	case KindCheckoutCompleted:
		out, err = r.checkoutCompleted(ctx, ev, marker)
	case KindSubscriptionUpdated:
		out, err = r.subscriptionUpdated(ctx, ev, marker)
	case KindSubscriptionDeleted:
		out, err = r.subscriptionDeleted(ctx, ev, marker)
	case KindManualPlanSet:
		out, err = r.manualPlanSet(ctx, ev, marker)
	default:
		err = ErrUnknownEvent
	}

	r.metrics.reconciled(ev.Kind, outcomeLabel(out, err))

	attrs := []any{
		logger.Component("reconciler"),
		logger.EventType(string(ev.Kind)),
		logger.Duration(time.Since(start)),
	}
	if out != nil {
		attrs = append(attrs,
			logger.UserKey(out.Key.Value),
			logger.KeySource(string(out.Key.Source)),
			slog.Bool("applied", out.Applied),
		)
		if out.Record != nil {
			attrs = append(attrs, logger.Plan(string(out.Record.Plan)))
		}
	}

	switch {
	case err == nil:
		r.logger.InfoContext(ctx, "event reconciled", attrs...)
	case errors.Is(err, ErrUnknownCustomer):
		r.logger.WarnContext(ctx, "event references unknown customer",
			append(attrs, logger.CustomerID(ev.CustomerID), logger.Error(err))...)
	default:
		r.logger.ErrorContext(ctx, "event reconciliation failed", append(attrs, logger.Error(err))...)
	}

	return out, err
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, ev Event, marker int64) (*Outcome, error) {
	if !ev.PaymentStatus.Completed() {
		return nil, ErrPaymentNotCompleted
	}
	if !ev.Plan.Paid() {
		return nil, ErrUnknownPlan
	}

	key, err := identity.Resolve(ev.Identity)
	if err != nil {
		return nil, err
	}

	status := StatusActive
	if ev.Status != "" && ev.Status != StatusCanceled {
		status = ev.Status
	}

	return r.write(ctx, ev, key, marker, false, func(prev *Record) Record {
		next := r.base(key.Value, prev)
		next.Plan = ev.Plan
		next.Status = status
		next.ExternalCustomerID = firstNonEmpty(ev.CustomerID, next.ExternalCustomerID)
		next.ExternalSubscriptionID = firstNonEmpty(ev.SubscriptionID, next.ExternalSubscriptionID)
		if ev.CurrentPeriodEnd > 0 {
			next.CurrentPeriodEnd = ev.CurrentPeriodEnd
		}
		return next
	})
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, ev Event, marker int64) (*Outcome, error) {
	existing, key, err := r.lookupCustomer(ctx, ev.CustomerID)
	if err != nil {
		return nil, err
	}

	return r.writeExisting(ctx, ev, key, existing, marker, func(prev *Record) Record {
		next := *prev
		if plan, ok := r.catalog.PlanForPrice(ev.PriceID); ok {
			next.Plan = plan
		}
		if ev.Status != "" {
			next.Status = ev.Status
		}
		if ev.SubscriptionID != "" {
			next.ExternalSubscriptionID = ev.SubscriptionID
		}
		if ev.CurrentPeriodEnd > 0 {
			next.CurrentPeriodEnd = ev.CurrentPeriodEnd
		}
		if next.Status == StatusCanceled {
			next.Plan = PlanFree
			next.ExternalSubscriptionID = ""
		}
		return next
	})
}

func (r *Reconciler) subscriptionDeleted(ctx context.Context, ev Event, marker int64) (*Outcome, error) {
	existing, key, err := r.lookupCustomer(ctx, ev.CustomerID)
	if err != nil {
		return nil, err
	}

	return r.writeExisting(ctx, ev, key, existing, marker, func(prev *Record) Record {
		next := *prev
		next.Plan = PlanFree
		next.Status = StatusCanceled
		next.ExternalSubscriptionID = ""
		return next
	})
}

func (r *Reconciler) manualPlanSet(ctx context.Context, ev Event, marker int64) (*Outcome, error) {
	if !ev.Plan.Valid() {
		return nil, ErrUnknownPlan
	}

	key, err := identity.Resolve(ev.Identity)
	if err != nil {
		return nil, err
	}

	now := r.now()
	return r.write(ctx, ev, key, marker, ev.Force, func(prev *Record) Record {
		next := r.base(key.Value, prev)
		next.Plan = ev.Plan

		if ev.Plan.Paid() {
			next.Status = StatusActive
			next.ExternalSubscriptionID = firstNonEmpty(ev.SubscriptionID, next.ExternalSubscriptionID)
			if next.CurrentPeriodEnd == 0 || next.Expired(now) {
				next.CurrentPeriodEnd = now.Add(DefaultPeriod).Unix()
			}
			return next
		}

		next.Status = StatusActive
		if prev != nil && prev.Plan.Paid() {
			next.Status = StatusCanceled
		}
		next.ExternalSubscriptionID = ""
		return next
	})
}

// lookupCustomer is the reverse lookup that provider-initiated events use to
// find the record they belong to.
func (r *Reconciler) lookupCustomer(ctx context.Context, customerID string) (*Record, identity.Key, error) {
	if customerID == "" {
		return nil, identity.Key{}, ErrMissingCustomerID
	}

	rec, err := r.store.GetByCustomerID(ctx, customerID)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return nil, identity.Key{}, ErrUnknownCustomer
	case err != nil:
		return nil, identity.Key{}, err
	}

	return rec, identity.Key{Value: rec.UserKey, Source: identity.SourceStored}, nil
}

// base starts the next record from the stored one or the default record.
func (r *Reconciler) base(userKey string, prev *Record) Record {
	if prev != nil {
		next := *prev
		next.UserKey = userKey
		return next
	}
	return DefaultRecord(userKey, r.now())
}

type buildFunc func(prev *Record) Record

// write reads the current record under key, builds the next state and stores
// it. A key-format rejection is retried once with the alternate key.
func (r *Reconciler) write(ctx context.Context, ev Event, key identity.Key, marker int64, force bool, build buildFunc) (*Outcome, error) {
	out, err := r.writeKey(ctx, ev.Kind, key, marker, force, build)
	if !errors.Is(err, ErrKeyFormatRejected) {
		return out, err
	}

	alt, ok := identity.Alternate(ev.Identity, key)
	if !ok {
		return nil, err
	}

	r.metrics.fallback(ev.Kind, string(alt.Source))
	r.logger.WarnContext(ctx, "user key rejected by store, retrying with alternate key",
		logger.Component("reconciler"),
		logger.EventType(string(ev.Kind)),
		logger.UserKey(key.Value),
		logger.KeySource(string(alt.Source)),
		logger.Error(err),
	)

	out, err = r.writeKey(ctx, ev.Kind, alt, marker, force, build)
	if err != nil {
		return nil, err
	}
	out.UsedFallback = true
	return out, nil
}

func (r *Reconciler) writeKey(ctx context.Context, kind Kind, key identity.Key, marker int64, force bool, build buildFunc) (*Outcome, error) {
	prev, err := r.store.Get(ctx, key.Value)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		prev = nil
	case err != nil:
		return nil, err
	}
	return r.persist(ctx, kind, key, prev, marker, force, build)
}

// writeExisting is used when the record was already found by reverse lookup.
func (r *Reconciler) writeExisting(ctx context.Context, ev Event, key identity.Key, prev *Record, marker int64, build buildFunc) (*Outcome, error) {
	return r.persist(ctx, ev.Kind, key, prev, marker, false, build)
}

func (r *Reconciler) persist(ctx context.Context, kind Kind, key identity.Key, prev *Record, marker int64, force bool, build buildFunc) (*Outcome, error) {
	next := build(prev)
	next.UserKey = key.Value
	next.LastUpdated = marker

	out := &Outcome{Kind: kind, Key: key, Previous: prev}

	if force {
		stored, err := r.store.Upsert(ctx, next)
		if err != nil {
			return nil, err
		}
		out.Record = stored
		out.Applied = true
		return out, nil
	}

	stored, applied, err := r.store.ConditionalUpsert(ctx, next)
	if err != nil {
		return nil, err
	}
	out.Record = stored
	out.Applied = applied
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
