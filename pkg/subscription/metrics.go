package subscription

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Reconciled     *prometheus.CounterVec
	FallbackKeys   *prometheus.CounterVec
	VerifyAttempts *prometheus.HistogramVec
	Divergence     *prometheus.CounterVec
	Notifications  *prometheus.CounterVec
	CheckoutCache  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	const ns = "subsync"

	m := &Metrics{
		Reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "reconcile_total",
			Help:      "Reconciliation attempts by event kind and outcome",
		}, []string{"event", "outcome"}),

		FallbackKeys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "fallback_key_total",
			Help:      "Writes retried with the alternate key after a key-format rejection",
		}, []string{"event", "source"}),

		VerifyAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "verify_attempts",
			Help:      "Read-back attempts needed to verify an interactive write",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}, []string{"verified"}),

		Divergence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "divergence_total",
			Help:      "Operations where the provider and the local store disagree after a partial failure",
		}, []string{"operation"}),

		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "notifications_total",
			Help:      "Notification deliveries by kind and result",
		}, []string{"kind", "result"}),

		CheckoutCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "checkout_cache_total",
			Help:      "Checkout session cache lookups by result",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Reconciled,
			m.FallbackKeys,
			m.VerifyAttempts,
			m.Divergence,
			m.Notifications,
			m.CheckoutCache,
		)
	}

	return m
}

func (m *Metrics) reconciled(kind Kind, outcome string) {
	if m == nil {
		return
	}
	m.Reconciled.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) fallback(kind Kind, source string) {
	if m == nil {
		return
	}
	m.FallbackKeys.WithLabelValues(string(kind), source).Inc()
}

func (m *Metrics) verified(attempts int, ok bool) {
	if m == nil {
		return
	}
	label := "false"
	if ok {
		label = "true"
	}
	m.VerifyAttempts.WithLabelValues(label).Observe(float64(attempts))
}

func (m *Metrics) diverged(operation string) {
	if m == nil {
		return
	}
	m.Divergence.WithLabelValues(operation).Inc()
}

func (m *Metrics) notified(kind NotificationKind, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.Notifications.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) cache(result string) {
	if m == nil {
		return
	}
	m.CheckoutCache.WithLabelValues(result).Inc()
}

// outcomeLabel classifies a reconciliation result for the reconcile counter.
func outcomeLabel(out *Outcome, err error) string {
	switch {
	case err == nil && out != nil && out.Applied:
		return "applied"
	case err == nil:
		return "stale"
	default:
		return errorLabel(err)
	}
}

func errorLabel(err error) string {
	for _, e := range []struct {
		err   error
		label string
	}{
		{ErrPaymentNotCompleted, "payment_not_completed"},
		{ErrUnknownCustomer, "unknown_customer"},
		{ErrUnknownPlan, "unknown_plan"},
		{ErrKeyFormatRejected, "key_rejected"},
		{ErrStoreUnavailable, "store_unavailable"},
	} {
		if errors.Is(err, e.err) {
			return e.label
		}
	}
	return "error"
}
