package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/subsync/pkg/logger"
)

const (
	DefaultVerifyAttempts = 5
	DefaultVerifyDelay    = 300 * time.Millisecond
)

// Verification is the result of reading a write back.
// Verified=false means accepted but not yet observed; callers must not treat
// it as a failure.
type Verification struct {
	Record   *Record
	Verified bool
	Attempts int
}

// Verifier re-reads a record after an interactive write until the intended
// plan is observed or the attempt budget runs out.
type Verifier struct {
	store    Store
	attempts int
	delay    time.Duration
	logger   *slog.Logger
	metrics  *Metrics
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifyPolicy sets the fixed attempt count and delay between attempts.
func WithVerifyPolicy(attempts int, delay time.Duration) VerifierOption {
	return func(v *Verifier) {
		if attempts > 0 {
			v.attempts = attempts
		}
		if delay >= 0 {
			v.delay = delay
		}
	}
}

// WithVerifierLogger sets the logger; nil keeps the discard logger.
func WithVerifierLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithVerifierMetrics records verification attempts on m.
func WithVerifierMetrics(m *Metrics) VerifierOption {
	return func(v *Verifier) { v.metrics = m }
}

func NewVerifier(store Store, opts ...VerifierOption) *Verifier {
	if store == nil {
		panic("subscription: Store is required")
	}
	v := &Verifier{
		store:    store,
		attempts: DefaultVerifyAttempts,
		delay:    DefaultVerifyDelay,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify polls the store for userKey until its plan equals want.
// Store errors within the budget are swallowed. Context cancellation only cuts
// the wait short; the last observed record is still returned.
func (v *Verifier) Verify(ctx context.Context, userKey string, want Plan) Verification {
	var res Verification

	for attempt := 1; attempt <= v.attempts; attempt++ {
		res.Attempts = attempt

		rec, err := v.store.Get(ctx, userKey)
		switch {
		case err == nil:
			res.Record = rec
			if rec.Plan == want {
				res.Verified = true
				v.metrics.verified(attempt, true)
				return res
			}
		case !errors.Is(err, ErrRecordNotFound):
			v.logger.DebugContext(ctx, "verification read failed",
				logger.Component("verifier"),
				logger.UserKey(userKey),
				logger.RetryCount(attempt),
				logger.Error(err),
			)
		}

		if attempt == v.attempts {
			break
		}

		timer := time.NewTimer(v.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			v.finish(ctx, userKey, want, res)
			return res
		case <-timer.C:
		}
	}

	v.finish(ctx, userKey, want, res)
	return res
}

func (v *Verifier) finish(ctx context.Context, userKey string, want Plan, res Verification) {
	v.metrics.verified(res.Attempts, false)
	v.logger.WarnContext(ctx, "write accepted but not verified",
		logger.Component("verifier"),
		logger.UserKey(userKey),
		logger.Plan(string(want)),
		logger.RetryCount(res.Attempts),
	)
}
