package subscription

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/subsync/pkg/logger"
)

// CheckoutRequest asks for an upgrade of an already resolved user key.
type CheckoutRequest struct {
	UserKey string
	Plan    Plan
	Email   string
}

// CheckoutResult is either a plain redirect (free plan) or a provider session.
type CheckoutResult struct {
	RedirectURL string `json:"url"`
	SessionID   string `json:"session_id,omitempty"`
	Reused      bool   `json:"-"`
}

// CheckoutConfig holds the URLs handed to the provider.
type CheckoutConfig struct {
	SuccessURL      string        `env:"CHECKOUT_SUCCESS_URL" envDefault:"http://localhost:8080/billing/success?session_id={CHECKOUT_SESSION_ID}"`
	CancelURL       string        `env:"CHECKOUT_CANCEL_URL" envDefault:"http://localhost:8080/pricing"`
	FreeRedirectURL string        `env:"CHECKOUT_FREE_REDIRECT_URL" envDefault:"/dashboard"`
	CacheTTL        time.Duration `env:"CHECKOUT_CACHE_TTL" envDefault:"10m"`
}

// CheckoutInitiator opens provider checkouts for paid plans.
type CheckoutInitiator struct {
	provider BillingProvider
	catalog  *Catalog
	cache    CheckoutCache
	cfg      CheckoutConfig
	now      func() time.Time
	logger   *slog.Logger
	metrics  *Metrics
}

// CheckoutOption configures a CheckoutInitiator.
type CheckoutOption func(*CheckoutInitiator)

// WithCheckoutCache reuses open sessions from c.
func WithCheckoutCache(c CheckoutCache) CheckoutOption {
	return func(ci *CheckoutInitiator) { ci.cache = c }
}

// WithCheckoutLogger sets the logger; nil keeps the discard logger.
func WithCheckoutLogger(l *slog.Logger) CheckoutOption {
	return func(ci *CheckoutInitiator) {
		if l != nil {
			ci.logger = l
		}
	}
}

// WithCheckoutMetrics records session cache hits and misses on m.
func WithCheckoutMetrics(m *Metrics) CheckoutOption {
	return func(ci *CheckoutInitiator) { ci.metrics = m }
}

// WithCheckoutNow overrides the wall clock.
func WithCheckoutNow(now func() time.Time) CheckoutOption {
	return func(ci *CheckoutInitiator) {
		if now != nil {
			ci.now = now
		}
	}
}

func NewCheckoutInitiator(provider BillingProvider, catalog *Catalog, cfg CheckoutConfig, opts ...CheckoutOption) *CheckoutInitiator {
	if provider == nil {
		panic("subscription: BillingProvider is required")
	}
	if catalog == nil {
		panic("subscription: Catalog is required")
	}
	if cfg.FreeRedirectURL == "" {
		cfg.FreeRedirectURL = "/dashboard"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCheckoutCacheTTL
	}

	ci := &CheckoutInitiator{
		provider: provider,
		catalog:  catalog,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(ci)
	}
	return ci
}

// Start opens (or reuses) a checkout for req. The free plan never reaches the
// provider and never writes to the store.
func (ci *CheckoutInitiator) Start(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if req.UserKey == "" {
		return nil, ErrInvalidRecord
	}
	if !req.Plan.Valid() {
		return nil, ErrUnknownPlan
	}
	if !req.Plan.Paid() {
		return &CheckoutResult{RedirectURL: ci.cfg.FreeRedirectURL}, nil
	}

	priceID, err := ci.catalog.PriceID(req.Plan)
	if err != nil {
		return nil, err
	}

	if ci.cache != nil {
		s, ok, err := ci.cache.Get(ctx, req.UserKey, req.Plan)
		switch {
		case err != nil:
			ci.metrics.cache("error")
			ci.logger.WarnContext(ctx, "checkout cache read failed",
				logger.Component("checkout"),
				logger.Error(err),
			)
		case ok:
			ci.metrics.cache("hit")
			return &CheckoutResult{RedirectURL: s.URL, SessionID: s.ID, Reused: true}, nil
		default:
			ci.metrics.cache("miss")
		}
	}

	s, err := ci.provider.CreateCheckout(ctx, ProviderCheckoutRequest{
		UserKey:        req.UserKey,
		Plan:           req.Plan,
		PriceID:        priceID,
		Email:          req.Email,
		SuccessURL:     withPlanParam(ci.cfg.SuccessURL, req.Plan),
		CancelURL:      ci.cfg.CancelURL,
		IdempotencyKey: ci.idempotencyKey(req),
	})
	if err != nil {
		ci.logger.ErrorContext(ctx, "checkout creation failed",
			logger.Component("checkout"),
			logger.Provider(ci.provider.Name()),
			logger.UserKey(req.UserKey),
			logger.Plan(string(req.Plan)),
			logger.Error(err),
		)
		return nil, err
	}

	if ci.cache != nil {
		if err := ci.cache.Put(ctx, req.UserKey, req.Plan, s); err != nil {
			ci.logger.WarnContext(ctx, "checkout cache write failed",
				logger.Component("checkout"),
				logger.Error(err),
			)
		}
	}

	ci.logger.InfoContext(ctx, "checkout created",
		logger.Component("checkout"),
		logger.Provider(ci.provider.Name()),
		logger.UserKey(req.UserKey),
		logger.Plan(string(req.Plan)),
	)

	return &CheckoutResult{RedirectURL: s.URL, SessionID: s.ID}, nil
}

// idempotencyKey is stable within one cache window for the same pair and
// differs for any other pair.
func (ci *CheckoutInitiator) idempotencyKey(req CheckoutRequest) string {
	window := max(int64(ci.cfg.CacheTTL/time.Second), 1)
	bucket := ci.now().Unix() / window
	sum := sha256.Sum256([]byte(req.UserKey + "|" + string(req.Plan) + "|" + strconv.FormatInt(bucket, 10)))
	return "checkout-" + hex.EncodeToString(sum[:16])
}

// withPlanParam appends the plan to the success URL so the success endpoint
// can check it against the checkout metadata.
func withPlanParam(u string, plan Plan) string {
	if u == "" {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "plan=" + string(plan)
}
