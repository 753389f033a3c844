package billing

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/subsync/handler"
	"github.com/dmitrymomot/subsync/pkg/binder"
	"github.com/dmitrymomot/subsync/pkg/environment"
	"github.com/dmitrymomot/subsync/pkg/identity"
	"github.com/dmitrymomot/subsync/pkg/jwt"
	"github.com/dmitrymomot/subsync/pkg/logger"
	"github.com/dmitrymomot/subsync/pkg/subscription"
)

// Subscriptions is the part of subscription.Service the HTTP layer drives.
type Subscriptions interface {
	Provider() string
	Catalog() *subscription.Catalog
	StartCheckout(ctx context.Context, d identity.Descriptor, plan string) (*subscription.CheckoutResult, error)
	CompleteCheckout(ctx context.Context, d identity.Descriptor, sessionID, plan string) (*subscription.Completion, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*subscription.WebhookResult, error)
	ManualSet(ctx context.Context, d identity.Descriptor, plan, subscriptionID string, force bool) (*subscription.Outcome, error)
	Current(ctx context.Context, d identity.Descriptor) (*subscription.Record, error)
	Cancel(ctx context.Context, d identity.Descriptor) (*subscription.Outcome, error)
}

// signatureHeaders names the header each provider signs webhooks in.
var signatureHeaders = map[string]string{
	"stripe": "Stripe-Signature",
	"paddle": "Paddle-Signature",
}

// maxWebhookBody caps webhook payloads; provider events are far smaller.
const maxWebhookBody = binder.DefaultMaxJSONSize

// Handlers serves the billing API and provider webhooks.
type Handlers struct {
	svc          Subscriptions
	log          *slog.Logger
	errorHandler handler.ErrorHandler[handler.Context]
}

func NewHandlers(svc Subscriptions, log *slog.Logger) *Handlers {
	if log == nil {
		log = logger.Discard()
	}
	return &Handlers{
		svc:          svc,
		log:          log,
		errorHandler: handler.NewErrorHandler(log, MapError),
	}
}

// API returns the routes mounted under /api/billing. They expect the caller
// identity from jwt.Middleware.
func (h *Handlers) API() http.Handler {
	r := chi.NewRouter()

	r.Get("/plans", handler.Wrap(h.plans,
		handler.WithErrorHandler[handler.Context, struct{}](h.errorHandler),
	))
	r.Post("/checkout", handler.Wrap(h.checkout,
		handler.WithBinders[handler.Context, checkoutRequest](binder.JSON()),
		handler.WithErrorHandler[handler.Context, checkoutRequest](h.errorHandler),
	))
	r.Get("/success", handler.Wrap(h.success,
		handler.WithBinders[handler.Context, successRequest](binder.Query()),
		handler.WithErrorHandler[handler.Context, successRequest](h.errorHandler),
	))
	r.Get("/subscription", handler.Wrap(h.current,
		handler.WithErrorHandler[handler.Context, struct{}](h.errorHandler),
	))
	r.Post("/cancel", handler.Wrap(h.cancel,
		handler.WithErrorHandler[handler.Context, struct{}](h.errorHandler),
	))
	r.Post("/repair", handler.Wrap(h.repair,
		handler.WithBinders[handler.Context, repairRequest](binder.JSON()),
		handler.WithErrorHandler[handler.Context, repairRequest](h.errorHandler),
	))

	return r
}

// Webhooks returns the provider webhook routes, mounted under /webhooks.
func (h *Handlers) Webhooks() http.Handler {
	r := chi.NewRouter()
	r.Post("/{provider}", handler.Wrap(h.webhook,
		handler.WithErrorHandler[handler.Context, struct{}](handler.NewErrorHandler(h.log, MapWebhookError)),
	))
	return r
}

type planResponse struct {
	Plan    subscription.Plan `json:"plan"`
	Name    string            `json:"name"`
	Price   string            `json:"price"`
	Current bool              `json:"current,omitempty"`
}

func (h *Handlers) plans(ctx handler.Context, _ struct{}) handler.Response {
	var current subscription.Plan
	if d := jwt.Descriptor(ctx); d != (identity.Descriptor{}) {
		if rec, err := h.svc.Current(ctx, d); err == nil {
			current = rec.EffectivePlan(time.Now())
		}
	}

	infos := h.svc.Catalog().Plans()
	out := make([]planResponse, 0, len(infos))
	for _, p := range infos {
		out = append(out, planResponse{
			Plan:    p.Plan,
			Name:    p.Name,
			Price:   p.Price.String(),
			Current: p.Plan == current,
		})
	}
	return handler.JSON(out)
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

func (h *Handlers) checkout(ctx handler.Context, req checkoutRequest) handler.Response {
	if req.Plan == "" {
		verr := handler.NewValidationError()
		verr.Add("plan", "is required")
		return handler.JSONError(verr)
	}

	res, err := h.svc.StartCheckout(ctx, jwt.Descriptor(ctx), req.Plan)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(res, handler.WithJSONMeta(map[string]any{"reused": res.Reused}))
}

type successRequest struct {
	SessionID string `query:"session_id"`
	Plan      string `query:"plan"`
}

func (h *Handlers) success(ctx handler.Context, req successRequest) handler.Response {
	if req.SessionID == "" {
		verr := handler.NewValidationError()
		verr.Add("session_id", "is required")
		return handler.JSONError(verr)
	}

	res, err := h.svc.CompleteCheckout(ctx, jwt.Descriptor(ctx), req.SessionID, req.Plan)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(completionResponse{
		Subscription: newSubscriptionResponse(res.Record),
		Verified:     res.Verified,
	})
}

type completionResponse struct {
	Subscription subscriptionResponse `json:"subscription"`
	Verified     bool                 `json:"verified"`
}

type subscriptionResponse struct {
	UserKey string `json:"user_key"`
	subscription.View
}

func newSubscriptionResponse(rec *subscription.Record) subscriptionResponse {
	if rec == nil {
		return subscriptionResponse{}
	}
	return subscriptionResponse{UserKey: rec.UserKey, View: rec.View()}
}

func (h *Handlers) current(ctx handler.Context, _ struct{}) handler.Response {
	rec, err := h.svc.Current(ctx, jwt.Descriptor(ctx))
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(newSubscriptionResponse(rec))
}

func (h *Handlers) cancel(ctx handler.Context, _ struct{}) handler.Response {
	out, err := h.svc.Cancel(ctx, jwt.Descriptor(ctx))
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(newSubscriptionResponse(out.Record))
}

type repairRequest struct {
	UserKey        string `json:"user_key"`
	Email          string `json:"email"`
	Plan           string `json:"plan"`
	SubscriptionID string `json:"subscription_id"`
	Force          bool   `json:"force"`
}

// repair sets a plan by hand. It targets the given user_key or email, or the
// caller when neither is set, and is refused in production.
func (h *Handlers) repair(ctx handler.Context, req repairRequest) handler.Response {
	if environment.IsProduction(ctx) {
		return handler.Fail(handler.ErrForbidden.WithMessage("repair is disabled in production"))
	}
	if req.Plan == "" {
		verr := handler.NewValidationError()
		verr.Add("plan", "is required")
		return handler.JSONError(verr)
	}

	d := identity.Descriptor{SessionID: req.UserKey, Email: req.Email}
	if d.SessionID == "" && d.Email == "" {
		d = jwt.Descriptor(ctx)
	}

	out, err := h.svc.ManualSet(ctx, d, req.Plan, req.SubscriptionID, req.Force)
	if err != nil {
		return handler.Fail(err)
	}

	h.log.InfoContext(ctx, "subscription repaired",
		logger.Component("billing"),
		logger.UserKey(out.Record.UserKey),
		logger.Plan(out.Record.Plan.String()),
		slog.Bool("applied", out.Applied),
		slog.Bool("forced", req.Force),
	)
	return handler.JSON(newSubscriptionResponse(out.Record), handler.WithJSONMeta(map[string]any{"applied": out.Applied}))
}

func (h *Handlers) webhook(ctx handler.Context, _ struct{}) handler.Response {
	r := ctx.Request()
	provider := chi.URLParam(r, "provider")
	if provider != h.svc.Provider() {
		return handler.Fail(handler.ErrNotFound.WithMessage("unknown provider " + provider))
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		return handler.Fail(handler.ErrBadRequest.WithMessage("unreadable body"))
	}
	if len(payload) > maxWebhookBody {
		return handler.Fail(handler.ErrRequestEntityTooLarge)
	}

	res, err := h.svc.HandleWebhook(ctx, payload, r.Header.Get(signatureHeaders[provider]))
	if err != nil {
		return handler.Fail(err)
	}

	h.log.InfoContext(ctx, "webhook acknowledged",
		logger.Component("webhook"),
		logger.Provider(res.Provider),
		logger.EventType(string(res.Kind)),
		slog.String("status", string(res.Status)),
	)
	return handler.JSON(res)
}
