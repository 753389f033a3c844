package billing

import (
	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/subsync/pkg/jwt"
)

// RouterOptions wires the billing module.
type RouterOptions struct {
	Handlers *Handlers
	// Sessions verifies the caller's bearer token on /api/billing. Without
	// it every API call is anonymous and fails identity resolution.
	Sessions *jwt.Service
}

// Router mounts the billing API and provider webhooks:
//
//	r := chi.NewRouter()
//	r.Mount("/", billing.Router(billing.RouterOptions{
//		Handlers: billing.NewHandlers(svc, log),
//		Sessions: sessions,
//	}))
func Router(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	r.Mount("/webhooks", opts.Handlers.Webhooks())

	r.Route("/api/billing", func(api chi.Router) {
		if opts.Sessions != nil {
			api.Use(jwt.Middleware(opts.Sessions))
		}
		api.Mount("/", opts.Handlers.API())
	})

	return r
}
