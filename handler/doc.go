// Package handler adapts typed request handlers to net/http.
//
// A HandlerFunc receives a Context and a request struct filled by binders
// from pkg/binder, and returns a Response. Wrap turns it into an
// http.HandlerFunc that chi can mount:
//
//	r.Post("/checkout", handler.Wrap(h.checkout,
//		handler.WithBinders[handler.Context, checkoutRequest](binder.JSON()),
//		handler.WithErrorHandler[handler.Context, checkoutRequest](errorHandler),
//	))
//
// Responses are JSON envelopes ({"data":...} or {"error":{"code","message"}})
// or empty status-only replies. Errors are rendered through HTTPError and
// ValidationError; NewErrorHandler classifies domain errors with
// caller-supplied ErrorMappers and logs them with the request id.
package handler
