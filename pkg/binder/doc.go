// Package binder fills request structs from HTTP requests.
//
// Binders have the signature func(*http.Request, any) error and are passed to
// handler.Wrap through handler.WithBinders. Each binder handles one source:
// JSON reads the body, Query reads URL parameters. A binder that has nothing
// to read returns ErrNotApplicable and Wrap moves on to the next one.
//
//	handler.Wrap(h, handler.WithBinders[handler.Context, checkoutRequest](binder.JSON()))
package binder
