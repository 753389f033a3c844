package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/subsync/pkg/binder"
	"github.com/dmitrymomot/subsync/pkg/logger"
	"github.com/dmitrymomot/subsync/pkg/requestid"
)

// ErrorMapper translates a domain error into an HTTPError. It reports false
// for errors it does not know.
type ErrorMapper func(err error) (HTTPError, bool)

// Classify resolves err to an HTTP error: already-typed errors first, then
// binder failures, then each mapper in order. Unknown errors become 500.
func Classify(err error, mappers ...ErrorMapper) error {
	var httpErr HTTPError
	var valErr ValidationError
	switch {
	case errors.As(err, &valErr), errors.As(err, &httpErr):
		return err
	case errors.Is(err, binder.ErrUnsupportedMediaType):
		return ErrUnsupportedMediaType.WithMessage(err.Error())
	case errors.Is(err, binder.ErrFailedToParseJSON), errors.Is(err, binder.ErrFailedToParseQuery):
		return ErrBadRequest.WithMessage(err.Error())
	}

	for _, m := range mappers {
		if mapped, ok := m(err); ok {
			return mapped
		}
	}
	return ErrInternalServerError
}

// NewErrorHandler returns an ErrorHandler that classifies errors with
// mappers, logs them (warn for 4xx, error for 5xx) and renders the JSON error
// envelope.
func NewErrorHandler(log *slog.Logger, mappers ...ErrorMapper) ErrorHandler[Context] {
	if log == nil {
		log = logger.Discard()
	}

	return func(ctx Context, err error) {
		resp := Classify(err, mappers...)
		status, _ := errorToDetail(resp)

		level := slog.LevelError
		if status < http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		r := ctx.Request()
		log.LogAttrs(r.Context(), level, "request failed",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status_code", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("error_handler"),
		)

		if renderErr := JSONError(resp).Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.ErrorContext(r.Context(), "failed to render error response", logger.Error(renderErr))
		}
	}
}
