package billing

import (
	"errors"

	"github.com/dmitrymomot/subsync/handler"
	"github.com/dmitrymomot/subsync/pkg/identity"
	"github.com/dmitrymomot/subsync/pkg/subscription"
)

// MapError maps engine errors on the interactive endpoints to HTTP errors.
func MapError(err error) (handler.HTTPError, bool) {
	switch {
	case errors.Is(err, identity.ErrIdentityUnresolved):
		return handler.ErrUnauthorized.WithMessage("sign in to manage billing"), true
	case errors.Is(err, subscription.ErrPaymentNotCompleted):
		return handler.ErrPaymentRequired.WithMessage("payment has not completed"), true
	case errors.Is(err, subscription.ErrUnknownPlan):
		return handler.ErrBadRequest.WithMessage("unknown plan"), true
	case errors.Is(err, subscription.ErrPlanMismatch):
		return handler.ErrBadRequest.WithMessage("checkout was for a different plan"), true
	case errors.Is(err, subscription.ErrProviderRejected):
		return handler.ErrBadRequest.WithMessage("billing provider rejected the request"), true
	case errors.Is(err, subscription.ErrRecordNotFound):
		return handler.ErrNotFound.WithMessage("no subscription"), true
	case errors.Is(err, subscription.ErrProviderRateLimited):
		return handler.ErrTooManyRequests, true
	case errors.Is(err, subscription.ErrStoreUnavailable), errors.Is(err, subscription.ErrProviderUnavailable):
		return handler.ErrServiceUnavailable, true
	}
	return handler.HTTPError{}, false
}

// MapWebhookError maps webhook failures. Anything retryable is a 503 so the
// provider redelivers. A bad signature, a payload without a usable identity or
// a price outside the catalog is a 400, since redelivery cannot fix it.
func MapWebhookError(err error) (handler.HTTPError, bool) {
	switch {
	case errors.Is(err, subscription.ErrSignatureInvalid):
		return handler.ErrBadRequest.WithMessage("invalid signature"), true
	case errors.Is(err, subscription.ErrMalformedPayload):
		return handler.ErrBadRequest.WithMessage("malformed payload"), true
	case errors.Is(err, identity.ErrIdentityUnresolved):
		return handler.ErrBadRequest.WithMessage("event carries no customer identity"), true
	case errors.Is(err, subscription.ErrUnknownPlan):
		return handler.ErrBadRequest.WithMessage("unknown price"), true
	case subscription.IsRetryable(err):
		return handler.ErrServiceUnavailable, true
	}
	return handler.HTTPError{}, false
}
