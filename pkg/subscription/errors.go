package subscription

import "errors"

var (
	ErrRecordNotFound    = errors.New("subscription record not found")
	ErrKeyFormatRejected = errors.New("subscription key format rejected by store")
	ErrStoreUnavailable  = errors.New("subscription store unavailable")
	ErrInvalidRecord     = errors.New("invalid subscription record")

	ErrUnknownPlan         = errors.New("unknown subscription plan")
	ErrPlanMismatch        = errors.New("checkout plan does not match requested plan")
	ErrPaymentNotCompleted = errors.New("checkout payment not completed")
	ErrUnknownCustomer     = errors.New("no subscription references provider customer")
	ErrUnknownEvent        = errors.New("unknown reconciliation event")

	// Provider errors
	ErrSignatureInvalid      = errors.New("webhook signature verification failed")
	ErrEventIgnored          = errors.New("webhook event type not handled")
	ErrMalformedPayload      = errors.New("malformed provider payload")
	ErrProviderRejected      = errors.New("billing provider rejected the request")
	ErrProviderUnavailable   = errors.New("billing provider temporarily unavailable")
	ErrProviderRateLimited   = errors.New("billing provider rate limit exceeded")
	ErrProviderMisconfigured = errors.New("billing provider misconfigured")
	ErrMissingAPIKey         = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret  = errors.New("billing provider webhook secret is required")
	ErrInvalidProviderEnv    = errors.New("invalid billing provider environment")
	ErrUnsupportedProvider   = errors.New("unsupported billing provider")
	ErrNoCheckoutURL         = errors.New("no checkout URL returned from provider")
	ErrMissingPriceID        = errors.New("price ID is required")
	ErrMissingSubscriptionID = errors.New("provider subscription ID is required")
	ErrMissingCustomerID     = errors.New("provider customer ID is required")
)

// IsRetryable reports whether err is transient and the caller (or the provider
// redelivering a webhook) should try again later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrProviderRateLimited)
}
