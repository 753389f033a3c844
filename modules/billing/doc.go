// Package billing is the HTTP surface of the subscription engine: the
// checkout and success endpoints, the subscription read and cancel
// endpoints, the operator repair endpoint, and the provider webhook
// receiver. Engine errors are mapped to HTTP statuses by MapError and
// MapWebhookError.
package billing
