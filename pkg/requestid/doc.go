// Package requestid tags every request with a correlation id.
//
// Middleware reuses a well-formed X-Request-ID header from the client (or a
// proxy) and generates a UUID otherwise. The id is echoed in the response,
// stored in the request context and, through LoggerExtractor, attached to every
// log record written with that context. Webhook deliveries are traced by this
// id together with the provider event id.
package requestid
