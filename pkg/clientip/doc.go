// Package clientip resolves the caller's address for request logging.
//
// Webhook deliveries and API calls are logged with the address that sent
// them. Behind a load balancer the socket peer is the proxy, so the
// middleware can be told to trust the usual forwarding headers:
//
//	r.Use(clientip.Middleware(cfg.TrustProxy))
//	log := logger.New(logger.WithContextExtractors(clientip.LoggerExtractor()))
//
// Without trustProxy only RemoteAddr is used, which keeps spoofed headers
// out of the logs of a directly exposed server.
package clientip
