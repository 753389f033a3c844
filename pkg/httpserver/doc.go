// Package httpserver runs the subsync HTTP API.
//
// Server serves a handler until its context is canceled and then shuts down
// gracefully within Config.ShutdownTimeout. Signal handling is left to the
// caller (cmd/server uses signal.NotifyContext).
//
// LivenessHandler and ReadinessHandler back the /health/live and
// /health/ready endpoints. Readiness probes (database ping, redis ping) run
// concurrently through golang.org/x/sync/errgroup.
//
//	srv := httpserver.New(cfg, log)
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server stopped", logger.Error(err))
//	}
package httpserver
