// Package logger builds the *slog.Logger used across subsync.
//
// New wraps a JSON or text handler with NewContextHandler, which copies
// request-scoped values (request id, caller session) from the context into
// every record. The attribute helpers in attr.go keep key names consistent:
// user_key, plan, provider, customer_id and so on.
//
//	opts, err := logger.FromConfig(cfg)
//	if err != nil {
//		return err
//	}
//	log := logger.New(append(opts,
//		logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)...)
//	log.InfoContext(ctx, "subscription reconciled",
//		logger.UserKey(rec.UserKey),
//		logger.Plan(rec.Plan.String()),
//	)
//
// Error and Errors return an empty attribute for nil errors, so call sites can
// log unconditionally.
package logger
