// Package async runs side effects off the request path.
//
// Async starts a function in its own goroutine and hands back a Future.
// Callers that care about the outcome Await it (or AwaitContext with a
// deadline); callers that do not simply drop it. The subscription notifier
// uses this to send emails without holding up webhook acknowledgement.
//
//	f := async.Async(ctx, msg, send)
//	if _, err := f.AwaitContext(ctx); err != nil {
//		log.Warn("email still pending", "error", err)
//	}
package async
