// Package subscription keeps a local subscription record in step with an
// external billing provider.
//
// Several writers touch the same record: the interactive checkout success
// redirect, provider webhooks (retried and unordered) and operator repair.
// All of them go through one Reconciler, which computes the next Record and
// writes it with Store.ConditionalUpsert. Each write carries a LastUpdated
// marker from a monotonic Clock; a write whose marker is not greater than the
// stored one is a no-op. That guard is the only ordering and de-duplication
// mechanism: there is no event-id ledger.
//
// # Components
//
//   - Store: PostgresStore (pgx) and MemoryStore. One row per user key.
//   - Reconciler: CheckoutCompleted, SubscriptionUpdated, SubscriptionDeleted
//     and ManualPlanSet transitions, with a single fallback-key retry when the
//     store rejects the key format.
//   - Verifier: bounded read-back for the interactive path.
//   - CheckoutInitiator: opens provider checkouts carrying {user_key, plan}
//     metadata, de-duplicated per pair through a CheckoutCache.
//   - Notifier: fire-and-forget receipt and cancellation emails.
//   - BillingProvider: StripeProvider and PaddleProvider.
//   - Service: the facade used by HTTP handlers.
//
// # Errors
//
// Sentinel errors are matched with errors.Is. IsRetryable tells whether a
// webhook should be redelivered or an interactive call retried.
package subscription
