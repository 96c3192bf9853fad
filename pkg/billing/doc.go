// Package billing synchronizes account subscription state with the payment
// provider.
//
// # Overview
//
// The provider delivers webhook events at least once and in no guaranteed
// order. The pipeline is:
//
//	raw body -> Verifier (signature) -> Deduper (event ID) -> Reconciler -> accounts.Store
//
// The Verifier authenticates the raw payload bytes. The Deduper absorbs
// replays across the provider's retry horizon. The Reconciler maps each
// event kind to a conditional store update, guarded by the event's created
// timestamp so a late-arriving older event never overwrites newer state.
//
// Outbound, the Provider interface creates hosted checkout and billing
// portal sessions and fetches subscription snapshots, with transient
// failures retried under RetryPolicy.
//
// Resync is the periodic safety net: accounts whose recorded period end has
// passed are re-checked against the provider on a cron schedule.
//
// # Related Packages
//
//   - pkg/accounts: the store the reconciler writes to
//   - pkg/api: the webhook and checkout HTTP handlers
package billing
