// Package feed implements the subscription registry and change
// application for the realtime sync layer.
//
// The registry:
//   - Maps resource keys (table + filter) to delivery callbacks
//   - Refcounts keys so identical subscriptions share one wire channel
//   - Survives reconnects (the connection manager re-registers keys)
//   - Isolates callback panics per subscription
//
// Apply folds a single change event into a record slice with
// insert/update/delete semantics, tolerating out-of-order arrival.
package feed
