// Package api provides the REST client used for snapshot fetches.
//
// The realtime layer seeds each synchronized collection with one full
// read of the resource before applying live deltas. Those reads go
// through this client, never through the websocket.
package api
