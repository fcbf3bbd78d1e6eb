// Package connection implements the realtime connection layer.
//
// The Manager:
//   - Owns the single websocket connection to the sync backend
//   - Authenticates it with an auth frame after transport open
//   - Re-registers every live subscription after a reconnect
//   - Handles abnormal closure with bounded exponential backoff
//   - Routes inbound frames by their type discriminator
package connection
