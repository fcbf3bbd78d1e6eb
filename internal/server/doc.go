// Package server is the development backend: a websocket endpoint
// speaking the realtime sync protocol, REST snapshot reads, and a
// Postgres LISTEN/NOTIFY bridge that turns row changes into change
// frames for connected clients.
//
// It exists for local development and integration testing of sync
// clients. It is not a hardened production backend.
package server
