// Package database provides the PostgreSQL connection pool for the dev
// server. The server reads snapshot rows from it and listens on a
// NOTIFY channel for row changes to broadcast.
package database
