// Package auth defines the identity provider boundary for the sync
// layer. The connection manager consults it before each connect
// attempt; snapshot fetches attach its access token as a bearer header.
package auth

import "os"

// Environment variables read by the Env provider.
const (
	EnvUserID      = "LIVESYNC_USER_ID"
	EnvAccessToken = "LIVESYNC_ACCESS_TOKEN"
)

// Provider exposes the current identity. Absence of an identity is not
// an error: callers are expected to gate connection on auth state.
type Provider interface {
	// UserID returns the current user id, if authenticated.
	UserID() (string, bool)

	// AccessToken returns the current access token, if any.
	AccessToken() (string, bool)
}

// Static is a fixed identity, used by the cmds and in tests.
type Static struct {
	User  string
	Token string
}

func (s Static) UserID() (string, bool) {
	return s.User, s.User != ""
}

func (s Static) AccessToken() (string, bool) {
	return s.Token, s.Token != ""
}

// Env reads the identity from environment variables on every call, so
// rotation does not require a restart.
type Env struct {
	UserVar  string
	TokenVar string
}

// NewEnv returns an Env provider using the default variable names.
func NewEnv() Env {
	return Env{UserVar: EnvUserID, TokenVar: EnvAccessToken}
}

func (e Env) UserID() (string, bool) {
	v := os.Getenv(e.UserVar)
	return v, v != ""
}

func (e Env) AccessToken() (string, bool) {
	v := os.Getenv(e.TokenVar)
	return v, v != ""
}

// None is a provider with no identity. Connecting with it is a no-op.
type None struct{}

func (None) UserID() (string, bool)      { return "", false }
func (None) AccessToken() (string, bool) { return "", false }
