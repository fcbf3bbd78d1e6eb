package connection

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/framehq/livesync/internal/backoff"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no ping)")
	ErrHandshakeTimeout = errors.New("auth handshake timeout")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrMaxRetries       = errors.New("max reconnect attempts reached")
)

// State is the connection lifecycle state.
type State string

const (
	StateIdle           State = "idle"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateConnected      State = "connected"
	StateClosing        State = "closing"
	StateClosed         State = "closed"

	// StateFailed is terminal: automatic reconnects stop until a
	// manual Reconnect resets the attempt counter.
	StateFailed State = "failed"
)

// Frame type discriminators.
const (
	FrameAuth        = "auth"
	FrameAuthAck     = "auth_ack"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameChange      = "change"
)

// Envelope carries only the type discriminator of an inbound frame.
type Envelope struct {
	Type string `json:"type"`
}

// AuthFrame is the first outbound message after transport open.
type AuthFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// AuthAckFrame acknowledges the handshake and carries the opaque
// session token assigned by the backend.
type AuthAckFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// SubscribeFrame opens a wire channel for one resource key.
type SubscribeFrame struct {
	Type   string   `json:"type"`
	Table  string   `json:"table"`
	Filter string   `json:"filter,omitempty"`
	Events []string `json:"events,omitempty"` // Empty means all event types
}

// UnsubscribeFrame closes the wire channel for one resource key.
type UnsubscribeFrame struct {
	Type   string `json:"type"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// ChangeFrame is a backend change notification.
type ChangeFrame struct {
	Type      string          `json:"type"`
	Table     string          `json:"table"`
	Filter    string          `json:"filter,omitempty"`
	EventType string          `json:"eventType"` // "INSERT", "UPDATE", "DELETE"
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from the websocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a websocket client.
type ClientConfig struct {
	URL          string        // Realtime endpoint (ws:// or wss://, mirroring the origin's scheme)
	BearerToken  string        // Access token for the Authorization header (empty = none)
	PingTimeout  time.Duration // Max time without ping before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	URL                  string         // Realtime endpoint
	HandshakeTimeout     time.Duration  // Open-to-authenticated bound
	MaxReconnectAttempts int            // Automatic attempts before StateFailed
	Backoff              backoff.Policy // Delay schedule between attempts
	ManualReconnectDelay time.Duration  // Fixed pause before a manual Reconnect dials
	PingTimeout          time.Duration  // Passed through to the client
	WriteTimeout         time.Duration  // Passed through to the client
	BufferSize           int            // Passed through to the client
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HandshakeTimeout:     5 * time.Second,
		MaxReconnectAttempts: 5,
		Backoff:              backoff.Default(),
		ManualReconnectDelay: 500 * time.Millisecond,
		PingTimeout:          60 * time.Second,
		WriteTimeout:         5 * time.Second,
		BufferSize:           1000,
	}
}

// ManagerStats provides a point-in-time view of the manager.
type ManagerStats struct {
	State      State
	Attempts   int
	SessionID  string
	ActiveKeys int
}
