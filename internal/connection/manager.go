package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/framehq/livesync/internal/auth"
	"github.com/framehq/livesync/internal/feed"
)

// FrameHandler receives inbound frames of one registered type (e.g.
// "dashboard_stats") that are not change notifications.
type FrameHandler func(data json.RawMessage)

// Manager owns the single realtime connection: lifecycle, the auth
// handshake, reconnection with bounded backoff, and routing of inbound
// frames to the subscription registry and typed frame handlers.
//
// Connect never fails synchronously; all connectivity failure is
// observable through State, LastErr, and OnStateChange callbacks.
type Manager struct {
	cfg      ManagerConfig
	identity auth.Provider
	registry *feed.Registry
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	lastErr   error
	attempts  int
	sessionID string
	client    Client
	// gen invalidates callbacks from superseded connections: every
	// dial and every teardown bumps it, and stale goroutines compare
	// before touching state.
	gen            int
	expectClose    bool
	reconnectTimer *time.Timer
	manualPending  bool

	handlers map[string]FrameHandler
	stateFns []func(State)
}

// NewManager creates a connection manager. Subscriptions registered on
// the registry are re-sent to the backend after every reconnect.
func NewManager(cfg ManagerConfig, identity auth.Provider, registry *feed.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:      cfg,
		identity: identity,
		registry: registry,
		logger:   logger,
		state:    StateIdle,
		handlers: make(map[string]FrameHandler),
	}
}

// Start begins the manager and initiates the first connect attempt.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.keyChangeLoop()

	m.Connect()

	m.logger.Info("connection manager started", "url", m.cfg.URL)
	return nil
}

// Stop disconnects and shuts the manager down.
func (m *Manager) Stop(ctx context.Context) error {
	m.Disconnect()

	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("connection manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("connection manager stop timed out")
		return ctx.Err()
	}
}

// OnStateChange registers a state listener. Must be called before
// Start; listeners are invoked outside the manager lock.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.stateFns = append(m.stateFns, fn)
	m.mu.Unlock()
}

// Handle registers a handler for a non-change frame type. Must be
// called before Start.
func (m *Manager) Handle(frameType string, fn FrameHandler) {
	m.mu.Lock()
	m.handlers[frameType] = fn
	m.mu.Unlock()
}

// Connect initiates a connection attempt. Idempotent: a call while
// already connecting, authenticating, or connected is a no-op. Without
// a current identity the manager stays idle; the caller is expected to
// gate connection on authentication state.
func (m *Manager) Connect() {
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateAuthenticating, StateConnected:
		m.mu.Unlock()
		return
	}

	userID, ok := m.identity.UserID()
	if !ok {
		m.logger.Debug("no identity, staying idle")
		m.mu.Unlock()
		return
	}

	m.state = StateConnecting
	m.expectClose = false
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.notifyState(StateConnecting)

	m.wg.Add(1)
	go m.dial(gen, userID)
}

// Disconnect closes the connection on the caller's request. The
// closure is marked expected, so the reconnect path does not fire.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.expectClose = true
	m.gen++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	client := m.client
	m.client = nil
	m.sessionID = ""

	wasLive := m.state != StateIdle && m.state != StateFailed && m.state != StateClosed
	if wasLive {
		m.state = StateClosing
	}
	m.mu.Unlock()

	if client != nil {
		client.Close()
	}

	if wasLive {
		m.mu.Lock()
		m.state = StateClosed
		m.mu.Unlock()
		m.notifyState(StateClosed)
	}
}

// Reconnect resets the attempt counter and retries after a short fixed
// delay. Calls while a manual reconnect is already pending coalesce.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	m.attempts = 0
	if m.manualPending {
		m.mu.Unlock()
		return
	}
	m.manualPending = true
	m.mu.Unlock()

	m.Disconnect()

	// Fixed pause avoids tight-loop flapping on repeated manual retries.
	time.AfterFunc(m.cfg.ManualReconnectDelay, func() {
		m.mu.Lock()
		m.manualPending = false
		m.mu.Unlock()

		if m.ctx != nil && m.ctx.Err() != nil {
			return
		}
		m.Connect()
	})
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the connection is live and authenticated.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// LastErr returns the most recent connection error, if any.
func (m *Manager) LastErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// SessionID returns the session token from the last handshake.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ManagerStats{
		State:      m.state,
		Attempts:   m.attempts,
		SessionID:  m.sessionID,
		ActiveKeys: len(m.registry.ActiveKeys()),
	}
}

// dial opens the transport and starts the auth handshake.
func (m *Manager) dial(gen int, userID string) {
	defer m.wg.Done()

	token, _ := m.identity.AccessToken()
	client := NewClient(ClientConfig{
		URL:          m.cfg.URL,
		BearerToken:  token,
		PingTimeout:  m.cfg.PingTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
		BufferSize:   m.cfg.BufferSize,
	}, m.logger)

	if err := client.Connect(m.ctx); err != nil {
		m.connectionLost(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		client.Close()
		return
	}
	m.client = client
	m.state = StateAuthenticating
	m.mu.Unlock()

	m.notifyState(StateAuthenticating)

	data, _ := json.Marshal(AuthFrame{Type: FrameAuth, UserID: userID})
	if err := client.Send(data); err != nil {
		m.connectionLost(gen, fmt.Errorf("send auth frame: %w", err))
		return
	}

	// The handshake must resolve within the timeout, or the attempt is
	// aborted and the reconnect path takes over.
	hsTimer := time.AfterFunc(m.cfg.HandshakeTimeout, func() {
		m.mu.Lock()
		stuck := gen == m.gen && m.state == StateAuthenticating
		m.mu.Unlock()

		if stuck {
			m.connectionLost(gen, ErrHandshakeTimeout)
		}
	})

	m.wg.Add(1)
	go m.readLoop(gen, client, hsTimer)
}

// readLoop reads frames from the live connection and routes them. All
// dispatch happens on this one goroutine, so change events for a
// resource key are applied in transport delivery order.
func (m *Manager) readLoop(gen int, client Client, hsTimer *time.Timer) {
	defer m.wg.Done()
	defer hsTimer.Stop()

	for {
		select {
		case <-m.ctx.Done():
			client.Close()
			return

		case err := <-client.Errors():
			m.connectionLost(gen, err)
			return

		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			m.handleFrame(gen, msg.Data, hsTimer)
		}
	}
}

// handleFrame parses and routes a single inbound frame. Malformed or
// unrecognized frames are dropped and logged, never fatal.
func (m *Manager) handleFrame(gen int, data []byte, hsTimer *time.Timer) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.logger.Warn("malformed frame, dropping", "error", err)
		return
	}

	switch env.Type {
	case FrameAuthAck:
		var ack AuthAckFrame
		if err := json.Unmarshal(data, &ack); err != nil {
			m.logger.Warn("malformed auth_ack, dropping", "error", err)
			return
		}
		hsTimer.Stop()
		m.handleAuthAck(gen, ack)

	case FrameChange:
		var ch ChangeFrame
		if err := json.Unmarshal(data, &ch); err != nil {
			m.logger.Warn("malformed change frame, dropping", "error", err)
			return
		}

		switch feed.EventType(ch.EventType) {
		case feed.EventInsert, feed.EventUpdate, feed.EventDelete:
		default:
			m.logger.Warn("unknown change event type, dropping", "event_type", ch.EventType)
			return
		}

		m.registry.Dispatch(feed.Event{
			Type:   feed.EventType(ch.EventType),
			Table:  ch.Table,
			Filter: ch.Filter,
			New:    ch.New,
			Old:    ch.Old,
		})

	case "":
		m.logger.Warn("frame without type discriminator, dropping")

	default:
		m.mu.Lock()
		handler := m.handlers[env.Type]
		m.mu.Unlock()

		if handler == nil {
			m.logger.Debug("no handler for frame type, dropping", "type", env.Type)
			return
		}
		m.invokeHandler(env.Type, handler, data)
	}
}

// invokeHandler isolates handler panics from the connection.
func (m *Manager) invokeHandler(frameType string, fn FrameHandler, data json.RawMessage) {
	defer func() {
		if v := recover(); v != nil {
			m.logger.Error("frame handler panicked", "type", frameType, "panic", v)
		}
	}()
	fn(data)
}

// handleAuthAck completes the handshake: connected state, attempt
// counter reset, and re-registration of every live subscription.
func (m *Manager) handleAuthAck(gen int, ack AuthAckFrame) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateAuthenticating {
		m.mu.Unlock()
		return
	}
	m.state = StateConnected
	m.attempts = 0
	m.lastErr = nil
	m.sessionID = ack.SessionID
	m.mu.Unlock()

	m.logger.Info("connected", "session_id", ack.SessionID)
	m.notifyState(StateConnected)

	// Subscriptions are not lost across reconnects: replay every
	// still-live resource key against the new transport.
	for _, kc := range m.registry.ActiveKeys() {
		m.sendSubscribe(kc)
	}
}

// connectionLost handles any closure of the current connection. The
// gen check makes it a no-op for superseded connections, which also
// coalesces duplicate failure signals from one attempt.
func (m *Manager) connectionLost(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	client := m.client
	m.client = nil
	m.sessionID = ""
	expected := m.expectClose

	if !expected {
		m.lastErr = err
	}
	m.state = StateClosing
	m.mu.Unlock()

	m.notifyState(StateClosing)

	if client != nil {
		client.Close()
	}

	m.mu.Lock()
	if m.state != StateClosing {
		// A newer Connect or Disconnect already took over.
		m.mu.Unlock()
		return
	}
	m.state = StateClosed

	if expected {
		m.mu.Unlock()
		m.notifyState(StateClosed)
		return
	}

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.state = StateFailed
		m.lastErr = fmt.Errorf("%w after %d attempts: %v", ErrMaxRetries, m.attempts, err)
		m.mu.Unlock()

		m.logger.Error("giving up on reconnection",
			"attempts", m.cfg.MaxReconnectAttempts,
			"error", err,
		)
		m.notifyState(StateFailed)
		return
	}

	delay := m.cfg.Backoff.Delay(m.attempts)
	m.attempts++
	attempt := m.attempts
	m.scheduleReconnectLocked(delay)
	m.mu.Unlock()

	m.logger.Warn("connection lost, scheduling reconnect",
		"error", err,
		"attempt", attempt,
		"delay", delay,
	)
	m.notifyState(StateClosed)
}

// scheduleReconnectLocked arms the reconnect timer. A reconnect
// already in flight is not restarted.
func (m *Manager) scheduleReconnectLocked(delay time.Duration) {
	if m.reconnectTimer != nil {
		return
	}

	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		m.mu.Unlock()

		if m.ctx != nil && m.ctx.Err() != nil {
			return
		}
		m.Connect()
	})
}

// keyChangeLoop forwards registry key changes to the wire while
// connected. Keys added while disconnected are picked up by the replay
// in handleAuthAck.
func (m *Manager) keyChangeLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case kc, ok := <-m.registry.Changes():
			if !ok {
				return
			}
			if !m.IsConnected() {
				continue
			}
			if kc.Added {
				m.sendSubscribe(kc)
			} else {
				m.sendUnsubscribe(kc.Key)
			}
		}
	}
}

// sendSubscribe opens a wire channel for a resource key.
func (m *Manager) sendSubscribe(kc feed.KeyChange) {
	frame := SubscribeFrame{
		Type:   FrameSubscribe,
		Table:  kc.Key.Table,
		Filter: kc.Key.Filter,
	}
	if kc.Mask != feed.MaskAll {
		frame.Events = kc.Mask.Types()
	}

	if err := m.send(frame); err != nil {
		m.logger.Warn("failed to send subscribe",
			"key", kc.Key.String(),
			"error", err,
		)
	}
}

// sendUnsubscribe closes the wire channel for a resource key.
func (m *Manager) sendUnsubscribe(key feed.Key) {
	frame := UnsubscribeFrame{
		Type:   FrameUnsubscribe,
		Table:  key.Table,
		Filter: key.Filter,
	}

	if err := m.send(frame); err != nil {
		m.logger.Warn("failed to send unsubscribe",
			"key", key.String(),
			"error", err,
		)
	}
}

// send marshals and writes a frame on the live connection.
func (m *Manager) send(frame any) error {
	m.mu.Lock()
	client := m.client
	state := m.state
	m.mu.Unlock()

	if client == nil || (state != StateConnected && state != StateAuthenticating) {
		return ErrNotConnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return client.Send(data)
}

// notifyState invokes state listeners outside the manager lock.
func (m *Manager) notifyState(s State) {
	m.mu.Lock()
	fns := make([]func(State), len(m.stateFns))
	copy(fns, m.stateFns)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
