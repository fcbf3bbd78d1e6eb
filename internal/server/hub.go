package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/framehq/livesync/internal/connection"
	"github.com/framehq/livesync/internal/feed"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// session is one connected websocket client. A session carries no
// subscriptions and receives no change frames until it has
// authenticated.
type session struct {
	id   uuid.UUID
	conn *websocket.Conn

	writeMu sync.Mutex // Serializes writes to conn

	mu     sync.Mutex
	userID string
	authed bool
	subs   map[feed.Key]feed.EventMask
}

// write sends one frame with a write deadline.
func (s *session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// wants reports whether the session should receive the event, and on
// which filter key it matched.
func (s *session) wants(ev feed.Event) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authed {
		return "", false
	}
	for key, mask := range s.subs {
		if key.Table != ev.Table {
			continue
		}
		if key.Filter != "" && key.Filter != ev.Filter {
			continue
		}
		if mask.Has(ev.Type) {
			return key.Filter, true
		}
	}
	return "", false
}

// Hub accepts websocket sessions and fans change frames out to them.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

// NewHub creates a hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Dev server: accept any origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[uuid.UUID]*session),
	}
}

// HandleWS upgrades an HTTP request and runs the session until the
// client disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := &session{
		id:   uuid.New(),
		conn: conn,
		subs: make(map[feed.Key]feed.EventMask),
	}

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	h.logger.Debug("session opened", "session_id", s.id)

	stopPing := make(chan struct{})
	go h.pingLoop(s, stopPing)

	h.readLoop(s)
	close(stopPing)
}

// pingLoop keeps the session alive; clients treat a silent transport
// as stale and tear it down.
func (h *Hub) pingLoop(s *session, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// readLoop processes inbound frames for one session.
func (h *Hub) readLoop(s *session) {
	defer func() {
		h.mu.Lock()
		delete(h.sessions, s.id)
		h.mu.Unlock()
		s.conn.Close()
		h.logger.Debug("session closed", "session_id", s.id)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var env connection.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Warn("malformed frame from client, dropping",
				"session_id", s.id,
				"error", err,
			)
			continue
		}

		switch env.Type {
		case connection.FrameAuth:
			h.handleAuth(s, data)
		case connection.FrameSubscribe:
			h.handleSubscribe(s, data)
		case connection.FrameUnsubscribe:
			h.handleUnsubscribe(s, data)
		default:
			h.logger.Debug("unhandled frame type from client",
				"session_id", s.id,
				"type", env.Type,
			)
		}
	}
}

func (h *Hub) handleAuth(s *session, data []byte) {
	var frame connection.AuthFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.UserID == "" {
		h.logger.Warn("rejecting auth frame", "session_id", s.id, "error", err)
		s.conn.Close()
		return
	}

	s.mu.Lock()
	s.userID = frame.UserID
	s.authed = true
	s.mu.Unlock()

	ack, _ := json.Marshal(connection.AuthAckFrame{
		Type:      connection.FrameAuthAck,
		SessionID: uuid.NewString(),
	})
	if err := s.write(ack); err != nil {
		h.logger.Warn("failed to send auth_ack", "session_id", s.id, "error", err)
		return
	}

	h.logger.Info("session authenticated", "session_id", s.id, "user_id", frame.UserID)
}

func (h *Hub) handleSubscribe(s *session, data []byte) {
	var frame connection.SubscribeFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Table == "" {
		h.logger.Warn("malformed subscribe frame, dropping", "session_id", s.id, "error", err)
		return
	}

	key := feed.Key{Table: frame.Table, Filter: frame.Filter}
	mask := feed.ParseMask(frame.Events)

	s.mu.Lock()
	// Re-subscribing an existing key replaces its mask.
	s.subs[key] = mask
	s.mu.Unlock()

	h.logger.Debug("subscribed", "session_id", s.id, "key", key.String())
}

func (h *Hub) handleUnsubscribe(s *session, data []byte) {
	var frame connection.UnsubscribeFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.logger.Warn("malformed unsubscribe frame, dropping", "session_id", s.id, "error", err)
		return
	}

	key := feed.Key{Table: frame.Table, Filter: frame.Filter}

	s.mu.Lock()
	delete(s.subs, key)
	s.mu.Unlock()

	h.logger.Debug("unsubscribed", "session_id", s.id, "key", key.String())
}

// Broadcast delivers a change event to every session subscribed to its
// resource key.
func (h *Hub) Broadcast(ev feed.Event) {
	for _, s := range h.snapshot() {
		filter, ok := s.wants(ev)
		if !ok {
			continue
		}

		frame, err := json.Marshal(connection.ChangeFrame{
			Type:      connection.FrameChange,
			Table:     ev.Table,
			Filter:    filter,
			EventType: string(ev.Type),
			New:       ev.New,
			Old:       ev.Old,
		})
		if err != nil {
			h.logger.Error("failed to marshal change frame", "error", err)
			return
		}

		if err := s.write(frame); err != nil {
			h.logger.Warn("dropping slow session", "session_id", s.id, "error", err)
			s.conn.Close()
		}
	}
}

// BroadcastFrame sends an arbitrary typed frame to every authenticated
// session. Used for server pushes that are not row changes, like
// periodic dashboard stats.
func (h *Hub) BroadcastFrame(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to marshal frame", "error", err)
		return
	}

	for _, s := range h.snapshot() {
		s.mu.Lock()
		authed := s.authed
		s.mu.Unlock()
		if !authed {
			continue
		}

		if err := s.write(data); err != nil {
			h.logger.Warn("dropping slow session", "session_id", s.id, "error", err)
			s.conn.Close()
		}
	}
}

// Stats returns current hub counters.
func (h *Hub) Stats() HubStats {
	var stats HubStats
	for _, s := range h.snapshot() {
		stats.Sessions++
		s.mu.Lock()
		stats.Subscriptions += len(s.subs)
		s.mu.Unlock()
	}
	return stats
}

// CloseAll disconnects every session.
func (h *Hub) CloseAll() {
	for _, s := range h.snapshot() {
		s.conn.Close()
	}
}

func (h *Hub) snapshot() []*session {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// HubStats counts live sessions and their subscriptions.
type HubStats struct {
	Sessions      int `json:"sessions"`
	Subscriptions int `json:"subscriptions"`
}
