package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/framehq/livesync/internal/feed"
)

// notifyPayload is the JSON a database trigger puts on the NOTIFY
// channel for each row change:
//
//	SELECT pg_notify('livesync_changes',
//	    json_build_object('table', TG_TABLE_NAME, 'eventType', TG_OP,
//	                      'new', row_to_json(NEW), 'old', row_to_json(OLD))::text);
type notifyPayload struct {
	Table     string          `json:"table"`
	EventType string          `json:"eventType"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
}

// Notifier bridges Postgres LISTEN/NOTIFY to the hub: every row change
// notification becomes a change frame broadcast to subscribed sessions.
type Notifier struct {
	pool    *pgxpool.Pool
	hub     *Hub
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a notifier listening on the given channel.
func NewNotifier(pool *pgxpool.Pool, hub *Hub, channel string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		pool:    pool,
		hub:     hub,
		channel: channel,
		logger:  logger,
	}
}

// Run listens until the context is cancelled. A lost database
// connection is retried with a short fixed pause.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		err := n.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n.logger.Warn("notify listener lost, retrying", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// listen holds one dedicated connection and pumps notifications.
func (n *Notifier) listen(ctx context.Context) error {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+sanitizeIdent(n.channel)); err != nil {
		return fmt.Errorf("listen on %s: %w", n.channel, err)
	}

	n.logger.Info("listening for row changes", "channel", n.channel)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		n.dispatch(notification.Payload)
	}
}

// dispatch parses one notification payload and broadcasts it.
func (n *Notifier) dispatch(payload string) {
	var p notifyPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		n.logger.Warn("malformed notify payload, dropping", "error", err)
		return
	}

	evType := feed.EventType(p.EventType)
	switch evType {
	case feed.EventInsert, feed.EventUpdate, feed.EventDelete:
	default:
		n.logger.Warn("unknown notify event type, dropping", "event_type", p.EventType)
		return
	}

	n.hub.Broadcast(feed.Event{
		Type:  evType,
		Table: p.Table,
		New:   p.New,
		Old:   p.Old,
	})
}
