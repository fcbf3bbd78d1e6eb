package feed

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Callback receives change events matching a subscription.
type Callback func(Event)

// KeyChange notifies the connection manager that a resource key needs a
// wire channel opened or closed. Emitted only on the first subscription
// for a key and the removal of the last one.
type KeyChange struct {
	Key   Key
	Mask  EventMask // Union mask for the key at time of change
	Added bool
}

// Subscription is a live registration for change events. Created by
// Registry.Subscribe, destroyed by Unsubscribe. Its lifetime is
// independent of the connection's: it survives reconnects.
type Subscription struct {
	id   uuid.UUID
	key  Key
	mask EventMask
	fn   Callback
	r    *Registry

	// mu is held across delivery, so Unsubscribe blocks until any
	// in-flight callback returns. Do not call Unsubscribe from inside
	// the subscription's own callback.
	mu     sync.Mutex
	closed bool
	err    error
}

// ID returns the subscription's unique handle.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Key returns the resource key the subscription targets.
func (s *Subscription) Key() Key { return s.key }

// Err returns the last callback failure, if any. Callback panics are
// isolated per subscription and surface here instead of propagating.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe removes the subscription. After it returns, the callback
// is never invoked again, even for events already in flight.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.r.remove(s)
}

// Registry maps resource keys to delivery callbacks and multiplexes
// many independent subscriptions over the single connection.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	subs    map[uuid.UUID]*Subscription
	keyRefs map[Key]int

	changes chan KeyChange
}

// NewRegistry creates an empty subscription registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger:  logger,
		subs:    make(map[uuid.UUID]*Subscription),
		keyRefs: make(map[Key]int),
		changes: make(chan KeyChange, 256),
	}
}

// Subscribe registers interest in change events for table/filter whose
// type is included in mask. Multiple subscriptions to the same key are
// permitted and dispatched independently.
func (r *Registry) Subscribe(table, filter string, mask EventMask, fn Callback) *Subscription {
	if mask == 0 {
		mask = MaskAll
	}

	s := &Subscription{
		id:   uuid.New(),
		key:  Key{Table: table, Filter: filter},
		mask: mask,
		fn:   fn,
		r:    r,
	}

	r.mu.Lock()
	r.subs[s.id] = s
	r.keyRefs[s.key]++
	first := r.keyRefs[s.key] == 1
	keyMask := r.maskForKeyLocked(s.key)
	r.mu.Unlock()

	r.logger.Debug("subscription added",
		"id", s.id,
		"key", s.key.String(),
		"first_for_key", first,
	)

	if first {
		r.notify(KeyChange{Key: s.key, Mask: keyMask, Added: true})
	}

	return s
}

// remove drops a closed subscription from the index.
func (r *Registry) remove(s *Subscription) {
	r.mu.Lock()
	if _, ok := r.subs[s.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.subs, s.id)

	r.keyRefs[s.key]--
	last := r.keyRefs[s.key] == 0
	if last {
		delete(r.keyRefs, s.key)
	}
	r.mu.Unlock()

	r.logger.Debug("subscription removed",
		"id", s.id,
		"key", s.key.String(),
		"last_for_key", last,
	)

	if last {
		r.notify(KeyChange{Key: s.key, Added: false})
	}
}

// Dispatch delivers an event to every live subscription whose key
// matches and whose mask includes the event type. A failure inside one
// callback never affects delivery to other subscribers.
func (r *Registry) Dispatch(ev Event) {
	r.mu.RLock()
	matched := make([]*Subscription, 0, 4)
	for _, s := range r.subs {
		if s.key.Table != ev.Table {
			continue
		}
		if s.key.Filter != "" && s.key.Filter != ev.Filter {
			continue
		}
		if !s.mask.Has(ev.Type) {
			continue
		}
		matched = append(matched, s)
	}
	r.mu.RUnlock()

	for _, s := range matched {
		s.deliver(ev, r.logger)
	}
}

// deliver invokes the callback under the subscription mutex so that
// Unsubscribe can fence out in-flight events.
func (s *Subscription) deliver(ev Event, logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	defer func() {
		if v := recover(); v != nil {
			s.err = fmt.Errorf("subscription callback panic: %v", v)
			logger.Error("subscription callback panicked",
				"id", s.id,
				"key", s.key.String(),
				"panic", v,
			)
		}
	}()

	s.fn(ev)
}

// ActiveKeys returns the distinct resource keys with at least one live
// subscription, with the union event mask per key. The connection
// manager replays these after every reconnect.
func (r *Registry) ActiveKeys() []KeyChange {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]KeyChange, 0, len(r.keyRefs))
	for k := range r.keyRefs {
		out = append(out, KeyChange{Key: k, Mask: r.maskForKeyLocked(k), Added: true})
	}
	return out
}

// maskForKeyLocked computes the union mask of all subs on a key.
func (r *Registry) maskForKeyLocked(k Key) EventMask {
	var m EventMask
	for _, s := range r.subs {
		if s.key == k {
			m |= s.mask
		}
	}
	return m
}

// Changes returns the channel of key add/remove notifications consumed
// by the connection manager.
func (r *Registry) Changes() <-chan KeyChange {
	return r.changes
}

// Count returns the number of live subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// notify sends a key change without blocking. A dropped notification is
// self-healing: the manager replays ActiveKeys on the next reconnect.
func (r *Registry) notify(ch KeyChange) {
	select {
	case r.changes <- ch:
	default:
		r.logger.Warn("key change channel full, dropping",
			"key", ch.Key.String(),
			"added", ch.Added,
		)
	}
}
