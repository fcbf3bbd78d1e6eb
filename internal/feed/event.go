package feed

import "encoding/json"

// EventType identifies the kind of mutation a change event describes.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// EventMask selects which event types a subscription receives.
type EventMask uint8

const (
	MaskInsert EventMask = 1 << iota
	MaskUpdate
	MaskDelete

	MaskAll = MaskInsert | MaskUpdate | MaskDelete
)

// Has reports whether the mask includes the given event type.
func (m EventMask) Has(t EventType) bool {
	switch t {
	case EventInsert:
		return m&MaskInsert != 0
	case EventUpdate:
		return m&MaskUpdate != 0
	case EventDelete:
		return m&MaskDelete != 0
	}
	return false
}

// Types returns the wire names of the event types in the mask.
func (m EventMask) Types() []string {
	var out []string
	if m&MaskInsert != 0 {
		out = append(out, string(EventInsert))
	}
	if m&MaskUpdate != 0 {
		out = append(out, string(EventUpdate))
	}
	if m&MaskDelete != 0 {
		out = append(out, string(EventDelete))
	}
	return out
}

// ParseMask builds a mask from wire event type names. An empty list
// selects all event types; unknown names are ignored.
func ParseMask(types []string) EventMask {
	if len(types) == 0 {
		return MaskAll
	}
	var m EventMask
	for _, t := range types {
		switch EventType(t) {
		case EventInsert:
			m |= MaskInsert
		case EventUpdate:
			m |= MaskUpdate
		case EventDelete:
			m |= MaskDelete
		}
	}
	return m
}

// Key identifies which table/filter a subscription targets. Keys are
// comparable, so repeated subscriptions with identical parameters are
// recognized as the same logical wire channel.
type Key struct {
	Table  string
	Filter string // Empty for unfiltered subscriptions
}

// String returns the canonical "<table>-<filter>" form.
func (k Key) String() string {
	if k.Filter == "" {
		return k.Table
	}
	return k.Table + "-" + k.Filter
}

// Event is a single insert/update/delete notification for one resource.
// Transient: applied to local state, never stored.
type Event struct {
	Type   EventType
	Table  string
	Filter string          // Filter of the wire channel that matched, if any
	New    json.RawMessage // Present for insert/update
	Old    json.RawMessage // Present for update/delete (at minimum the primary key)
}

// Key returns the resource key the event belongs to.
func (e Event) Key() Key {
	return Key{Table: e.Table, Filter: e.Filter}
}
