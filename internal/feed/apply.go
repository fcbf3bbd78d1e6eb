package feed

import (
	"encoding/json"
	"fmt"
	"slices"
)

// KeyFunc extracts the identity value of a record. Identity values must
// be unique within a collection.
type KeyFunc[T any] func(T) string

// Change is a decoded change event for a typed record.
type Change[T any] struct {
	Type   EventType
	Record T      // Valid for insert/update
	OldKey string // Valid for delete
}

// DecodeChange converts a wire event into a typed change. For deletes
// the old-record payload carries at minimum the primary key, which is
// enough for key to recover the identity.
func DecodeChange[T any](ev Event, key KeyFunc[T]) (Change[T], error) {
	ch := Change[T]{Type: ev.Type}

	switch ev.Type {
	case EventInsert, EventUpdate:
		if err := json.Unmarshal(ev.New, &ch.Record); err != nil {
			return Change[T]{}, fmt.Errorf("decode new record: %w", err)
		}

	case EventDelete:
		var old T
		if err := json.Unmarshal(ev.Old, &old); err != nil {
			return Change[T]{}, fmt.Errorf("decode old record: %w", err)
		}
		ch.OldKey = key(old)

	default:
		return Change[T]{}, fmt.Errorf("unknown event type %q", ev.Type)
	}

	return ch, nil
}

// Apply folds a change into a record slice and returns the next value.
// The input slice is never modified. Insertion order is preserved
// except where update/delete alter membership.
//
// Update and delete events whose identity is absent from the collection
// are no-ops: an update can arrive before the matching insert has been
// observed, and that must not fail.
func Apply[T any](records []T, ch Change[T], key KeyFunc[T]) []T {
	switch ch.Type {
	case EventInsert:
		out := make([]T, 0, len(records)+1)
		out = append(out, records...)
		return append(out, ch.Record)

	case EventUpdate:
		id := key(ch.Record)
		for i, rec := range records {
			if key(rec) == id {
				out := slices.Clone(records)
				out[i] = ch.Record
				return out
			}
		}
		return records

	case EventDelete:
		for i, rec := range records {
			if key(rec) == ch.OldKey {
				out := make([]T, 0, len(records)-1)
				out = append(out, records[:i]...)
				return append(out, records[i+1:]...)
			}
		}
		return records
	}

	return records
}
