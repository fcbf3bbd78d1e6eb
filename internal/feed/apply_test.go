package feed

import (
	"encoding/json"
	"testing"
)

type row struct {
	ID string `json:"id"`
	V  int    `json:"v"`
}

func rowKey(r row) string { return r.ID }

func TestApplyInsert(t *testing.T) {
	got := Apply(nil, Change[row]{Type: EventInsert, Record: row{ID: "r1", V: 1}}, rowKey)

	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].ID != "r1" || got[0].V != 1 {
		t.Errorf("got %+v, want {r1 1}", got[0])
	}
}

func TestApplyInsertAppends(t *testing.T) {
	initial := []row{{ID: "r1"}, {ID: "r2"}}

	got := Apply(initial, Change[row]{Type: EventInsert, Record: row{ID: "r3"}}, rowKey)

	want := []string{"r1", "r2", "r3"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestApplyUpdate(t *testing.T) {
	tests := []struct {
		name    string
		initial []row
		rec     row
		want    []row
	}{
		{
			name:    "replaces matching record",
			initial: []row{{ID: "r1", V: 1}},
			rec:     row{ID: "r1", V: 2},
			want:    []row{{ID: "r1", V: 2}},
		},
		{
			name:    "no match is a no-op",
			initial: []row{{ID: "r2", V: 1}},
			rec:     row{ID: "r1", V: 2},
			want:    []row{{ID: "r2", V: 1}},
		},
		{
			name:    "empty collection is a no-op",
			initial: nil,
			rec:     row{ID: "r1", V: 2},
			want:    nil,
		},
		{
			name:    "preserves position and neighbors",
			initial: []row{{ID: "r1", V: 1}, {ID: "r2", V: 1}, {ID: "r3", V: 1}},
			rec:     row{ID: "r2", V: 9},
			want:    []row{{ID: "r1", V: 1}, {ID: "r2", V: 9}, {ID: "r3", V: 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(tt.initial, Change[row]{Type: EventUpdate, Record: tt.rec}, rowKey)

			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestApplyDelete(t *testing.T) {
	tests := []struct {
		name    string
		initial []row
		oldKey  string
		wantIDs []string
	}{
		{
			name:    "removes matching record",
			initial: []row{{ID: "r1"}},
			oldKey:  "r1",
			wantIDs: []string{},
		},
		{
			name:    "empty collection is a no-op",
			initial: nil,
			oldKey:  "r1",
			wantIDs: []string{},
		},
		{
			name:    "absent key is a no-op",
			initial: []row{{ID: "r2"}},
			oldKey:  "r1",
			wantIDs: []string{"r2"},
		},
		{
			name:    "removes from middle, order preserved",
			initial: []row{{ID: "r1"}, {ID: "r2"}, {ID: "r3"}},
			oldKey:  "r2",
			wantIDs: []string{"r1", "r3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(tt.initial, Change[row]{Type: EventDelete, OldKey: tt.oldKey}, rowKey)

			if len(got) != len(tt.wantIDs) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	initial := []row{{ID: "r1", V: 1}, {ID: "r2", V: 1}}

	Apply(initial, Change[row]{Type: EventUpdate, Record: row{ID: "r1", V: 9}}, rowKey)
	Apply(initial, Change[row]{Type: EventDelete, OldKey: "r2"}, rowKey)
	Apply(initial, Change[row]{Type: EventInsert, Record: row{ID: "r3"}}, rowKey)

	if initial[0].V != 1 || initial[1].ID != "r2" || len(initial) != 2 {
		t.Errorf("input slice was mutated: %+v", initial)
	}
}

func TestDecodeChange(t *testing.T) {
	newPayload, _ := json.Marshal(row{ID: "r1", V: 2})
	oldPayload := []byte(`{"id":"r1"}`)

	t.Run("insert", func(t *testing.T) {
		ch, err := DecodeChange[row](Event{Type: EventInsert, New: newPayload}, rowKey)
		if err != nil {
			t.Fatalf("DecodeChange failed: %v", err)
		}
		if ch.Record.ID != "r1" || ch.Record.V != 2 {
			t.Errorf("Record = %+v, want {r1 2}", ch.Record)
		}
	})

	t.Run("delete extracts old key", func(t *testing.T) {
		ch, err := DecodeChange[row](Event{Type: EventDelete, Old: oldPayload}, rowKey)
		if err != nil {
			t.Fatalf("DecodeChange failed: %v", err)
		}
		if ch.OldKey != "r1" {
			t.Errorf("OldKey = %q, want r1", ch.OldKey)
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := DecodeChange[row](Event{Type: EventInsert, New: []byte(`{`)}, rowKey)
		if err == nil {
			t.Error("expected error for malformed payload")
		}
	})

	t.Run("unknown event type", func(t *testing.T) {
		_, err := DecodeChange[row](Event{Type: "TRUNCATE"}, rowKey)
		if err == nil {
			t.Error("expected error for unknown event type")
		}
	})
}
