package live

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/framehq/livesync/internal/feed"
)

type row struct {
	ID string `json:"id"`
	V  int    `json:"v"`
}

func rowKey(r row) string { return r.ID }

type fakeFetcher struct {
	mu    sync.Mutex
	resp  []json.RawMessage
	err   error
	block chan struct{} // If non-nil, Snapshot waits for it (or ctx)
	calls int
}

func (f *fakeFetcher) Snapshot(ctx context.Context, table, filter string) ([]json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	resp, err, block := f.resp, f.err, f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp, err
}

func (f *fakeFetcher) set(resp []json.RawMessage, err error) {
	f.mu.Lock()
	f.resp, f.err = resp, err
	f.mu.Unlock()
}

type fakeHealth struct {
	mu sync.Mutex
	ok bool
}

func (h *fakeHealth) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ok
}

func rawRows(rows ...row) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		data, _ := json.Marshal(r)
		out = append(out, data)
	}
	return out
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func testOptions(f Fetcher, h Health) Options {
	return Options{
		Registry: feed.NewRegistry(nil),
		Fetcher:  f,
		Health:   h,
	}
}

func TestWatchSeedsFromSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{resp: rawRows(row{ID: "r1", V: 1}, row{ID: "r2", V: 2})}
	opts := testOptions(fetcher, nil)

	c := Watch(context.Background(), opts, "agents", "", rowKey)
	defer c.Close()

	waitFor(t, time.Second, "snapshot load", func() bool { return !c.Loading() })

	got := c.Records()
	if len(got) != 2 || got[0].ID != "r1" || got[1].ID != "r2" {
		t.Errorf("records = %+v", got)
	}
	if c.Err() != nil {
		t.Errorf("Err = %v, want nil", c.Err())
	}
}

func TestWatchAppliesLiveEvents(t *testing.T) {
	fetcher := &fakeFetcher{resp: rawRows(row{ID: "r1", V: 1})}
	opts := testOptions(fetcher, nil)

	c := Watch(context.Background(), opts, "agents", "", rowKey)
	defer c.Close()

	waitFor(t, time.Second, "snapshot load", func() bool { return !c.Loading() })

	opts.Registry.Dispatch(feed.Event{
		Type:  feed.EventInsert,
		Table: "agents",
		New:   json.RawMessage(`{"id":"r2","v":1}`),
	})
	opts.Registry.Dispatch(feed.Event{
		Type:  feed.EventUpdate,
		Table: "agents",
		New:   json.RawMessage(`{"id":"r1","v":9}`),
	})
	opts.Registry.Dispatch(feed.Event{
		Type:  feed.EventDelete,
		Table: "agents",
		Old:   json.RawMessage(`{"id":"r2"}`),
	})

	got := c.Records()
	if len(got) != 1 {
		t.Fatalf("records = %+v, want one record", got)
	}
	if got[0].ID != "r1" || got[0].V != 9 {
		t.Errorf("records[0] = %+v, want {r1 9}", got[0])
	}
}

func TestWatchOutOfOrderEventIsNoOp(t *testing.T) {
	fetcher := &fakeFetcher{resp: rawRows(row{ID: "r1", V: 1})}
	opts := testOptions(fetcher, nil)

	c := Watch(context.Background(), opts, "agents", "", rowKey)
	defer c.Close()

	waitFor(t, time.Second, "snapshot load", func() bool { return !c.Loading() })

	// Update for a record that was never inserted locally.
	opts.Registry.Dispatch(feed.Event{
		Type:  feed.EventUpdate,
		Table: "agents",
		New:   json.RawMessage(`{"id":"ghost","v":5}`),
	})
	// Delete for an absent record.
	opts.Registry.Dispatch(feed.Event{
		Type:  feed.EventDelete,
		Table: "agents",
		Old:   json.RawMessage(`{"id":"ghost"}`),
	})

	got := c.Records()
	if len(got) != 1 || got[0].V != 1 {
		t.Errorf("records = %+v, want unchanged [{r1 1}]", got)
	}
}

func TestCloseFreezesRecords(t *testing.T) {
	fetcher := &fakeFetcher{resp: rawRows(row{ID: "r1", V: 1})}
	opts := testOptions(fetcher, nil)

	c := Watch(context.Background(), opts, "agents", "", rowKey)

	waitFor(t, time.Second, "snapshot load", func() bool { return !c.Loading() })

	c.Close()
	c.Close() // Idempotent

	// Deliver further events for the same resource key.
	opts.Registry.Dispatch(feed.Event{
		Type:  feed.EventInsert,
		Table: "agents",
		New:   json.RawMessage(`{"id":"r2","v":2}`),
	})

	got := c.Records()
	if len(got) != 1 || got[0].ID != "r1" {
		t.Errorf("records after Close = %+v, want frozen [{r1 1}]", got)
	}
	if opts.Registry.Count() != 0 {
		t.Errorf("registry count = %d, want 0 after Close", opts.Registry.Count())
	}
}

func TestStaleSnapshotDiscarded(t *testing.T) {
	block := make(chan struct{})
	fetcher := &fakeFetcher{
		resp:  rawRows(row{ID: "r1", V: 1}),
		block: block,
	}
	opts := testOptions(fetcher, nil)

	c := Watch(context.Background(), opts, "agents", "", rowKey)

	// Dispose while the fetch is still in flight, then let it resolve.
	c.Close()
	close(block)

	time.Sleep(50 * time.Millisecond)

	if got := c.Records(); len(got) != 0 {
		t.Errorf("records = %+v, want stale snapshot discarded", got)
	}
	if opts.Registry.Count() != 0 {
		t.Errorf("registry count = %d, want no subscription after Close", opts.Registry.Count())
	}
	if c.Loading() {
		t.Error("Loading should be false after Close")
	}
}

func TestWatchFetchErrorThenRefresh(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("backend down")}
	opts := testOptions(fetcher, nil)

	c := Watch(context.Background(), opts, "agents", "", rowKey)
	defer c.Close()

	waitFor(t, time.Second, "snapshot load", func() bool { return !c.Loading() })

	if c.Err() == nil {
		t.Fatal("expected Err after failed fetch")
	}
	if len(c.Records()) != 0 {
		t.Errorf("records = %+v, want empty", c.Records())
	}

	// Live deltas still flow while the seed is missing.
	opts.Registry.Dispatch(feed.Event{
		Type:  feed.EventInsert,
		Table: "agents",
		New:   json.RawMessage(`{"id":"r9","v":1}`),
	})
	if got := c.Records(); len(got) != 1 {
		t.Errorf("records = %+v, want live insert applied", got)
	}

	fetcher.set(rawRows(row{ID: "r1", V: 1}), nil)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	got := c.Records()
	if len(got) != 1 || got[0].ID != "r1" {
		t.Errorf("records after Refresh = %+v", got)
	}
	if c.Err() != nil {
		t.Errorf("Err = %v, want cleared after Refresh", c.Err())
	}
}

func TestConnectedMirrorsHealth(t *testing.T) {
	fetcher := &fakeFetcher{}
	health := &fakeHealth{}
	opts := testOptions(fetcher, health)

	c := Watch(context.Background(), opts, "agents", "", rowKey)
	defer c.Close()

	if c.Connected() {
		t.Error("Connected = true, want false")
	}

	health.mu.Lock()
	health.ok = true
	health.mu.Unlock()

	if !c.Connected() {
		t.Error("Connected = false, want true")
	}
}
