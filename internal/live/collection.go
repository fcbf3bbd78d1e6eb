// Package live exposes synchronized collections: a snapshot-seeded,
// continuously updated view of one backend resource.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/framehq/livesync/internal/feed"
)

// Health mirrors the connection manager's health surface.
type Health interface {
	IsConnected() bool
}

// Fetcher performs the one-time snapshot read that seeds a collection.
// Satisfied by the api.Client.
type Fetcher interface {
	Snapshot(ctx context.Context, table, filter string) ([]json.RawMessage, error)
}

// Options wires a collection to the sync layer.
type Options struct {
	Registry     *feed.Registry
	Fetcher      Fetcher
	Health       Health
	Logger       *slog.Logger
	FetchTimeout time.Duration // Bound on the initial snapshot fetch (default 30s)
}

// Collection is a live, continuously-updated record set. Create with
// Watch, release with Close. Once closed, the exposed record set never
// changes again.
type Collection[T any] struct {
	table  string
	filter string
	keyFn  feed.KeyFunc[T]

	registry *feed.Registry
	fetcher  Fetcher
	health   Health
	logger   *slog.Logger
	timeout  time.Duration

	cancelFetch context.CancelFunc

	mu       sync.RWMutex
	records  []T
	loading  bool
	err      error
	disposed bool
	sub      *feed.Subscription
}

// Watch creates a synchronized collection for table/filter. It seeds
// the collection with one snapshot fetch, then subscribes for live
// deltas and folds each one into the record set. The key function
// declares the identity field of the records.
func Watch[T any](ctx context.Context, opts Options, table, filter string, key feed.KeyFunc[T]) *Collection[T] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.FetchTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	c := &Collection[T]{
		table:    table,
		filter:   filter,
		keyFn:    key,
		registry: opts.Registry,
		fetcher:  opts.Fetcher,
		health:   opts.Health,
		logger:   logger.With("table", table),
		timeout:  timeout,
		loading:  true,
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancelFetch = cancel

	go c.load(fetchCtx)

	return c
}

// load runs the initial snapshot fetch, then attaches the live
// subscription. A fetch that resolves after Close is discarded.
func (c *Collection[T]) load(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.fetcher.Snapshot(fetchCtx, c.table, c.filter)

	records, decodeErr := decodeRecords[T](raw)
	if err == nil {
		err = decodeErr
	}

	c.mu.Lock()
	if c.disposed {
		// Stale response: the collection was closed while the fetch
		// was in flight.
		c.mu.Unlock()
		return
	}

	c.loading = false
	if err != nil {
		c.err = err
	} else {
		c.records = records
	}

	// Live deltas start only after the seed state is in place, so an
	// event is never applied to a half-initialized collection.
	c.sub = c.registry.Subscribe(c.table, c.filter, feed.MaskAll, c.onEvent)
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("snapshot fetch failed", "error", err)
	} else {
		c.logger.Debug("collection seeded", "records", len(records))
	}
}

// Refresh re-runs the snapshot fetch, replacing the record set. Useful
// after a failed initial fetch or a long disconnection.
func (c *Collection[T]) Refresh(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.fetcher.Snapshot(fetchCtx, c.table, c.filter)
	if err != nil {
		return err
	}
	records, err := decodeRecords[T](raw)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil
	}
	c.records = records
	c.err = nil
	return nil
}

// onEvent folds one live delta into the record set.
func (c *Collection[T]) onEvent(ev feed.Event) {
	ch, err := feed.DecodeChange[T](ev, c.keyFn)
	if err != nil {
		c.logger.Warn("dropping undecodable change", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.records = feed.Apply(c.records, ch, c.keyFn)
}

// Records returns a copy of the current record set.
func (c *Collection[T]) Records() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.records)
}

// Loading reports whether the initial snapshot fetch is still pending.
func (c *Collection[T]) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// Connected mirrors the connection manager's health state.
func (c *Collection[T]) Connected() bool {
	return c.health != nil && c.health.IsConnected()
}

// Err returns the last snapshot failure, if any.
func (c *Collection[T]) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Close disposes the collection: the subscription is removed, any
// in-flight fetch is abandoned, and the record set is frozen.
func (c *Collection[T]) Close() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.loading = false
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	c.cancelFetch()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// decodeRecords unmarshals a raw snapshot into typed records.
func decodeRecords[T any](raw []json.RawMessage) ([]T, error) {
	records := make([]T, 0, len(raw))
	for i, r := range raw {
		var rec T
		if err := json.Unmarshal(r, &rec); err != nil {
			return nil, fmt.Errorf("decode snapshot record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
