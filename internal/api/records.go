package api

import (
	"context"
	"encoding/json"
	"net/url"
)

// Snapshot performs one full read of a resource collection, returning
// the raw record set. An empty filter reads the whole table.
func (c *Client) Snapshot(ctx context.Context, table, filter string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := c.get(ctx, tablePath(table), snapshotQuery(filter), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// List fetches a full snapshot decoded into typed records.
func List[T any](ctx context.Context, c *Client, table, filter string) ([]T, error) {
	var out []T
	if err := c.get(ctx, tablePath(table), snapshotQuery(filter), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health checks the backend's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.get(ctx, "/health", nil, &out)
}

func tablePath(table string) string {
	return "/api/" + url.PathEscape(table)
}

func snapshotQuery(filter string) url.Values {
	if filter == "" {
		return nil
	}
	return url.Values{"filter": []string{filter}}
}
