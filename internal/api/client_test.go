package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/framehq/livesync/internal/auth"
)

func TestList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/agents" {
			t.Errorf("path = %q, want /api/agents", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"a1","name":"support"},{"id":"a2","name":"sales"}]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, auth.Static{User: "u1", Token: "tok"})

	type agent struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	got, err := List[agent](context.Background(), c, "agents", "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(got) != 2 || got[0].ID != "a1" || got[1].Name != "sales" {
		t.Errorf("records = %+v", got)
	}
}

func TestListWithFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("filter"); got != "owner=u1" {
			t.Errorf("filter = %q, want owner=u1", got)
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, auth.None{})

	got, err := List[map[string]any](context.Background(), c, "agents", "owner=u1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("records = %+v, want empty", got)
	}
}

func TestSnapshotRaw(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"a1"}]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, auth.None{})

	got, err := c.Snapshot(context.Background(), "agents", "")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(got) != 1 || string(got[0]) != `{"id":"a1"}` {
		t.Errorf("records = %v", got)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, auth.None{},
		WithRetries(3, time.Millisecond),
	)

	if _, err := c.Snapshot(context.Background(), "agents", ""); err != nil {
		t.Fatalf("Snapshot failed after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL, auth.None{},
		WithRetries(3, time.Millisecond),
	)

	_, err := c.Snapshot(context.Background(), "missing", "")
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("error = %v, want 404 APIError", err)
	}
	if apiErr.IsRetryable() {
		t.Error("404 should not be retryable")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestSnapshotCancelled(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	c := NewClient(server.URL, auth.None{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := c.Snapshot(ctx, "agents", "")
	if err == nil {
		t.Fatal("expected error from cancelled fetch")
	}
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q, want /health", r.URL.Path)
		}
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, auth.None{})
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Health failed: %v", err)
	}
}
