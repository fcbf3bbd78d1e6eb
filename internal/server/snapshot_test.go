package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/framehq/livesync/internal/config"
)

func snapshotMux(tables ...string) http.Handler {
	return New(config.ServerConfig{Tables: tables}, nil, nil).Handler()
}

func TestSnapshotRejectsUnknownTable(t *testing.T) {
	srv := httptest.NewServer(snapshotMux("agents"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/secrets")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSnapshotRejectsBadFilter(t *testing.T) {
	srv := httptest.NewServer(snapshotMux("agents"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/agents?filter=no-equals-sign")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSanitizeIdent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"livesync_changes", "livesync_changes"},
		{"Agents2", "Agents2"},
		{"bad-name", "_invalid_"},
		{"x; DROP TABLE agents", "_invalid_"},
		{"", "_invalid_"},
	}

	for _, tt := range tests {
		if got := sanitizeIdent(tt.in); got != tt.want {
			t.Errorf("sanitizeIdent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
