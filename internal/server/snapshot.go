package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// sanitizeIdent passes through a safe SQL identifier or collapses it
// to a harmless placeholder. Tables are additionally whitelisted, so
// this only guards config values and filter column names.
func sanitizeIdent(s string) string {
	if identPattern.MatchString(s) {
		return s
	}
	return "_invalid_"
}

// Snapshots serves full-table reads for the whitelisted tables. The
// response is a JSON array of row objects, the same shape rows take in
// change frames.
type Snapshots struct {
	pool    *pgxpool.Pool
	allowed map[string]bool
	logger  *slog.Logger
}

// NewSnapshots creates the snapshot handler for the given tables.
func NewSnapshots(pool *pgxpool.Pool, tables []string, logger *slog.Logger) *Snapshots {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(tables))
	for _, t := range tables {
		allowed[t] = true
	}
	return &Snapshots{pool: pool, allowed: allowed, logger: logger}
}

// ServeHTTP handles GET /api/{table}?filter=col=value.
func (s *Snapshots) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	table := r.PathValue("table")
	if !s.allowed[table] || !identPattern.MatchString(table) {
		http.Error(w, "unknown table", http.StatusNotFound)
		return
	}

	query := fmt.Sprintf(`SELECT to_jsonb(t) FROM %q t`, table)
	var args []any

	if filter := r.URL.Query().Get("filter"); filter != "" {
		column, value, ok := strings.Cut(filter, "=")
		if !ok || !identPattern.MatchString(column) {
			http.Error(w, "bad filter", http.StatusBadRequest)
			return
		}
		query += fmt.Sprintf(` WHERE t.%q::text = $1`, column)
		args = append(args, value)
	}

	rows, err := s.pool.Query(r.Context(), query, args...)
	if err != nil {
		s.logger.Error("snapshot query failed", "table", table, "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	records := make([]json.RawMessage, 0, 64)
	for rows.Next() {
		var row []byte
		if err := rows.Scan(&row); err != nil {
			s.logger.Error("snapshot scan failed", "table", table, "error", err)
			http.Error(w, "scan failed", http.StatusInternalServerError)
			return
		}
		records = append(records, json.RawMessage(row))
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("snapshot rows failed", "table", table, "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}
