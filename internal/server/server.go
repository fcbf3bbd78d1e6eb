package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/framehq/livesync/internal/config"
)

// Server is the assembled dev backend: websocket hub, notify bridge,
// snapshot reads, and a periodic dashboard stats push.
type Server struct {
	cfg      config.ServerConfig
	pool     *pgxpool.Pool
	hub      *Hub
	notifier *Notifier
	logger   *slog.Logger
}

// New creates a server from config and a live database pool.
func New(cfg config.ServerConfig, pool *pgxpool.Pool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	hub := NewHub(logger)
	return &Server{
		cfg:      cfg,
		pool:     pool,
		hub:      hub,
		notifier: NewNotifier(pool, hub, cfg.NotifyChannel, logger),
		logger:   logger,
	}
}

// Hub exposes the websocket hub, mainly for tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/realtime", s.hub.HandleWS)
	mux.Handle("GET /api/{table}", NewSnapshots(s.pool, s.cfg.Tables, s.logger))
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Run serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("dev server listening", "addr", s.cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := s.notifier.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		s.statsLoop(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		s.hub.CloseAll()
		return nil
	})

	return g.Wait()
}

// statsLoop pushes hub stats to all sessions at a fixed interval.
func (s *Server) statsLoop(ctx context.Context) {
	interval := s.cfg.StatsInterval
	if interval <= 0 {
		interval = config.DefaultStatsInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.hub.Stats()
			s.hub.BroadcastFrame(struct {
				Type string `json:"type"`
				HubStats
			}{Type: "dashboard_stats", HubStats: stats})
		}
	}
}

// handleHealth reports process and database health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Components: make(map[string]any),
	}

	if s.pool != nil {
		if err := s.pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}
	}

	health.Components["realtime"] = s.hub.Stats()

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}
