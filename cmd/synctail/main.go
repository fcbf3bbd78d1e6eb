// synctail connects to a realtime backend and streams change events
// for one table to the console.
// Usage: go run ./cmd/synctail --config configs/livesync.local.yaml --table agents
//
// Required environment variables:
//
//	LIVESYNC_USER_ID      - User id sent in the auth handshake
//	LIVESYNC_ACCESS_TOKEN - Bearer token for REST and websocket auth (optional for dev)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/framehq/livesync/internal/api"
	"github.com/framehq/livesync/internal/auth"
	"github.com/framehq/livesync/internal/config"
	"github.com/framehq/livesync/internal/connection"
	"github.com/framehq/livesync/internal/feed"
	"github.com/framehq/livesync/internal/live"
)

func main() {
	configPath := flag.String("config", "configs/livesync.local.yaml", "path to config file")
	table := flag.String("table", "agents", "table to watch")
	filter := flag.String("filter", "", "optional filter, e.g. owner=u1")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Identity from environment
	identity := auth.NewEnv()
	if _, ok := identity.UserID(); !ok {
		logger.Error("LIVESYNC_USER_ID not set, cannot authenticate")
		os.Exit(1)
	}

	// REST client for snapshot reads
	apiClient := api.NewClient(
		cfg.Backend.RestURL,
		identity,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Backend.Timeout),
		api.WithRetries(cfg.Backend.MaxRetries, time.Second),
	)

	// Subscription registry and connection manager
	registry := feed.NewRegistry(logger)

	connCfg := connection.DefaultManagerConfig()
	connCfg.URL = cfg.Backend.RealtimeURL
	connCfg.HandshakeTimeout = cfg.Realtime.HandshakeTimeout
	connCfg.MaxReconnectAttempts = cfg.Realtime.MaxReconnectAttempts
	connCfg.Backoff.Base = cfg.Realtime.ReconnectBaseDelay
	connCfg.Backoff.Cap = cfg.Realtime.ReconnectMaxDelay
	connCfg.ManualReconnectDelay = cfg.Realtime.ManualReconnectDelay
	connCfg.PingTimeout = cfg.Realtime.PingTimeout
	connCfg.WriteTimeout = cfg.Realtime.WriteTimeout
	connCfg.BufferSize = cfg.Realtime.BufferSize

	connMgr := connection.NewManager(connCfg, identity, registry, logger)

	connMgr.OnStateChange(func(s connection.State) {
		fmt.Printf("[STATE] %s\n", s)
	})

	connMgr.Handle("dashboard_stats", func(data json.RawMessage) {
		fmt.Printf("[DASHBOARD] %s\n", data)
	})

	// Raw change printer for the watched table
	sub := registry.Subscribe(*table, *filter, feed.MaskAll, func(ev feed.Event) {
		if *verbose {
			data, _ := json.MarshalIndent(ev, "", "  ")
			fmt.Printf("[CHANGE] %s\n", data)
		} else {
			fmt.Printf("[CHANGE] type=%s table=%s new=%s old=%s\n",
				ev.Type, ev.Table, ev.New, ev.Old)
		}
	})
	defer sub.Unsubscribe()

	logger.Info("starting connection manager", "url", cfg.Backend.RealtimeURL)
	if err := connMgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}

	// Synchronized collection over the same table, to show counts
	collection := live.Watch(ctx, live.Options{
		Registry: registry,
		Fetcher:  apiClient,
		Health:   connMgr,
		Logger:   logger,
	}, *table, *filter, func(rec map[string]any) string {
		id, _ := rec["id"].(string)
		return id
	})
	defer collection.Close()

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := connMgr.Stats()
				logger.Info("stats",
					"state", stats.State,
					"attempts", stats.Attempts,
					"active_keys", stats.ActiveKeys,
					"records", len(collection.Records()),
					"loading", collection.Loading(),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	connMgr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}
