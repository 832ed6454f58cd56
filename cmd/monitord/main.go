// monitord connects to a diagram-execution backend, subscribes to the
// monitor event stream, and optionally records execution events to
// Postgres.
//
// Usage: go run ./cmd/monitord --config configs/monitor.local.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mfranklin/flowlink/internal/config"
	"github.com/mfranklin/flowlink/internal/database"
	"github.com/mfranklin/flowlink/internal/protocol"
	"github.com/mfranklin/flowlink/internal/realtime"
	"github.com/mfranklin/flowlink/internal/recorder"
	"github.com/mfranklin/flowlink/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/monitor.local.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	level := slog.LevelInfo
	if cfg.Realtime.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting monitord",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", *configPath,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	wsURL := cfg.ResolveWSURL()
	logger.Info("configuration loaded", "ws_url", wsURL, "recorder_enabled", cfg.Recorder.Enabled)

	client := realtime.NewClient(realtime.Config{
		URL:                  wsURL,
		ReconnectBaseDelay:   cfg.Realtime.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Realtime.ReconnectMaxDelay,
		BackoffFactor:        cfg.Realtime.BackoffFactor,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		HandshakeTimeout:     cfg.Realtime.HandshakeTimeout,
		WriteTimeout:         cfg.Realtime.WriteTimeout,
		Debug:                cfg.Realtime.Debug,
	}, realtime.WithLogger(logger))

	// Lifecycle logging; exhausted reconnect budget ends the process.
	client.OnEvent(realtime.EventConnected, func(realtime.Event) {
		logger.Info("connected", "url", wsURL)
	})
	client.OnEvent(realtime.EventDisconnected, func(ev realtime.Event) {
		logger.Warn("disconnected", "code", ev.Code, "reason", ev.Reason)
	})
	client.OnEvent(realtime.EventError, func(ev realtime.Event) {
		logger.Error("connection error", "error", ev.Err)
	})
	client.OnEvent(realtime.EventReconnectFailed, func(ev realtime.Event) {
		logger.Error("reconnect budget exhausted", "attempts", ev.Attempts)
		cancel()
	})

	// Recorder pipeline
	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		logger.Info("database connected")

		rec = recorder.New(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}, pool, logger)
		rec.Attach(client)
		if err := rec.Start(ctx); err != nil {
			logger.Error("failed to start recorder", "error", err)
			os.Exit(1)
		}
	}

	client.Connect()

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(cfg.Health.Path, client, rec),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port, "path", cfg.Health.Path)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return heartbeatLoop(gctx, client, cfg.Realtime.HeartbeatInterval, logger)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	logger.Info("monitord running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Health.Port, cfg.Health.Path),
	)

	if err := g.Wait(); err != nil {
		logger.Error("runtime error", "error", err)
	}

	logger.Info("shutting down...")

	client.Disconnect()
	if rec != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		rec.Stop(shutdownCtx)
	}

	logger.Info("monitord stopped")
}

// heartbeatLoop sends periodic heartbeats while the connection is open.
func heartbeatLoop(ctx context.Context, client *realtime.Client, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !client.IsConnected() {
				continue
			}
			if err := client.Send(protocol.Heartbeat()); err != nil {
				logger.Warn("heartbeat send failed", "error", err)
			}
		}
	}
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(path string, client *realtime.Client, rec *recorder.Recorder) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status     string         `json:"status"`
			Version    string         `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Version,
			Components: make(map[string]any),
		}

		state := client.ReadyState()
		health.Components["realtime"] = map[string]any{
			"state":     state.String(),
			"queue_len": client.QueueLen(),
		}
		if state != realtime.StateOpen {
			health.Status = "degraded"
		}

		if rec != nil {
			stats := rec.Stats()
			bufStats := rec.BufferStats()
			health.Components["recorder"] = map[string]any{
				"inserts":      stats.Inserts,
				"conflicts":    stats.Conflicts,
				"errors":       stats.Errors,
				"flushes":      stats.Flushes,
				"decode_fails": stats.DecodeFails,
				"buffered":     bufStats.Count,
			}
			if stats.Errors > 0 {
				health.Status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
