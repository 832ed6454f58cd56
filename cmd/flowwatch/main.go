// flowwatch connects to a diagram-execution backend and streams monitor
// events to the console.
//
// Usage: go run ./cmd/flowwatch --url ws://localhost:8000/api/ws
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

	"github.com/mfranklin/flowlink/internal/config"
	"github.com/mfranklin/flowlink/internal/protocol"
	"github.com/mfranklin/flowlink/internal/realtime"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	urlFlag := flag.String("url", "", "WebSocket URL (overrides config)")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	wsURL := *urlFlag
	if wsURL == "" && *configPath != "" {
		cfg, err := config.LoadWithDefaults(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		wsURL = cfg.ResolveWSURL()
	}
	if wsURL == "" {
		if env := os.Getenv(config.WSURLEnvVar); env != "" {
			wsURL = env
		} else {
			wsURL = fmt.Sprintf("ws://%s:%d%s",
				config.DefaultServerHost, config.DefaultServerPort, config.DefaultServerPath)
		}
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

	client := realtime.NewClient(realtime.Config{URL: wsURL}, realtime.WithLogger(logger))

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
	client.OnEvent(realtime.EventMessage, func(ev realtime.Event) {
		printFrame(*ev.Frame, *verbose)
	})

	client.Connect()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	client.Disconnect()
	logger.Info("shutdown complete")
}

func printFrame(f realtime.Frame, verbose bool) {
	if verbose {
		var pretty any
		if err := json.Unmarshal(f.Raw, &pretty); err == nil {
			data, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Printf("[%s] %s\n", f.Type, data)
			return
		}
		fmt.Printf("[%s] %s\n", f.Type, f.Raw)
		return
	}

	switch f.Type {
	case protocol.TypeExecutionStarted, protocol.TypeExecutionComplete, protocol.TypeExecutionAborted:
		var ev protocol.ExecutionEvent
		if err := f.Decode(&ev); err == nil {
			fmt.Printf("[%s] execution=%s status=%s\n", f.Type, ev.ExecutionID, ev.Status)
			return
		}
	case protocol.TypeNodeProgress, protocol.TypeNodePaused, protocol.TypeNodeResumed:
		var ev protocol.ExecutionEvent
		if err := f.Decode(&ev); err == nil {
			fmt.Printf("[%s] execution=%s node=%s status=%s %s\n",
				f.Type, ev.ExecutionID, ev.NodeID, ev.Status, ev.Message)
			return
		}
	case protocol.TypeInteractivePrompt:
		var prompt protocol.InteractivePromptMsg
		if err := f.Decode(&prompt); err == nil {
			fmt.Printf("[%s] execution=%s node=%s prompt=%q\n",
				f.Type, prompt.ExecutionID, prompt.NodeID, prompt.Prompt)
			return
		}
	}
	fmt.Printf("[%s] %s\n", f.Type, f.Raw)
}
