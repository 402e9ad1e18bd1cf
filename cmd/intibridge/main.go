// intibridge - REST to Intiface bridge
//
// This is the main entry point for the bridge. It exposes a stateless
// HTTP control surface for chat frontends (SillyTavern trigger rules,
// curl, the embedded test page) and maintains the persistent websocket
// session to Intiface Central that actually drives the hardware.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nullaxis/intibridge/internal/api"
	"github.com/nullaxis/intibridge/internal/bridges/intiface"
	"github.com/nullaxis/intibridge/internal/infrastructure/config"
	"github.com/nullaxis/intibridge/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting intibridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Start the device bridge. A server that is not up yet is not
	// fatal: the client keeps retrying in the background and the REST
	// surface reports the connection state honestly.
	bridge := intiface.NewBridge(cfg.Intiface, cfg.Device)
	bridge.SetLogger(log)
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting device bridge: %w", err)
	}
	defer func() {
		log.Info("stopping device bridge")
		if closeErr := bridge.Close(); closeErr != nil {
			log.Error("error closing device bridge", "error", closeErr)
		}
	}()
	log.Info("device bridge started", "url", cfg.Intiface.URL)

	// Start the HTTP control server
	server, err := api.New(api.Deps{
		Config:   cfg.Server,
		Defaults: cfg.Device,
		Logger:   log,
		Bridge:   bridge,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
	)

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (stop accepting commands)
	// 2. Device bridge (stop all devices, drop the session)

	log.Info("intibridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses INTIBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("INTIBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
