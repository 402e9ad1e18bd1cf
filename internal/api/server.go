// Package api provides the HTTP REST surface of the bridge.
//
// It exposes stateless control endpoints (vibrate, stop, scan, device
// selection) over the persistent Intiface session, plus status and
// health introspection and the embedded test page.
//
// The server follows the same lifecycle pattern as the other
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nullaxis/intibridge/internal/bridges/intiface"
	"github.com/nullaxis/intibridge/internal/device"
	"github.com/nullaxis/intibridge/internal/infrastructure/config"
	"github.com/nullaxis/intibridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Bridge is the slice of the device bridge the HTTP layer consumes.
// *intiface.Bridge satisfies it; tests substitute a stub.
type Bridge interface {
	Status() intiface.Status
	Devices() []device.Device
	SelectDevice(index uint32) (*device.Device, error)
	Vibrate(speed, position, duration *float64) (*intiface.CommandReceipt, error)
	Stop(index *uint32) error
	Scan(timeout *float64) error
	Connected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.ServerConfig
	Defaults config.DeviceConfig
	Logger   *logging.Logger
	Bridge   Bridge
	Version  string
}

// Server is the HTTP control server.
type Server struct {
	cfg      config.ServerConfig
	defaults config.DeviceConfig
	logger   *logging.Logger
	bridge   Bridge
	version  string
	server   *http.Server
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	return &Server{
		cfg:      deps.Config,
		defaults: deps.Defaults,
		logger:   deps.Logger,
		bridge:   deps.Bridge,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server. It waits up to 10
// seconds for in-flight requests to complete, then forcefully closes
// remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
