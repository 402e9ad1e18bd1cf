// Package logging provides structured logging for intibridge.
//
// It wraps Go's standard log/slog package so every component logs the
// same way: JSON for machine consumption, text for development, with
// service and version attached to every entry.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting server", "port", 3069)
//	wsLogger := logger.With("component", "intiface")
package logging
