package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for intibridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Intiface IntifaceConfig `yaml:"intiface"`
	Device   DeviceConfig   `yaml:"device"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP API server settings.
type ServerConfig struct {
	Host     string              `yaml:"host"`
	Port     int                 `yaml:"port"`
	Timeouts ServerTimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig          `yaml:"cors"`
}

// ServerTimeoutConfig contains HTTP timeout settings in seconds.
type ServerTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
// SillyTavern calls the bridge from a browser context, so CORS is
// permissive by default.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// IntifaceConfig contains settings for the upstream Intiface Central
// WebSocket connection.
type IntifaceConfig struct {
	// URL is the Intiface Central websocket endpoint (ws:// or wss://).
	URL string `yaml:"url"`

	// ClientName is the name announced in the protocol handshake.
	ClientName string `yaml:"client_name"`

	// ScanTimeout bounds a device discovery window, in seconds.
	ScanTimeout int `yaml:"scan_timeout"`

	// HandshakeTimeout is the maximum time to wait for the server info
	// reply after opening the transport, in seconds.
	HandshakeTimeout int `yaml:"handshake_timeout"`

	// SendTimeout bounds a single transport write, in seconds.
	SendTimeout int `yaml:"send_timeout"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig contains reconnection settings.
type ReconnectConfig struct {
	// InitialDelay is the first backoff delay in seconds.
	InitialDelay int `yaml:"initial_delay"`

	// MaxDelay caps the exponential backoff, in seconds.
	MaxDelay int `yaml:"max_delay"`

	// MaxAttempts limits consecutive failed attempts before giving up.
	// 0 means retry indefinitely.
	MaxAttempts int `yaml:"max_attempts"`
}

// DeviceConfig contains command defaults applied when a REST caller
// omits a parameter.
type DeviceConfig struct {
	DefaultSpeed    float64 `yaml:"default_speed"`
	DefaultPosition float64 `yaml:"default_position"`
	DefaultDuration float64 `yaml:"default_duration"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// A missing file is not an error: defaults plus environment variables
// are used, matching the behaviour expected by first-run users.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err):
		// Run on defaults.
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// These mirror the defaults SillyTavern integrations expect.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 3069,
			Timeouts: ServerTimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
			},
		},
		Intiface: IntifaceConfig{
			URL:              "ws://127.0.0.1:12345",
			ClientName:       "intibridge",
			ScanTimeout:      2,
			HandshakeTimeout: 10,
			SendTimeout:      5,
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Device: DeviceConfig{
			DefaultSpeed:    0.5,
			DefaultPosition: 0.5,
			DefaultDuration: 0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides.
// Variables follow the pattern INTIBRIDGE_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INTIBRIDGE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("INTIBRIDGE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("INTIBRIDGE_INTIFACE_URL"); v != "" {
		cfg.Intiface.URL = v
	}
	if v := os.Getenv("INTIBRIDGE_INTIFACE_CLIENT_NAME"); v != "" {
		cfg.Intiface.ClientName = v
	}
	if v := os.Getenv("INTIBRIDGE_INTIFACE_SCAN_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Intiface.ScanTimeout = secs
		}
	}
	if v := os.Getenv("INTIBRIDGE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("INTIBRIDGE_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if c.Intiface.URL == "" {
		errs = append(errs, "intiface.url is required")
	} else if u, err := url.Parse(c.Intiface.URL); err != nil {
		errs = append(errs, "intiface.url is not a valid URL")
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, "intiface.url scheme must be ws or wss")
	}

	if c.Intiface.ClientName == "" {
		errs = append(errs, "intiface.client_name is required")
	}
	if c.Intiface.ScanTimeout < 1 {
		errs = append(errs, "intiface.scan_timeout must be at least 1 second")
	}
	if c.Intiface.HandshakeTimeout < 1 {
		errs = append(errs, "intiface.handshake_timeout must be at least 1 second")
	}
	if c.Intiface.SendTimeout < 1 {
		errs = append(errs, "intiface.send_timeout must be at least 1 second")
	}
	if c.Intiface.Reconnect.InitialDelay < 1 {
		errs = append(errs, "intiface.reconnect.initial_delay must be at least 1 second")
	}
	if c.Intiface.Reconnect.MaxDelay < c.Intiface.Reconnect.InitialDelay {
		errs = append(errs, "intiface.reconnect.max_delay must be >= initial_delay")
	}
	if c.Intiface.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "intiface.reconnect.max_attempts must be >= 0")
	}

	if c.Device.DefaultSpeed < 0 || c.Device.DefaultSpeed > 1 {
		errs = append(errs, "device.default_speed must be between 0.0 and 1.0")
	}
	if c.Device.DefaultPosition < 0 || c.Device.DefaultPosition > 1 {
		errs = append(errs, "device.default_position must be between 0.0 and 1.0")
	}
	if c.Device.DefaultDuration < 0 {
		errs = append(errs, "device.default_duration must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the server read timeout as a Duration.
func (c *ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the server write timeout as a Duration.
func (c *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the server idle timeout as a Duration.
func (c *ServerConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}

// GetScanTimeout returns the discovery window as a Duration.
func (c *IntifaceConfig) GetScanTimeout() time.Duration {
	return time.Duration(c.ScanTimeout) * time.Second
}

// GetHandshakeTimeout returns the handshake bound as a Duration.
func (c *IntifaceConfig) GetHandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeout) * time.Second
}

// GetSendTimeout returns the transport write bound as a Duration.
func (c *IntifaceConfig) GetSendTimeout() time.Duration {
	return time.Duration(c.SendTimeout) * time.Second
}

// GetInitialDelay returns the first reconnect backoff as a Duration.
func (c *ReconnectConfig) GetInitialDelay() time.Duration {
	return time.Duration(c.InitialDelay) * time.Second
}

// GetMaxDelay returns the backoff ceiling as a Duration.
func (c *ReconnectConfig) GetMaxDelay() time.Duration {
	return time.Duration(c.MaxDelay) * time.Second
}
