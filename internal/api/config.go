// Package api serves the JSON control API of the appliance: status, stream
// control, configuration, input gain and test, session history, a live level
// feed over WebSocket and the Prometheus endpoint.
package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultLevelInterval is how often the level feed sends a reading.
	DefaultLevelInterval = 100 * time.Millisecond
)

// Config holds the HTTP server configuration.
type Config struct {
	// Server binding
	Host string // Host to bind to (empty for all interfaces)
	Port string // Port to listen on

	// Security settings
	AllowedOrigins []string // CORS allowed origins

	// Timeouts
	ReadTimeout     time.Duration // Maximum duration for reading request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum time to wait for next request
	ShutdownTimeout time.Duration // Maximum time to wait for graceful shutdown

	// Limits
	BodyLimit string // Maximum request body size (e.g., "1M", "10M")

	// Metrics exposes /metrics
	Metrics bool

	// LevelInterval paces the WebSocket level feed
	LevelInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:            "",
		Port:            "8090",
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       "1M",
		Metrics:         true,
		LevelInterval:   DefaultLevelInterval,
	}
}

// ConfigFromSettings creates a Config from the web section.
func ConfigFromSettings(web *conf.WebSettings) *Config {
	cfg := DefaultConfig()
	cfg.Host = web.Bind
	if cfg.Host == "0.0.0.0" {
		cfg.Host = ""
	}
	cfg.Port = strconv.Itoa(web.Port)
	cfg.Metrics = web.Metrics
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port == "" || c.Port == "0" {
		return fmt.Errorf("port is required")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.LevelInterval <= 0 {
		return fmt.Errorf("level interval must be positive")
	}
	return nil
}

// Address returns the full address string for the server to listen on.
func (c *Config) Address() string {
	if c.Host == "" {
		return ":" + c.Port
	}
	return c.Host + ":" + c.Port
}
