// Package mqtt publishes appliance status and the now-playing title to an
// MQTT broker, optionally with Home Assistant discovery configs.
package mqtt

import (
	"context"
	"time"

	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/logger"
)

const componentMQTT = "mqtt"

// Client defines the broker operations the publisher needs.
type Client interface {
	// Connect attempts to connect to the broker.
	Connect(ctx context.Context) error

	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, payload string, retain bool) error

	// IsConnected returns true if the client is currently connected.
	IsConnected() bool

	// Disconnect announces "offline" and closes the connection.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // topic prefix
	Retain   bool

	// Status publication interval
	StatusInterval time.Duration

	ReconnectCooldown time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values.
func DefaultConfig() Config {
	return Config{
		Topic:             "ondepi",
		StatusInterval:    10 * time.Second,
		ReconnectCooldown: 5 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings maps the mqtt section onto a Config.
func ConfigFromSettings(s conf.MQTTSettings) Config {
	cfg := DefaultConfig()
	cfg.Broker = s.Broker
	cfg.ClientID = s.ClientID
	cfg.Username = s.Username
	cfg.Password = s.Password
	cfg.Retain = s.Retain
	if s.Topic != "" {
		cfg.Topic = s.Topic
	}
	if s.StatusIntervalSeconds > 0 {
		cfg.StatusInterval = time.Duration(s.StatusIntervalSeconds) * time.Second
	}
	return cfg
}

// AvailabilityTopic carries "online"/"offline", the latter as the will.
func (c *Config) AvailabilityTopic() string { return c.Topic + "/availability" }

// StatusTopic carries StatusDTO.
func (c *Config) StatusTopic() string { return c.Topic + "/status" }

// NowPlayingTopic carries NowPlayingDTO.
func (c *Config) NowPlayingTopic() string { return c.Topic + "/now_playing" }

// GetLogger returns the mqtt module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("mqtt")
}
