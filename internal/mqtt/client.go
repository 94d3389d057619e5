package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/logger"
	"github.com/tphakala/ondepi-go/internal/privacy"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.NewStd("not connected to MQTT broker")

// MetricsRecorder receives broker session measurements. It is implemented
// by observability/metrics.MQTTMetrics.
type MetricsRecorder interface {
	UpdateConnectionStatus(connected bool)
	IncrementMessagesDelivered()
	IncrementErrors()
	IncrementReconnectAttempts()
	ObserveMessageSize(sizeBytes float64)
	ObservePublishLatency(latencySeconds float64)
}

type noopMetrics struct{}

func (noopMetrics) UpdateConnectionStatus(bool)   {}
func (noopMetrics) IncrementMessagesDelivered()   {}
func (noopMetrics) IncrementErrors()              {}
func (noopMetrics) IncrementReconnectAttempts()   {}
func (noopMetrics) ObserveMessageSize(float64)    {}
func (noopMetrics) ObservePublishLatency(float64) {}

// client implements Client on top of paho. paho reconnects on its own once
// the first connection attempt has been made.
type client struct {
	config          Config
	internalClient  mqtt.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	metrics         MetricsRecorder
	log             logger.Logger
}

// NewClient creates an unconnected client.
func NewClient(cfg Config, metrics MetricsRecorder) Client {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &client{
		config:  cfg,
		metrics: metrics,
		log:     GetLogger(),
	}
}

// Connect resolves the broker host and connects. After the first call paho
// keeps retrying in the background, so a timed out Connect still ends up
// connected once the broker appears.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient != nil {
		if c.internalClient.IsConnected() {
			return nil
		}
		return errors.Newf("connection to MQTT broker still in progress").
			Component(componentMQTT).
			Category(errors.CategoryMQTTConnection).
			Build()
	}

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since).
			Component(componentMQTT).
			Category(errors.CategoryMQTTConnection).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil || u.Host == "" {
		return errors.Newf("invalid broker URL %s", privacy.SanitizeURL(c.config.Broker)).
			Component(componentMQTT).
			Category(errors.CategoryConfiguration).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Component(componentMQTT).
				Category(errors.CategoryNetwork).
				Context("broker_host", host).
				Build()
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetWill(c.config.AvailabilityTopic(), payloadOffline, 1, true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		c.metrics.IncrementReconnectAttempts()
	})

	c.internalClient = mqtt.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return errors.Newf("connection timeout").
			Component(componentMQTT).
			Category(errors.CategoryMQTTConnection).
			Context("broker", privacy.SanitizeURL(c.config.Broker)).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component(componentMQTT).
			Category(errors.CategoryMQTTConnection).
			Context("broker", privacy.SanitizeURL(c.config.Broker)).
			Build()
	}
	return nil
}

// Publish sends payload at QoS 0.
func (c *client) Publish(ctx context.Context, topic, payload string, retain bool) error {
	c.mu.Lock()
	internal := c.internalClient
	c.mu.Unlock()

	if internal == nil || !internal.IsConnected() {
		return ErrNotConnected
	}

	start := time.Now()
	token := internal.Publish(topic, 0, retain, payload)

	timeout := c.config.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if !token.WaitTimeout(timeout) {
		c.metrics.IncrementErrors()
		return errors.Newf("publish timeout").
			Component(componentMQTT).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		c.metrics.IncrementErrors()
		return errors.New(err).
			Component(componentMQTT).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	c.metrics.ObservePublishLatency(time.Since(start).Seconds())
	c.metrics.IncrementMessagesDelivered()
	c.metrics.ObserveMessageSize(float64(len(payload)))
	return nil
}

// IsConnected returns true if the client is currently connected.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect publishes "offline" and closes the connection. It also stops a
// connection attempt that is still retrying.
func (c *client) Disconnect() {
	c.mu.Lock()
	internal := c.internalClient
	c.internalClient = nil
	c.mu.Unlock()

	if internal == nil {
		return
	}
	if internal.IsConnected() {
		token := internal.Publish(c.config.AvailabilityTopic(), 1, true, payloadOffline)
		token.WaitTimeout(c.config.DisconnectTimeout)
	}
	internal.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds())) //nolint:gosec // small positive duration
	c.metrics.UpdateConnectionStatus(false)
}

func (c *client) onConnect(mc mqtt.Client) {
	c.log.Info("connected to MQTT broker", logger.String("broker", privacy.SanitizeURL(c.config.Broker)))
	c.metrics.UpdateConnectionStatus(true)
	mc.Publish(c.config.AvailabilityTopic(), 1, true, payloadOnline)
}

func (c *client) onConnectionLost(_ mqtt.Client, err error) {
	c.log.Warn("connection to MQTT broker lost",
		logger.String("broker", privacy.SanitizeURL(c.config.Broker)),
		logger.Error(err))
	c.metrics.UpdateConnectionStatus(false)
	c.metrics.IncrementErrors()
}
