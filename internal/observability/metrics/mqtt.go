package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics records the status publisher's broker session. It satisfies
// mqtt.MetricsRecorder.
type MQTTMetrics struct {
	connected   prometheus.Gauge
	connectedAt prometheus.Gauge
	delivered   prometheus.Counter
	errors      prometheus.Counter
	reconnects  prometheus.Counter
	payload     prometheus.Histogram
	latency     prometheus.Histogram

	collectorSet
}

// NewMQTTMetrics creates the MQTT collectors and registers them.
func NewMQTTMetrics(registry prometheus.Registerer) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ondepi_mqtt_connected",
			Help: "1 while the broker session is up",
		}),
		connectedAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ondepi_mqtt_last_connect_timestamp_seconds",
			Help: "Unix time of the last successful broker connection",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ondepi_mqtt_published_total",
			Help: "Status and now-playing messages acknowledged by the broker",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ondepi_mqtt_errors_total",
			Help: "Failed publishes and lost connections",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ondepi_mqtt_reconnects_total",
			Help: "Broker connection attempts after the first",
		}),
		payload: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ondepi_mqtt_payload_bytes",
			Help:    "Size of published payloads",
			Buckets: prometheus.ExponentialBuckets(64, 2, 8), // 64B to 8KiB
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ondepi_mqtt_publish_duration_seconds",
			Help:    "Time until the broker acknowledged a publish",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
	m.collectorSet = collectorSet{m.connected, m.connectedAt, m.delivered, m.errors, m.reconnects, m.payload, m.latency}

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// UpdateConnectionStatus sets the session gauge; a new connection also
// stamps the connect time.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	m.connected.Set(boolGauge(connected))
	if connected {
		m.connectedAt.SetToCurrentTime()
	}
}

// IncrementMessagesDelivered counts an acknowledged publish.
func (m *MQTTMetrics) IncrementMessagesDelivered() {
	m.delivered.Inc()
}

// IncrementErrors counts a failed publish or a lost connection.
func (m *MQTTMetrics) IncrementErrors() {
	m.errors.Inc()
}

// IncrementReconnectAttempts counts a connection attempt after the first.
func (m *MQTTMetrics) IncrementReconnectAttempts() {
	m.reconnects.Inc()
}

// ObserveMessageSize records the size of a payload.
func (m *MQTTMetrics) ObserveMessageSize(sizeBytes float64) {
	m.payload.Observe(sizeBytes)
}

// ObservePublishLatency records how long a publish took to be acknowledged.
func (m *MQTTMetrics) ObservePublishLatency(latencySeconds float64) {
	m.latency.Observe(latencySeconds)
}
