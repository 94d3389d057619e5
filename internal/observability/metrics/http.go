package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics records control surface requests and outbound HTTP calls.
type HTTPMetrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	wsClients       prometheus.Gauge
	clientRequests  *prometheus.CounterVec
	clientDuration  *prometheus.HistogramVec

	collectorSet
}

// NewHTTPMetrics creates the HTTP collectors and registers them.
func NewHTTPMetrics(registry prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ondepi_http_requests_total",
			Help: "Control API requests by method, route and status code",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ondepi_http_request_duration_seconds",
			Help:    "Control API request duration",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"method", "path"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ondepi_http_level_feed_clients",
			Help: "Connected level feed websocket clients",
		}),
		clientRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ondepi_http_client_requests_total",
			Help: "Outbound HTTP requests by host and outcome",
		}, []string{"host", "status"}),
		clientDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ondepi_http_client_request_duration_seconds",
			Help:    "Outbound HTTP request duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"host"}),
	}
	m.collectorSet = collectorSet{m.requests, m.requestDuration, m.wsClients, m.clientRequests, m.clientDuration}

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

// RecordRequest records a served API request. path is the route pattern.
func (m *HTTPMetrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	m.requests.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// LevelFeedConnected adjusts the websocket client gauge by delta.
func (m *HTTPMetrics) LevelFeedConnected(delta int) {
	m.wsClients.Add(float64(delta))
}

// RecordClientRequest records an outbound request. statusCode 0 means the
// request failed before a response arrived.
func (m *HTTPMetrics) RecordClientRequest(host string, statusCode int, duration time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	m.clientRequests.WithLabelValues(host, status).Inc()
	m.clientDuration.WithLabelValues(host).Observe(duration.Seconds())
}
