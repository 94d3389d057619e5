// Package observability owns the Prometheus registry of the appliance and
// serves it on /metrics.
package observability

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/ondepi-go/internal/logger"
	"github.com/tphakala/ondepi-go/internal/observability/metrics"
)

// Metrics holds all metric collectors of the appliance.
type Metrics struct {
	registry     *prometheus.Registry
	Capture      *metrics.CaptureMetrics
	Streamer     *metrics.StreamerMetrics
	HTTP         *metrics.HTTPMetrics
	MQTT         *metrics.MQTTMetrics
	Notification *metrics.NotificationMetrics
}

// NewMetrics creates a private registry with process and Go runtime
// collectors plus every appliance metric group.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	capture, err := metrics.NewCaptureMetrics(registry)
	if err != nil {
		return nil, err
	}
	streamer, err := metrics.NewStreamerMetrics(registry)
	if err != nil {
		return nil, err
	}
	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, err
	}
	mqtt, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, err
	}
	notification, err := metrics.NewNotificationMetrics(registry)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		registry:     registry,
		Capture:      capture,
		Streamer:     streamer,
		HTTP:         httpMetrics,
		MQTT:         mqtt,
		Notification: notification,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// ObserveHTTPClient returns an httpclient after-response hook recording
// outbound requests.
func (m *Metrics) ObserveHTTPClient() func(req *http.Request, resp *http.Response, err error, elapsed time.Duration) {
	return func(req *http.Request, resp *http.Response, err error, elapsed time.Duration) {
		code := 0
		if err == nil && resp != nil {
			code = resp.StatusCode
		}
		m.HTTP.RecordClientRequest(hostOf(req.URL), code, elapsed)
	}
}

func hostOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Host
}

// promLogger adapts promhttp error logging to the module logger.
type promLogger struct{}

func (promLogger) Println(v ...any) {
	GetLogger().Warn("metrics handler error", logger.String("error", fmt.Sprint(v...)))
}
