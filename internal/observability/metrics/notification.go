package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics records alert delivery.
type NotificationMetrics struct {
	sent       *prometheus.CounterVec
	failed     *prometheus.CounterVec
	suppressed *prometheus.CounterVec

	collectorSet
}

// NewNotificationMetrics creates the notification collectors and registers them.
func NewNotificationMetrics(registry prometheus.Registerer) (*NotificationMetrics, error) {
	m := &NotificationMetrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ondepi_notifications_sent_total",
			Help: "Notifications delivered by event",
		}, []string{"event"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ondepi_notifications_failed_total",
			Help: "Notification deliveries that failed, by event",
		}, []string{"event"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ondepi_notifications_suppressed_total",
			Help: "Notifications dropped as duplicates within the throttle window",
		}, []string{"event"}),
	}
	m.collectorSet = collectorSet{m.sent, m.failed, m.suppressed}

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

// RecordSent counts a delivered notification.
func (m *NotificationMetrics) RecordSent(event string) {
	m.sent.WithLabelValues(event).Inc()
}

// RecordFailed counts a failed delivery.
func (m *NotificationMetrics) RecordFailed(event string) {
	m.failed.WithLabelValues(event).Inc()
}

// RecordSuppressed counts a throttled duplicate.
func (m *NotificationMetrics) RecordSuppressed(event string) {
	m.suppressed.WithLabelValues(event).Inc()
}
