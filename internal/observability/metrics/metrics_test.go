package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gaugeValue reads a gauge series from the registry.
func gaugeValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric.GetLabel(), labels) {
				return metric.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("series %s%v not found", name, labels)
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if want[p.GetName()] != p.GetValue() {
			return false
		}
	}
	return true
}

func TestCaptureMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewCaptureMetrics(reg)
	require.NoError(t, err)

	m.RecordBlock(480)
	m.RecordBlock(480)
	m.RecordLevels(0.25, 0.9)
	m.RecordConsumerError("bridge")
	m.RecordDeviceError()

	assert.InDelta(t, 2, testutil.ToFloat64(m.blocks), 0)
	assert.InDelta(t, 960, testutil.ToFloat64(m.frames), 0)
	assert.InDelta(t, 0.25, testutil.ToFloat64(m.rms), 0)
	assert.InDelta(t, 0.9, testutil.ToFloat64(m.peak), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.consumerErrors.WithLabelValues("bridge")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.deviceErrors), 0)

	assert.InDelta(t, 1, gaugeValue(t, reg, "ondepi_capture_device_state", map[string]string{"state": "idle"}), 0)
	m.RecordDeviceState("connected")
	assert.InDelta(t, 0, gaugeValue(t, reg, "ondepi_capture_device_state", map[string]string{"state": "idle"}), 0)
	assert.InDelta(t, 1, gaugeValue(t, reg, "ondepi_capture_device_state", map[string]string{"state": "connected"}), 0)
}

func TestStreamerMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewStreamerMetrics(reg)
	require.NoError(t, err)

	m.RecordLaunch(false)
	m.RecordLaunch(true)
	m.RecordLaunch(true)
	m.RecordExit(1)
	m.RecordStreaming(true)
	m.RecordBridgeBytes(4096)
	m.RecordBridgeBytes(-1)
	m.RecordBridgeDrop()
	m.RecordMetadataPush("azuracast", nil)
	m.RecordMetadataPush("azuracast", errors.New("HTTP 500"))

	assert.InDelta(t, 1, testutil.ToFloat64(m.launches.WithLabelValues("start")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.launches.WithLabelValues("retry")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.exits.WithLabelValues("1")), 0)
	assert.InDelta(t, 1, gaugeValue(t, reg, "ondepi_streaming", map[string]string{}), 0)
	assert.InDelta(t, 4096, testutil.ToFloat64(m.bridgeBytes), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.bridgeDrops), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.metadataPush.WithLabelValues("azuracast", "error")), 0)
	assert.Positive(t, testutil.ToFloat64(m.lastStartTime))
}

func TestHTTPAndNotificationMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	h, err := NewHTTPMetrics(reg)
	require.NoError(t, err)
	n, err := NewNotificationMetrics(reg)
	require.NoError(t, err)

	h.RecordRequest("GET", "/api/status", 200, 3*time.Millisecond)
	h.RecordClientRequest("radio.example.org", 0, time.Second)
	h.LevelFeedConnected(1)
	h.LevelFeedConnected(1)
	h.LevelFeedConnected(-1)
	n.RecordSent("stream_failed")
	n.RecordSuppressed("stream_failed")

	assert.InDelta(t, 1, testutil.ToFloat64(h.requests.WithLabelValues("GET", "/api/status", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.clientRequests.WithLabelValues("radio.example.org", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.wsClients), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(n.sent.WithLabelValues("stream_failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(n.suppressed.WithLabelValues("stream_failed")), 0)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewMQTTMetrics(reg)
	require.NoError(t, err)
	_, err = NewMQTTMetrics(reg)
	assert.Error(t, err)
}

func TestMQTTMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewMQTTMetrics(reg)
	require.NoError(t, err)

	m.UpdateConnectionStatus(true)
	assert.InDelta(t, 1, gaugeValue(t, reg, "ondepi_mqtt_connected", nil), 0)
	assert.Positive(t, gaugeValue(t, reg, "ondepi_mqtt_last_connect_timestamp_seconds", nil))

	m.IncrementMessagesDelivered()
	m.IncrementMessagesDelivered()
	m.IncrementErrors()
	m.IncrementReconnectAttempts()
	m.ObserveMessageSize(300)
	m.ObservePublishLatency(0.01)
	m.UpdateConnectionStatus(false)

	assert.InDelta(t, 0, gaugeValue(t, reg, "ondepi_mqtt_connected", nil), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.delivered), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.errors), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.reconnects), 0)
	assert.Equal(t, 7, testutil.CollectAndCount(m))
}
