package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamerMetrics records encoder supervision. It implements
// streamer.MetricsRecorder.
type StreamerMetrics struct {
	launches      *prometheus.CounterVec
	exits         *prometheus.CounterVec
	streaming     prometheus.Gauge
	bridgeBytes   prometheus.Counter
	bridgeDrops   prometheus.Counter
	metadataPush  *prometheus.CounterVec
	lastStartTime prometheus.Gauge

	collectorSet
}

// NewStreamerMetrics creates the streamer collectors and registers them.
func NewStreamerMetrics(registry prometheus.Registerer) (*StreamerMetrics, error) {
	m := &StreamerMetrics{
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ondepi_encoder_launches_total",
			Help: "Encoder launches by kind (start or retry)",
		}, []string{"kind"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ondepi_encoder_exits_total",
			Help: "Encoder exits by exit code",
		}, []string{"code"}),
		streaming: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ondepi_streaming",
			Help: "1 while an encoder is live",
		}),
		bridgeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ondepi_bridge_bytes_total",
			Help: "PCM bytes written to encoder stdin",
		}),
		bridgeDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ondepi_bridge_dropped_blocks_total",
			Help: "Blocks dropped because the encoder fell behind",
		}),
		metadataPush: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ondepi_metadata_push_total",
			Help: "Metadata pushes by publisher and outcome",
		}, []string{"publisher", "status"}),
		lastStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ondepi_encoder_last_start_time_seconds",
			Help: "Unix time of the last encoder launch",
		}),
	}
	m.collectorSet = collectorSet{m.launches, m.exits, m.streaming, m.bridgeBytes, m.bridgeDrops, m.metadataPush, m.lastStartTime}

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register streamer metrics: %w", err)
	}
	return m, nil
}

// RecordLaunch counts an encoder launch.
func (m *StreamerMetrics) RecordLaunch(retry bool) {
	kind := "start"
	if retry {
		kind = "retry"
	}
	m.launches.WithLabelValues(kind).Inc()
	m.lastStartTime.SetToCurrentTime()
}

// RecordExit counts an encoder exit.
func (m *StreamerMetrics) RecordExit(code int) {
	m.exits.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RecordStreaming sets the streaming gauge.
func (m *StreamerMetrics) RecordStreaming(live bool) {
	m.streaming.Set(boolGauge(live))
}

// RecordBridgeBytes counts bytes written to the encoder.
func (m *StreamerMetrics) RecordBridgeBytes(n int) {
	if n > 0 {
		m.bridgeBytes.Add(float64(n))
	}
}

// RecordBridgeDrop counts a dropped block.
func (m *StreamerMetrics) RecordBridgeDrop() {
	m.bridgeDrops.Inc()
}

// RecordMetadataPush counts a push attempt.
func (m *StreamerMetrics) RecordMetadataPush(publisher string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.metadataPush.WithLabelValues(publisher, status).Inc()
}
