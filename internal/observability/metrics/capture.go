package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// captureStates are the device states exported as a one-hot gauge.
var captureStates = []string{"idle", "connecting", "connected", "error", "disconnected", "reconnecting", "stopped"}

// CaptureMetrics records capture engine activity. It implements
// audiocore.MetricsRecorder.
type CaptureMetrics struct {
	blocks         prometheus.Counter
	frames         prometheus.Counter
	rms            prometheus.Gauge
	peak           prometheus.Gauge
	consumerErrors *prometheus.CounterVec
	deviceErrors   prometheus.Counter
	deviceState    *prometheus.GaugeVec

	collectorSet
}

// NewCaptureMetrics creates the capture collectors and registers them.
func NewCaptureMetrics(registry prometheus.Registerer) (*CaptureMetrics, error) {
	m := &CaptureMetrics{
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ondepi_capture_blocks_total",
			Help: "Audio blocks processed by the capture pipeline",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ondepi_capture_frames_total",
			Help: "Audio frames processed by the capture pipeline",
		}),
		rms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ondepi_capture_level_rms",
			Help: "RMS level of the last processed block (0..1)",
		}),
		peak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ondepi_capture_level_peak",
			Help: "Peak level of the last processed block (0..1)",
		}),
		consumerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ondepi_capture_consumer_errors_total",
			Help: "Errors and panics raised by block consumers",
		}, []string{"consumer"}),
		deviceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ondepi_capture_device_errors_total",
			Help: "Capture device open failures and unexpected stops",
		}),
		deviceState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ondepi_capture_device_state",
			Help: "Current capture device state (1 for the active state)",
		}, []string{"state"}),
	}
	m.collectorSet = collectorSet{m.blocks, m.frames, m.rms, m.peak, m.consumerErrors, m.deviceErrors, m.deviceState}

	for _, s := range captureStates {
		m.deviceState.WithLabelValues(s).Set(0)
	}
	m.deviceState.WithLabelValues("idle").Set(1)

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register capture metrics: %w", err)
	}
	return m, nil
}

// RecordBlock counts a processed block of frames.
func (m *CaptureMetrics) RecordBlock(frames int) {
	m.blocks.Inc()
	m.frames.Add(float64(frames))
}

// RecordLevels stores the last meter reading.
func (m *CaptureMetrics) RecordLevels(rms, peak float64) {
	m.rms.Set(rms)
	m.peak.Set(peak)
}

// RecordConsumerError counts a failed delivery to consumer.
func (m *CaptureMetrics) RecordConsumerError(consumer string) {
	m.consumerErrors.WithLabelValues(consumer).Inc()
}

// RecordDeviceError counts a device failure.
func (m *CaptureMetrics) RecordDeviceError() {
	m.deviceErrors.Inc()
}

// RecordDeviceState marks state as the active device state.
func (m *CaptureMetrics) RecordDeviceState(state string) {
	for _, s := range captureStates {
		m.deviceState.WithLabelValues(s).Set(boolGauge(s == state))
	}
}
