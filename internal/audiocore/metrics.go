package audiocore

// MetricsRecorder receives capture engine measurements. The prometheus
// implementation lives in observability/metrics; a nil recorder disables
// recording.
type MetricsRecorder interface {
	RecordBlock(frames int)
	RecordLevels(rms, peak float64)
	RecordConsumerError(consumer string)
	RecordDeviceError()
	RecordDeviceState(state string)
}

type noopMetrics struct{}

func (noopMetrics) RecordBlock(int)               {}
func (noopMetrics) RecordLevels(float64, float64) {}
func (noopMetrics) RecordConsumerError(string)    {}
func (noopMetrics) RecordDeviceError()            {}
func (noopMetrics) RecordDeviceState(string)      {}

func metricsOrNoop(m MetricsRecorder) MetricsRecorder {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
