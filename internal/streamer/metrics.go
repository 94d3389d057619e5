package streamer

// MetricsRecorder receives encoder and bridge measurements.
type MetricsRecorder interface {
	RecordLaunch(retry bool)
	RecordExit(code int)
	RecordStreaming(live bool)
	RecordBridgeBytes(n int)
	RecordBridgeDrop()
	RecordMetadataPush(publisher string, err error)
}

type noopMetrics struct{}

func (noopMetrics) RecordLaunch(bool)                {}
func (noopMetrics) RecordExit(int)                   {}
func (noopMetrics) RecordStreaming(bool)             {}
func (noopMetrics) RecordBridgeBytes(int)            {}
func (noopMetrics) RecordBridgeDrop()                {}
func (noopMetrics) RecordMetadataPush(string, error) {}

func metricsOrNoop(m MetricsRecorder) MetricsRecorder {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
