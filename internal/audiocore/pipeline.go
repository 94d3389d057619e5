package audiocore

import (
	"sync/atomic"

	"github.com/tphakala/ondepi-go/internal/status"
)

// Pipeline applies gain, limiting and metering to each block and dispatches
// the result to the consumer registry. Process is the device data callback.
type Pipeline struct {
	status   *status.Shared
	registry *Registry
	metrics  MetricsRecorder
	limiter  atomic.Pointer[SoftLimiter]
}

// NewPipeline creates a pipeline that reads gain from and writes levels to st.
func NewPipeline(st *status.Shared, registry *Registry, limiter SoftLimiter, metrics MetricsRecorder) *Pipeline {
	p := &Pipeline{
		status:   st,
		registry: registry,
		metrics:  metricsOrNoop(metrics),
	}
	p.SetLimiter(limiter)
	return p
}

// SetLimiter replaces the limiter settings. The next block uses them.
func (p *Pipeline) SetLimiter(l SoftLimiter) {
	p.limiter.Store(&l)
}

// Limiter returns the current limiter settings.
func (p *Pipeline) Limiter() SoftLimiter {
	return *p.limiter.Load()
}

// Registry returns the consumer registry fed by this pipeline.
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Process runs one block through the chain. Levels describe the processed
// signal, i.e. what consumers receive.
func (p *Pipeline) Process(block *Block) {
	if block == nil || block.Buffer == nil {
		return
	}
	buf := block.Float32()

	ApplyGain(buf, p.status.Gain())
	p.limiter.Load().Apply(buf)

	lv := Measure(buf)
	p.status.SetLevels(lv.RMS, lv.Peak)
	p.metrics.RecordBlock(block.Frames())
	p.metrics.RecordLevels(lv.RMS, lv.Peak)

	p.registry.Dispatch(block)
}
