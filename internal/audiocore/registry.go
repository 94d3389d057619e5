package audiocore

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/ondepi-go/internal/logger"
)

// Consumer receives processed blocks. Accept runs on the audio callback
// thread, so implementations must return quickly. The block must not be
// retained after Accept returns unless its samples are copied.
//
// Consumers are compared by identity when removed, so implementations should
// be pointer types.
type Consumer interface {
	Accept(block *Block) error
}

// Named is implemented by consumers that want a stable name in logs and metrics.
type Named interface {
	Name() string
}

// Registry is the set of consumers that receive every processed block.
// Mutation is safe from any goroutine while a dispatch is running; a dispatch
// always iterates the membership as it was when the dispatch began.
type Registry struct {
	mu        sync.Mutex
	consumers atomic.Pointer[[]Consumer]

	metrics    MetricsRecorder
	logLimiter *rate.Limiter
	failures   atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry(metrics MetricsRecorder) *Registry {
	r := &Registry{
		metrics: metricsOrNoop(metrics),
		// consumer failures repeat at block rate; keep the log readable
		logLimiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
	empty := []Consumer{}
	r.consumers.Store(&empty)
	return r
}

// Add registers c. Adding a consumer that is already registered is a no-op.
func (r *Registry) Add(c Consumer) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.consumers.Load()
	if slices.Contains(current, c) {
		return
	}
	next := make([]Consumer, len(current), len(current)+1)
	copy(next, current)
	next = append(next, c)
	r.consumers.Store(&next)
}

// Remove unregisters c and reports whether it was registered.
func (r *Registry) Remove(c Consumer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.consumers.Load()
	idx := slices.Index(current, c)
	if idx < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(current), idx, idx+1)
	r.consumers.Store(&next)
	return true
}

// Len returns the number of registered consumers.
func (r *Registry) Len() int {
	return len(*r.consumers.Load())
}

// Failures returns the number of consumer errors and panics since creation.
func (r *Registry) Failures() uint64 {
	return r.failures.Load()
}

// Dispatch delivers block to every consumer registered when the call began.
// A failing consumer does not prevent delivery to the others.
func (r *Registry) Dispatch(block *Block) {
	for _, c := range *r.consumers.Load() {
		if err := r.deliver(c, block); err != nil {
			r.failures.Add(1)
			name := consumerName(c)
			r.metrics.RecordConsumerError(name)
			if r.logLimiter.Allow() {
				GetLogger().Warn("audio consumer failed",
					logger.String("consumer", name),
					logger.Error(err))
			}
		}
	}
}

func (r *Registry) deliver(c Consumer, block *Block) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("consumer panic: %v", rec)
		}
	}()
	return c.Accept(block)
}

func consumerName(c Consumer) string {
	if n, ok := c.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", c)
}
