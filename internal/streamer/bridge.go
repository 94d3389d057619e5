package streamer

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"
	"golang.org/x/time/rate"

	"github.com/tphakala/ondepi-go/internal/audiocore"
	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/logger"
	"github.com/tphakala/ondepi-go/internal/status"
)

const (
	bytesPerSample = 4
	pumpChunk      = 16 * 1024
	// floor for very small buffer_seconds values
	minBridgeBuffer = 64 * 1024
)

// BridgeBufferSize returns the ring capacity in bytes for seconds of audio.
func BridgeBufferSize(seconds float64, sampleRate, channels int) int {
	n := int(seconds * float64(sampleRate*channels*bytesPerSample))
	return max(n, minBridgeBuffer)
}

// AudioBridge forwards processed blocks to encoder stdin as interleaved
// little-endian float32. Accept never blocks: blocks go into a ring buffer
// drained by a pump goroutine, and blocks that do not fit are dropped.
type AudioBridge struct {
	w       io.WriteCloser
	status  *status.Shared
	metrics MetricsRecorder
	log     logger.Logger

	// ringbuffer is used in non-blocking mode; mu keeps block writes whole
	mu      sync.Mutex
	rb      *ringbuffer.RingBuffer
	scratch []byte

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
	broken    atomic.Bool
	dropped   atomic.Uint64
	written   atomic.Uint64
	dropLog   *rate.Limiter
}

// NewAudioBridge returns a bridge writing to w with a ring of capacity bytes.
// Call Start to begin pumping. The bridge closes w on Close.
func NewAudioBridge(w io.WriteCloser, capacity int, st *status.Shared, metrics MetricsRecorder) *AudioBridge {
	return &AudioBridge{
		w:       w,
		status:  st,
		metrics: metricsOrNoop(metrics),
		log:     GetLogger(),
		rb:      ringbuffer.New(capacity),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		dropLog: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// Name identifies the bridge in consumer logs.
func (b *AudioBridge) Name() string { return "bridge" }

// Start launches the pump goroutine.
func (b *AudioBridge) Start() {
	b.wg.Go(b.pump)
}

// Close stops the pump, closes the writer and discards buffered audio.
// Write errors caused by the close are not reported.
func (b *AudioBridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		// unblocks a pending write
		err = b.w.Close()
		b.wg.Wait()
		b.mu.Lock()
		b.rb.Reset()
		b.mu.Unlock()
	})
	return err
}

// Broken reports whether a write to the encoder failed.
func (b *AudioBridge) Broken() bool { return b.broken.Load() }

// Dropped returns the number of blocks dropped on overflow.
func (b *AudioBridge) Dropped() uint64 { return b.dropped.Load() }

// Written returns the number of bytes delivered to the encoder.
func (b *AudioBridge) Written() uint64 { return b.written.Load() }

// Accept implements audiocore.Consumer.
func (b *AudioBridge) Accept(block *audiocore.Block) error {
	if block == nil || b.broken.Load() {
		return nil
	}
	samples := block.Samples()
	if len(samples) == 0 {
		return nil
	}

	b.mu.Lock()
	payload := encodeFloat32LE(b.scratch[:0], samples)
	b.scratch = payload
	if b.rb.Free() < len(payload) {
		b.mu.Unlock()
		b.drop(len(payload))
		return nil
	}
	_, err := b.rb.Write(payload)
	b.mu.Unlock()

	if err != nil {
		if errors.Is(err, ringbuffer.ErrIsFull) {
			b.drop(len(payload))
			return nil
		}
		return err
	}

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

func (b *AudioBridge) drop(size int) {
	n := b.dropped.Add(1)
	b.metrics.RecordBridgeDrop()
	if b.dropLog.Allow() {
		b.log.Warn("encoder is not keeping up, dropping audio",
			logger.Uint64("dropped_blocks", n),
			logger.Int("block_bytes", size))
	}
}

func (b *AudioBridge) pump() {
	buf := make([]byte, pumpChunk)
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}

		for {
			b.mu.Lock()
			n, err := b.rb.Read(buf)
			b.mu.Unlock()
			if err != nil || n == 0 {
				break
			}
			if err := b.write(buf[:n]); err != nil {
				b.fail(err)
				return
			}
		}
	}
}

func (b *AudioBridge) write(p []byte) error {
	for len(p) > 0 {
		select {
		case <-b.done:
			return nil
		default:
		}
		n, err := b.w.Write(p)
		b.written.Add(uint64(n)) //nolint:gosec // n >= 0
		b.metrics.RecordBridgeBytes(n)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// fail marks the bridge broken. Capture keeps running and the supervisor
// handles the encoder exit that usually follows.
func (b *AudioBridge) fail(err error) {
	select {
	case <-b.done:
		// closed under us during stop
		return
	default:
	}
	b.broken.Store(true)
	b.status.SetError(status.SourceBridge, ErrPipeBroken.Error())
	b.log.Warn("audio pipe to encoder broken",
		logger.Error(errors.New(err).
			Component(componentStreamer).
			Category(errors.CategoryAudio).
			Context("operation", "bridge_write").
			Build()))
}

func encodeFloat32LE(dst []byte, samples []float32) []byte {
	need := len(samples) * bytesPerSample
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*bytesPerSample:], math.Float32bits(s))
	}
	return dst
}
