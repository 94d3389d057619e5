// Package export records processed capture audio into memory and writes it
// out as WAV. It backs the input test and the probe command.
package export

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/ondepi-go/internal/audiocore"
	"github.com/tphakala/ondepi-go/internal/errors"
)

const componentExport = "audiocore.export"

// Recorder is a consumer that keeps a copy of the blocks it receives until
// a duration worth of frames has been collected.
type Recorder struct {
	maxDuration time.Duration

	mu         sync.Mutex
	samples    []float32
	channels   int
	sampleRate int
	maxFrames  int
	full       chan struct{}
	fullOnce   sync.Once
}

// NewRecorder returns a recorder that fills after d of audio.
func NewRecorder(d time.Duration) *Recorder {
	return &Recorder{maxDuration: d, full: make(chan struct{})}
}

// Name implements audiocore.Named.
func (r *Recorder) Name() string { return "recorder" }

// Accept copies the block samples. Blocks arriving after the recorder is
// full are ignored.
func (r *Recorder) Accept(block *audiocore.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxFrames == 0 {
		r.channels = block.Channels()
		r.sampleRate = block.SampleRate()
		r.maxFrames = max(1, int(r.maxDuration.Seconds()*float64(r.sampleRate)))
		r.samples = make([]float32, 0, r.maxFrames*r.channels)
	}

	frames := len(r.samples) / r.channels
	if frames >= r.maxFrames {
		return nil
	}
	src := block.Samples()
	room := (r.maxFrames - frames) * r.channels
	if len(src) > room {
		src = src[:room]
	}
	r.samples = append(r.samples, src...)

	if len(r.samples)/r.channels >= r.maxFrames {
		r.fullOnce.Do(func() { close(r.full) })
	}
	return nil
}

// Full is closed once the recorder holds its whole duration.
func (r *Recorder) Full() <-chan struct{} {
	return r.full
}

// Frames returns the number of recorded frames.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channels == 0 {
		return 0
	}
	return len(r.samples) / r.channels
}

// Buffer returns a copy of the recording.
func (r *Recorder) Buffer() *audio.Float32Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &audio.Float32Buffer{
		Data:           append([]float32(nil), r.samples...),
		Format:         &audio.Format{NumChannels: max(r.channels, 1), SampleRate: r.sampleRate},
		SourceBitDepth: 32,
	}
}

// Levels returns RMS and peak over the whole recording.
func (r *Recorder) Levels() audiocore.Levels {
	return audiocore.Measure(r.Buffer())
}

// WriteWAV encodes the recording as 16-bit PCM WAV.
func (r *Recorder) WriteWAV(w io.WriteSeeker) error {
	buf := r.Buffer()
	if buf.Format.SampleRate == 0 {
		return errors.Newf("nothing recorded").
			Component(componentExport).
			Category(errors.CategoryValidation).
			Build()
	}

	ints := make([]int, len(buf.Data))
	for i, s := range buf.Data {
		v := math.Round(float64(s) * math.MaxInt16)
		ints[i] = int(max(math.MinInt16, min(math.MaxInt16, v)))
	}

	enc := wav.NewEncoder(w, buf.Format.SampleRate, 16, buf.Format.NumChannels, 1)
	if err := enc.Write(&audio.IntBuffer{Data: ints, Format: buf.Format, SourceBitDepth: 16}); err != nil {
		return errors.New(err).
			Component(componentExport).
			Category(errors.CategoryFileIO).
			Context("operation", "wav_write").
			Build()
	}
	if err := enc.Close(); err != nil {
		return errors.New(err).
			Component(componentExport).
			Category(errors.CategoryFileIO).
			Context("operation", "wav_close").
			Build()
	}
	return nil
}

// Save writes the recording to path, creating parent directories.
func (r *Recorder) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Component(componentExport).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	f, err := os.Create(path) //nolint:gosec // operator supplied path
	if err != nil {
		return errors.New(err).
			Component(componentExport).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if err := r.WriteWAV(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
