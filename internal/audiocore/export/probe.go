package export

import (
	"context"
	"time"

	"github.com/tphakala/ondepi-go/internal/audiocore"
	"github.com/tphakala/ondepi-go/internal/errors"
)

// DefaultProbeDuration is the length of an input test.
const DefaultProbeDuration = 2 * time.Second

// Result is the outcome of an input test.
type Result struct {
	RMS      float64       `json:"rms"`
	Peak     float64       `json:"peak"`
	Frames   int           `json:"frames"`
	Duration time.Duration `json:"duration_ns"`
	Path     string        `json:"path,omitempty"`
}

// Tap is a consumer set a recorder can be attached to, usually the live
// capture registry.
type Tap interface {
	Add(c audiocore.Consumer)
	Remove(c audiocore.Consumer) bool
}

// ProbeTap records d of processed audio from a running capture engine.
// The probe ends early with what was recorded when ctx is done.
func ProbeTap(ctx context.Context, tap Tap, d time.Duration) (*Recorder, Result, error) {
	rec := NewRecorder(d)
	tap.Add(rec)
	defer tap.Remove(rec)

	if err := waitFull(ctx, rec, d); err != nil {
		return rec, Result{}, err
	}
	return rec, resultOf(rec), nil
}

// ProbeDevice opens the capture device directly, records d of raw input and
// closes it again. Use it when the capture engine is not holding the device.
func ProbeDevice(ctx context.Context, opener audiocore.Opener, cfg audiocore.DeviceConfig, d time.Duration) (*Recorder, Result, error) {
	rec := NewRecorder(d)
	sess, err := opener.Open(cfg, func(b *audiocore.Block) { _ = rec.Accept(b) })
	if err != nil {
		return rec, Result{}, err
	}
	defer func() { _ = sess.Close() }()

	if err := waitFull(ctx, rec, d); err != nil {
		return rec, Result{}, err
	}
	return rec, resultOf(rec), nil
}

// waitFull blocks until rec is full, ctx is done or twice the expected
// duration passed without enough audio.
func waitFull(ctx context.Context, rec *Recorder, d time.Duration) error {
	timer := time.NewTimer(2*d + time.Second)
	defer timer.Stop()

	select {
	case <-rec.Full():
		return nil
	case <-ctx.Done():
		if rec.Frames() > 0 {
			return nil
		}
		return errors.New(ctx.Err()).
			Component(componentExport).
			Category(errors.CategoryCancellation).
			Build()
	case <-timer.C:
		if rec.Frames() > 0 {
			return nil
		}
		return errors.Newf("no audio received within %s", 2*d+time.Second).
			Component(componentExport).
			Category(errors.CategoryTimeout).
			Build()
	}
}

func resultOf(rec *Recorder) Result {
	buf := rec.Buffer()
	lv := audiocore.Measure(buf)
	frames := buf.NumFrames()
	var dur time.Duration
	if rate := buf.Format.SampleRate; rate > 0 {
		dur = time.Duration(float64(frames) / float64(rate) * float64(time.Second))
	}
	return Result{RMS: lv.RMS, Peak: lv.Peak, Frames: frames, Duration: dur}
}
