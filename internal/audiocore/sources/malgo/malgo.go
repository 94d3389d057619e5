// Package malgo opens capture devices through miniaudio (gen2brain/malgo)
// and delivers float32 blocks to the capture engine.
package malgo

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/ondepi-go/internal/audiocore"
	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/logger"
)

// Opener implements audiocore.Opener for soundcard capture.
type Opener struct{}

// NewOpener returns a malgo device opener.
func NewOpener() *Opener {
	return &Opener{}
}

// Open initializes a context and a capture device matching cfg and starts
// it. onData receives one block per backend callback.
func (o *Opener) Open(cfg audiocore.DeviceConfig, onData func(*audiocore.Block)) (audiocore.Session, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		releaseContext(ctx)
		return nil, deviceErr(err, cfg, "enumerate_devices")
	}
	devices := describe(infos)
	idx, err := SelectDevice(devices, cfg.DeviceID)
	if err != nil {
		releaseContext(ctx)
		return nil, err
	}
	info := infos[devices[idx].Index]

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(cfg.Channels) //nolint:gosec // validated 1..2
	deviceConfig.Capture.DeviceID = info.ID.Pointer()
	deviceConfig.SampleRate = uint32(cfg.SampleRate) //nolint:gosec // validated > 0
	deviceConfig.Alsa.NoMMap = 1

	s := &session{ctx: ctx, cfg: cfg, onData: onData}
	s.active.Store(true)

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onAudioData,
		Stop: s.onDeviceStop,
	})
	if err != nil {
		releaseContext(ctx)
		return nil, deviceErr(err, cfg, "init_device")
	}
	s.device = device
	s.format = device.CaptureFormat()
	s.rate = int(device.SampleRate())
	s.channels = int(device.CaptureChannels())

	if err := device.Start(); err != nil {
		device.Uninit()
		releaseContext(ctx)
		return nil, deviceErr(err, cfg, "start_device")
	}

	GetLogger().Info("capture device started",
		logger.String("device", info.Name()),
		logger.String("id", decodeID(info.ID.String())),
		logger.Int("sample_rate", s.rate),
		logger.Int("channels", s.channels))
	return s, nil
}

type session struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	cfg    audiocore.DeviceConfig
	onData func(*audiocore.Block)

	format   malgo.FormatType
	rate     int
	channels int

	active    atomic.Bool
	closing   atomic.Bool
	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func (s *session) Active() bool { return s.active.Load() }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Close stops the device and releases the backend context.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.active.Store(false)
		if s.device != nil {
			s.device.Uninit()
		}
		releaseContext(s.ctx)
	})
	return nil
}

// onAudioData runs on the backend audio thread.
func (s *session) onAudioData(_, input []byte, _ uint32) {
	if s.closing.Load() || len(input) == 0 {
		return
	}
	samples, err := DecodeSamples(input, s.format, nil)
	if err != nil {
		s.setErr(deviceErr(err, s.cfg, "decode_samples"))
		s.active.Store(false)
		return
	}
	block := audiocore.NewFloatBlock(samples, s.channels, s.rate)
	block.Timestamp = time.Now()
	s.onData(block)
}

// onDeviceStop is called by the backend both on Close and when the device
// goes away. Only the latter ends the session.
func (s *session) onDeviceStop() {
	if s.closing.Load() {
		return
	}
	s.active.Store(false)
}

func deviceErr(err error, cfg audiocore.DeviceConfig, operation string) error {
	return errors.New(err).
		Component(componentMalgo).
		Category(errors.CategoryAudioSource).
		DeviceContext(cfg.DeviceID, cfg.SampleRate, cfg.Channels).
		Context("operation", operation).
		Build()
}
