package audiocore

import (
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/logger"
	"github.com/tphakala/ondepi-go/internal/status"
)

// DeviceState is the state of the capture device session.
type DeviceState string

const (
	StateIdle         DeviceState = "idle"
	StateConnecting   DeviceState = "connecting"
	StateConnected    DeviceState = "connected"
	StateError        DeviceState = "error"
	StateDisconnected DeviceState = "disconnected"
	StateReconnecting DeviceState = "reconnecting"
	StateStopped      DeviceState = "stopped"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultCooldown     = 2 * time.Second
)

// DeviceStatus reports the capture state and its parameters.
type DeviceStatus struct {
	Status         DeviceState `json:"status"`
	LastError      *string     `json:"last_error"`
	Device         string      `json:"device"`
	SampleRate     int         `json:"sample_rate"`
	Channels       int         `json:"channels"`
	LimiterEnabled bool        `json:"limiter_enabled"`
	LimiterDrive   float64     `json:"limiter_drive"`
}

// StateListener is called after every state change with the last device
// error, empty when there is none. It runs with the loop's lock held and must
// not call back into the CaptureLoop.
type StateListener func(state DeviceState, lastError string)

// CaptureLoop owns the capture device. While running it keeps a session open,
// reopening the device after a cool-down whenever it fails or stops.
// Retries are unbounded; only Stop ends the loop.
type CaptureLoop struct {
	opener   Opener
	pipeline *Pipeline
	status   *status.Shared
	metrics  MetricsRecorder
	log      logger.Logger

	mu       sync.Mutex
	input    conf.InputSettings
	state    DeviceState
	lastErr  string
	running  bool
	session  Session
	stopCh   chan struct{}
	wg       sync.WaitGroup
	listener StateListener

	pollInterval time.Duration
	cooldown     time.Duration
}

// NewCaptureLoop creates an idle capture loop for the given input settings.
func NewCaptureLoop(opener Opener, pipeline *Pipeline, st *status.Shared, input conf.InputSettings, metrics MetricsRecorder) *CaptureLoop {
	c := &CaptureLoop{
		opener:       opener,
		pipeline:     pipeline,
		status:       st,
		metrics:      metricsOrNoop(metrics),
		log:          GetLogger(),
		input:        input,
		state:        StateIdle,
		pollInterval: defaultPollInterval,
		cooldown:     defaultCooldown,
	}
	pipeline.SetLimiter(NewSoftLimiter(input.LimiterEnabled, input.LimiterDrive))
	return c
}

// SetStateListener installs fn as the state change listener.
func (c *CaptureLoop) SetStateListener(fn StateListener) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

// Start spawns the capture goroutine. It is a no-op while running.
func (c *CaptureLoop) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.setStateLocked(StateConnecting)

	stopCh := c.stopCh
	c.wg.Go(func() { c.run(stopCh) })
}

// Stop closes the session and joins the capture goroutine.
func (c *CaptureLoop) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			c.log.Warn("error closing capture session", logger.Error(err))
		}
	}
	c.wg.Wait()

	c.mu.Lock()
	c.setStateLocked(StateStopped)
	c.mu.Unlock()
	c.log.Info("audio capture stopped")
}

// Running reports whether the capture loop is active.
func (c *CaptureLoop) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// UpdateInput stores new input settings and applies the limiter immediately.
// An open session is restarted so the device picks up the new parameters.
func (c *CaptureLoop) UpdateInput(input conf.InputSettings) {
	c.mu.Lock()
	c.input = input
	active := c.session != nil
	c.mu.Unlock()

	c.pipeline.SetLimiter(NewSoftLimiter(input.LimiterEnabled, input.LimiterDrive))

	if active {
		c.log.Info("restarting audio capture with new input settings",
			logger.String("device", input.ALSADevice),
			logger.Int("sample_rate", input.SampleRate),
			logger.Int("channels", input.Channels))
		c.Stop()
		c.Start()
	}
}

// DeviceStatus returns the current capture state and parameters.
func (c *CaptureLoop) DeviceStatus() DeviceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	ds := DeviceStatus{
		Status:         c.state,
		Device:         c.input.ALSADevice,
		SampleRate:     c.input.SampleRate,
		Channels:       c.input.Channels,
		LimiterEnabled: c.input.LimiterEnabled,
		LimiterDrive:   c.input.LimiterDrive,
	}
	if c.lastErr != "" {
		msg := c.lastErr
		ds.LastError = &msg
	}
	return ds
}

func (c *CaptureLoop) run(stopCh <-chan struct{}) {
	for c.cycle(stopCh) {
		c.mu.Lock()
		c.setStateLocked(StateReconnecting)
		c.mu.Unlock()

		select {
		case <-stopCh:
			return
		case <-time.After(c.cooldown):
		}
	}
}

// cycle runs one open, wait and close round. It reports whether the loop
// should retry after the cool-down.
func (c *CaptureLoop) cycle(stopCh <-chan struct{}) (retry bool) {
	defer func() {
		if r := recover(); r != nil {
			c.closeSession()
			c.fail(fmt.Sprintf("audio device error: %v", r), StateError)
			retry = c.Running()
		}
	}()

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return false
	}
	cfg := DeviceConfigFromSettings(&c.input)
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	sess, err := c.opener.Open(cfg, c.pipeline.Process)
	if err != nil {
		c.fail(fmt.Sprintf("audio device error: %v", err), StateError)
		return c.Running()
	}
	if !c.attach(sess) {
		// stopped while opening
		_ = sess.Close()
		return false
	}

	c.log.Info("audio capture connected",
		logger.String("device", cfg.DeviceID),
		logger.Int("sample_rate", cfg.SampleRate),
		logger.Int("channels", cfg.Channels))
	c.wait(sess, stopCh)
	c.detach(sess)

	return c.Running()
}

// attach records sess as the live session. It returns false when Stop won
// the race and the session must be discarded.
func (c *CaptureLoop) attach(sess Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return false
	}
	c.session = sess
	c.lastErr = ""
	c.setStateLocked(StateConnected)
	c.status.ClearErrorFrom(status.SourceCapture)
	return true
}

// wait blocks while sess is active and the loop is running.
func (c *CaptureLoop) wait(sess Session, stopCh <-chan struct{}) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for sess.Active() {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}
	}

	if !c.Running() {
		return
	}
	if err := sess.Err(); err != nil {
		c.fail(fmt.Sprintf("audio device error: %v", err), StateError)
		return
	}
	c.fail(ErrStreamStopped.Error(), StateDisconnected)
}

// closeSession closes whatever session is recorded.
func (c *CaptureLoop) closeSession() {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
}

// detach closes sess unless Stop already took it.
func (c *CaptureLoop) detach(sess Session) {
	c.mu.Lock()
	owned := c.session == sess
	if owned {
		c.session = nil
	}
	c.mu.Unlock()

	if owned {
		if err := sess.Close(); err != nil {
			c.log.Debug("error closing capture session", logger.Error(err))
		}
	}
}

func (c *CaptureLoop) fail(msg string, state DeviceState) {
	c.mu.Lock()
	c.lastErr = msg
	c.setStateLocked(state)
	c.mu.Unlock()

	c.status.SetError(status.SourceCapture, msg)
	c.metrics.RecordDeviceError()
	c.log.Warn("audio capture failed", logger.String("error", msg), logger.String("state", string(state)))
}

// setStateLocked must be called with c.mu held.
func (c *CaptureLoop) setStateLocked(state DeviceState) {
	if c.state == state {
		return
	}
	c.state = state
	c.metrics.RecordDeviceState(string(state))
	if c.listener != nil {
		c.listener(state, c.lastErr)
	}
}
