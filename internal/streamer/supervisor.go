// Package streamer supervises the ffmpeg encoder that pushes the live stream
// to the ingest server, feeding it from the capture engine and relaunching
// it with exponential backoff when it exits unexpectedly.
package streamer

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/tphakala/ondepi-go/internal/audiocore"
	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/logger"
	"github.com/tphakala/ondepi-go/internal/status"
)

const (
	defaultStopTimeout = 5 * time.Second
	finalPushTimeout   = 5 * time.Second
)

// ConsumerSet is the part of the consumer registry the supervisor needs.
type ConsumerSet interface {
	Add(c audiocore.Consumer)
	Remove(c audiocore.Consumer) bool
}

// SessionInfo describes one encoder launch.
type SessionInfo struct {
	ID        string
	StartedAt time.Time
	Retry     bool
	Command   []string // redacted
}

// SessionRecorder keeps a log of encoder sessions.
type SessionRecorder interface {
	SessionStarted(info SessionInfo)
	SessionEnded(id string, endedAt time.Time, exitCode int, errMsg string)
}

// Notifier is told when the supervisor stops retrying.
type Notifier interface {
	NotifyStreamFailed(reason string)
}

// Options wires the supervisor's collaborators. Every field is optional.
type Options struct {
	// FFmpegPath is used when settings leave ffmpeg.path empty.
	FFmpegPath string
	// Consumers receives the audio bridge. Nil makes ffmpeg read ALSA itself.
	Consumers  ConsumerSet
	Publishers []Publisher
	Metrics    MetricsRecorder
	Notifier   Notifier
	History    SessionRecorder
}

// ProcessStatus is the supervisor view returned by Status.
type ProcessStatus struct {
	Running       bool       `json:"running"`
	Command       []string   `json:"command"`
	Input         string     `json:"input"`
	RetryCount    int        `json:"retry_count"`
	PID           int        `json:"pid,omitempty"`
	SessionID     string     `json:"session_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	UptimeSeconds float64    `json:"uptime_seconds,omitempty"`
	CPUPercent    float64    `json:"cpu_percent,omitempty"`
	RSSBytes      uint64     `json:"rss_bytes,omitempty"`
	DroppedBlocks uint64     `json:"dropped_blocks,omitempty"`
}

type encoderProcess struct {
	cmd       *exec.Cmd
	argv      []string
	stdin     io.WriteCloser
	stderr    *outputTail
	bridge    *AudioBridge
	sessionID string
	startedAt time.Time

	cancelMetadata context.CancelFunc
	detachOnce     sync.Once
	// closed by the monitor once the exit has been observed
	done chan struct{}
}

// Supervisor owns the encoder process. At most one encoder is live; a new
// one is launched only after the monitor observed the previous exit.
type Supervisor struct {
	status   *status.Shared
	opts     Options
	metrics  MetricsRecorder
	metadata *MetadataPusher
	log      logger.Logger
	settings atomic.Pointer[conf.Settings]

	// ctl serializes Start and Stop
	ctl sync.Mutex

	mu            sync.Mutex
	proc          *encoderProcess
	stopRequested bool
	runCancel     context.CancelFunc
	wg            sync.WaitGroup

	stopTimeout time.Duration
	sleep       func(ctx context.Context, d time.Duration) bool
}

// NewSupervisor returns an idle supervisor for settings.
func NewSupervisor(settings *conf.Settings, st *status.Shared, opts Options) *Supervisor {
	s := &Supervisor{
		status:      st,
		opts:        opts,
		metrics:     metricsOrNoop(opts.Metrics),
		log:         GetLogger(),
		stopTimeout: defaultStopTimeout,
		sleep:       sleepCtx,
	}
	s.settings.Store(settings)
	s.metadata = NewMetadataPusher(opts.Publishers, func() conf.MetadataSettings {
		return s.settings.Load().Metadata
	}, st, s.metrics)
	return s
}

// UpdateConfig swaps the settings snapshot. The next launch uses it.
func (s *Supervisor) UpdateConfig(settings *conf.Settings) {
	s.settings.Store(settings)
}

// Settings returns the current settings snapshot.
func (s *Supervisor) Settings() *conf.Settings {
	return s.settings.Load()
}

// Start launches the encoder. It is a no-op while one is live. An explicit
// start resets retry bookkeeping and abandons any pending backoff wait.
func (s *Supervisor) Start() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		return nil
	}
	if s.runCancel != nil {
		s.runCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.runCancel = cancel
	s.stopRequested = false
	s.status.ResetRetries()

	return s.launchLocked(ctx, false)
}

// Stop terminates the encoder and cancels pending retries and metadata
// pushes. It returns once every supervisor goroutine has exited.
func (s *Supervisor) Stop() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.mu.Lock()
	s.stopRequested = true
	if s.runCancel != nil {
		s.runCancel()
	}
	p := s.proc
	s.proc = nil
	s.mu.Unlock()

	if p != nil {
		s.terminate(p)
		s.status.SetStreaming(false, "")
		s.metrics.RecordStreaming(false)
		s.log.Info("stream stopped", logger.String("session_id", p.sessionID))
	}
	s.wg.Wait()

	if p != nil && s.metadata.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), finalPushTimeout)
		defer cancel()
		if err := s.metadata.PushOnce(ctx); err != nil {
			s.log.Debug("final metadata update failed", logger.Error(err))
		}
	}
	return nil
}

// Running reports whether an encoder is live.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// Bridged reports whether the encoder is fed by the capture engine.
func (s *Supervisor) Bridged() bool {
	return s.opts.Consumers != nil
}

// Status reports the encoder state. Resource figures are best effort.
func (s *Supervisor) Status() ProcessStatus {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()

	ps := ProcessStatus{
		Running:    p != nil,
		Input:      InputALSA,
		RetryCount: s.status.RetryCount(),
	}
	if s.Bridged() {
		ps.Input = InputAudioEngine
	}
	if p == nil {
		return ps
	}

	started := p.startedAt
	ps.Command = RedactCommand(p.argv)
	ps.SessionID = p.sessionID
	ps.StartedAt = &started
	ps.UptimeSeconds = time.Since(started).Seconds()
	if p.bridge != nil {
		ps.DroppedBlocks = p.bridge.Dropped()
	}
	if p.cmd.Process != nil {
		ps.PID = p.cmd.Process.Pid
		ps.CPUPercent, ps.RSSBytes = processResources(ps.PID)
	}
	return ps
}

func processResources(pid int) (cpu float64, rss uint64) {
	proc, err := process.NewProcess(int32(pid)) //nolint:gosec // pid from os.Process
	if err != nil {
		return 0, 0
	}
	if pct, err := proc.CPUPercent(); err == nil {
		cpu = pct
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		rss = mem.RSS
	}
	return cpu, rss
}

// launchLocked spawns the encoder. s.mu must be held.
func (s *Supervisor) launchLocked(ctx context.Context, retry bool) error {
	settings := s.settings.Load()
	ffmpeg := settings.FFmpeg.Path
	if ffmpeg == "" {
		ffmpeg = s.opts.FFmpegPath
	}
	bridged := s.Bridged()

	argv, err := BuildCommand(settings, ffmpeg, bridged)
	if err != nil {
		s.status.SetError(status.SourceEncoder, err.Error())
		return err
	}

	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // argv built from validated settings
	setupProcessGroup(cmd)
	tail := newStderrTail(s.log)
	cmd.Stderr = tail
	cmd.Stdout = newStdoutTail(s.log)

	var stdin io.WriteCloser
	if bridged {
		if stdin, err = cmd.StdinPipe(); err != nil {
			s.status.SetError(status.SourceEncoder, err.Error())
			return launchError(err, argv[0])
		}
	}
	if err := cmd.Start(); err != nil {
		if stdin != nil {
			_ = stdin.Close()
		}
		s.status.SetError(status.SourceEncoder, err.Error())
		return launchError(err, argv[0])
	}

	p := &encoderProcess{
		cmd:            cmd,
		argv:           argv,
		stdin:          stdin,
		stderr:         tail,
		sessionID:      uuid.NewString(),
		startedAt:      time.Now(),
		cancelMetadata: func() {},
		done:           make(chan struct{}),
	}
	s.proc = p
	s.status.SetStreaming(true, p.sessionID)
	if !retry {
		s.status.ClearError()
	}
	s.metrics.RecordLaunch(retry)
	s.metrics.RecordStreaming(true)

	if bridged {
		in := &settings.Input
		p.bridge = NewAudioBridge(stdin,
			BridgeBufferSize(settings.General.BufferSeconds, in.SampleRate, in.Channels),
			s.status, s.metrics)
		p.bridge.Start()
		s.opts.Consumers.Add(p.bridge)
	}

	if s.metadata.Enabled() {
		mctx, cancel := context.WithCancel(ctx)
		p.cancelMetadata = cancel
		s.wg.Go(func() { s.metadata.Run(mctx) })
	}

	if s.opts.History != nil {
		s.opts.History.SessionStarted(SessionInfo{
			ID:        p.sessionID,
			StartedAt: p.startedAt,
			Retry:     retry,
			Command:   RedactCommand(argv),
		})
	}

	s.log.Info("encoder started",
		logger.Int("pid", cmd.Process.Pid),
		logger.String("session_id", p.sessionID),
		logger.Bool("retry", retry),
		logger.Bool("bridged", bridged),
		logger.Any("command", RedactCommand(argv)))

	s.wg.Go(func() { s.monitor(ctx, p) })
	return nil
}

// detach disconnects the bridge and closes encoder stdin.
func (s *Supervisor) detach(p *encoderProcess) {
	p.detachOnce.Do(func() {
		if p.bridge != nil {
			s.opts.Consumers.Remove(p.bridge)
			_ = p.bridge.Close()
			return
		}
		if p.stdin != nil {
			_ = p.stdin.Close()
		}
	})
}

// terminate stops p and waits for the monitor to observe the exit.
func (s *Supervisor) terminate(p *encoderProcess) {
	p.cancelMetadata()
	s.detach(p)

	if err := terminateProcessGroup(p.cmd); err != nil {
		s.log.Debug("failed to signal encoder", logger.Error(err))
	}
	select {
	case <-p.done:
		return
	case <-time.After(s.stopTimeout):
	}

	s.log.Warn("encoder did not exit after SIGTERM, killing",
		logger.Duration("timeout", s.stopTimeout),
		logger.String("session_id", p.sessionID))
	if err := killProcessGroup(p.cmd); err != nil {
		s.log.Warn("failed to kill encoder", logger.Error(err))
	}
	<-p.done
}

func (s *Supervisor) monitor(ctx context.Context, p *encoderProcess) {
	waitErr := p.cmd.Wait()
	code := exitCode(p.cmd, waitErr)

	p.cancelMetadata()
	s.detach(p)

	s.mu.Lock()
	if s.proc == p {
		s.proc = nil
		s.status.SetStreaming(false, "")
		s.metrics.RecordStreaming(false)
	}
	stopped := s.stopRequested || ctx.Err() != nil
	s.mu.Unlock()

	s.status.SetExitCode(code)
	s.metrics.RecordExit(code)
	close(p.done)

	if stopped {
		s.sessionEnded(p, code, "")
		return
	}

	msg := fmt.Sprintf("ffmpeg exited with code %d", code)
	if line := p.stderr.LastLine(); line != "" {
		msg += ": " + logger.RedactSensitiveData(line)
	}
	s.status.SetError(status.SourceEncoder, msg)
	s.sessionEnded(p, code, msg)
	s.log.Warn("encoder exited unexpectedly",
		logger.Int("exit_code", code),
		logger.String("error", msg),
		logger.String("session_id", p.sessionID))

	s.reconnect(ctx)
}

// reconnect applies the retry policy until a relaunch succeeds, the policy
// gives up, or the run is cancelled.
func (s *Supervisor) reconnect(ctx context.Context) {
	for {
		policy := PolicyFromSettings(&s.settings.Load().General)
		attempt, reason := s.claimRetry(ctx, policy)
		if reason != "" {
			s.giveUp(reason)
			return
		}
		if attempt == 0 {
			return
		}

		delay := policy.Delay(attempt)
		s.log.Info("reconnecting encoder",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay))
		if !s.sleep(ctx, delay) {
			return
		}

		if !s.relaunch(ctx) {
			return
		}
	}
}

// claimRetry counts the next retry attempt under s.mu, so an explicit Start
// that reset the bookkeeping cannot be followed by a stale increment. It
// returns attempt 0 once the run is cancelled, and a reason when the policy
// gives up.
func (s *Supervisor) claimRetry(ctx context.Context, policy RetryPolicy) (attempt int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || s.stopRequested {
		return 0, ""
	}
	if !policy.Reconnect {
		return 0, "encoder exited and reconnect is disabled"
	}
	if retries := s.status.RetryCount(); policy.Exhausted(retries) {
		return 0, fmt.Sprintf("encoder failed after %d retries", retries)
	}
	return s.status.IncRetry(), ""
}

// relaunch starts a retry launch unless the run was stopped or restarted
// meanwhile. It reports whether the launch failed and the policy should be
// applied again.
func (s *Supervisor) relaunch(ctx context.Context) (failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || s.stopRequested || s.proc != nil {
		return false
	}
	if err := s.launchLocked(ctx, true); err != nil {
		s.log.Warn("encoder relaunch failed", logger.Error(err))
		return true
	}
	return false
}

func (s *Supervisor) giveUp(reason string) {
	s.log.Error("stream failed", logger.String("reason", reason))
	if s.opts.Notifier != nil {
		s.opts.Notifier.NotifyStreamFailed(reason)
	}
}

func (s *Supervisor) sessionEnded(p *encoderProcess, code int, msg string) {
	if s.opts.History != nil {
		s.opts.History.SessionEnded(p.sessionID, time.Now(), code, msg)
	}
}

// exitCode returns the process exit code, -1 when it was killed by a signal
// or never reported one.
func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}
