// Package appliance wires the capture engine, the stream supervisor and the
// optional integrations into one unit and is the only surface the HTTP API
// and the CLI talk to.
package appliance

import (
	"context"
	"reflect"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/ondepi-go/internal/audiocore"
	"github.com/tphakala/ondepi-go/internal/audiocore/export"
	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/history"
	"github.com/tphakala/ondepi-go/internal/httpclient"
	"github.com/tphakala/ondepi-go/internal/logger"
	"github.com/tphakala/ondepi-go/internal/metadata"
	"github.com/tphakala/ondepi-go/internal/mqtt"
	"github.com/tphakala/ondepi-go/internal/notification"
	"github.com/tphakala/ondepi-go/internal/observability"
	"github.com/tphakala/ondepi-go/internal/status"
	"github.com/tphakala/ondepi-go/internal/streamer"
)

const componentAppliance = "appliance"

var (
	// ErrConfigPathMissing is returned when settings were not loaded from a file.
	ErrConfigPathMissing = errors.NewStd("Config path not set")
	// ErrNoCapture is returned by device operations without a capture backend.
	ErrNoCapture = errors.NewStd("audio capture not available")
)

// Options selects the collaborators of the appliance. Opener and Enumerator
// are nil on builds without an audio backend; ffmpeg then reads ALSA itself.
type Options struct {
	Opener     audiocore.Opener
	Enumerator audiocore.Enumerator
	FFmpegPath string
	Version    string
	// Metrics is created when nil.
	Metrics *observability.Metrics
	// MQTTClient replaces the paho client, e.g. in tests.
	MQTTClient mqtt.Client
	// StartStream launches the encoder as soon as Run starts.
	StartStream bool
}

// ConfigReport tells whether the current settings are complete.
type ConfigReport struct {
	Valid  bool         `json:"valid"`
	Errors []string     `json:"errors"`
	Issues []conf.Issue `json:"issues"`
}

// StatusReport is the combined runtime view.
type StatusReport struct {
	State  status.Snapshot         `json:"state"`
	Stream streamer.ProcessStatus  `json:"stream"`
	Device *audiocore.DeviceStatus `json:"device"`
	Config ConfigReport            `json:"config"`
}

// Appliance owns every long-running component.
type Appliance struct {
	// cfgMu serializes config updates and guards settings
	cfgMu    sync.RWMutex
	settings *conf.Settings

	opts       Options
	status     *status.Shared
	metrics    *observability.Metrics
	registry   *audiocore.Registry
	pipeline   *audiocore.Pipeline
	capture    *audiocore.CaptureLoop
	supervisor *streamer.Supervisor
	http       *httpclient.Client
	azuracast  *metadata.AzuraCast
	notifier   *notification.Service
	history    *history.Store
	reporter   *mqtt.Reporter
	log        logger.Logger

	closeOnce sync.Once
}

// GetLogger returns the appliance module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("appliance")
}

// New builds the appliance from settings. Nothing runs until Run.
func New(settings *conf.Settings, opts Options) (*Appliance, error) {
	if settings == nil {
		return nil, errors.Newf("settings are required").
			Component(componentAppliance).
			Category(errors.CategoryConfiguration).
			Build()
	}
	settings = settings.Clone()

	m := opts.Metrics
	if m == nil {
		var err error
		if m, err = observability.NewMetrics(); err != nil {
			return nil, errors.New(err).
				Component(componentAppliance).
				Category(errors.CategorySystem).
				Context("operation", "init_metrics").
				Build()
		}
	}

	a := &Appliance{
		settings: settings,
		opts:     opts,
		status:   status.New(),
		metrics:  m,
		log:      GetLogger(),
	}

	a.registry = audiocore.NewRegistry(m.Capture)
	in := &settings.Input
	a.pipeline = audiocore.NewPipeline(a.status, a.registry,
		audiocore.NewSoftLimiter(in.LimiterEnabled, in.LimiterDrive), m.Capture)
	if opts.Opener != nil {
		a.capture = audiocore.NewCaptureLoop(opts.Opener, a.pipeline, a.status, settings.Input, m.Capture)
	}

	a.http = httpclient.New(&httpclient.Config{UserAgent: "ondepi/" + opts.Version})
	a.http.SetAfterResponseHook(m.ObserveHTTPClient())
	a.azuracast = metadata.NewAzuraCast(settings.AzuraCast, a.http)

	notifier, err := notification.New(settings.Notification, m.Notification)
	if err != nil {
		a.http.Close()
		return nil, err
	}
	a.notifier = notifier
	if a.capture != nil {
		a.capture.SetStateListener(a.notifier.DeviceStateChanged)
	}

	if settings.History.Enabled {
		store, err := history.Open(settings.History.Path, settings.History.Keep)
		if err != nil {
			// the stream must not depend on the session log
			a.log.Warn("session history disabled", logger.Error(err))
		} else {
			a.history = store
		}
	}

	sopts := streamer.Options{
		FFmpegPath: opts.FFmpegPath,
		Publishers: []streamer.Publisher{a.azuracast},
		Metrics:    m.Streamer,
		Notifier:   a.notifier,
	}
	if a.capture != nil {
		sopts.Consumers = a.registry
	}
	if a.history != nil {
		sopts.History = a.history
	}
	a.supervisor = streamer.NewSupervisor(settings, a.status, sopts)

	if settings.MQTT.Enabled {
		a.reporter = a.newReporter(settings)
	}

	return a, nil
}

func (a *Appliance) newReporter(settings *conf.Settings) *mqtt.Reporter {
	cfg := mqtt.ConfigFromSettings(settings.MQTT)
	client := a.opts.MQTTClient
	if client == nil {
		client = mqtt.NewClient(cfg, a.metrics.MQTT)
	}
	r := mqtt.NewReporter(client, cfg, a.statusDTO, a.metadataSettings)
	if settings.MQTT.Discovery {
		r.SetDiscovery(mqtt.NewDiscoveryPublisher(client, &mqtt.DiscoveryConfig{
			DiscoveryPrefix: settings.MQTT.DiscoveryPrefix,
			BaseTopic:       cfg.Topic,
			DeviceName:      settings.Metadata.Name,
			NodeID:          cfg.ClientID,
			Version:         a.opts.Version,
		}))
	}
	return r
}

// Run starts capture and the background services, then blocks until ctx is
// cancelled or a service fails. Extra services, such as the HTTP server,
// run in the same group. Everything is stopped before Run returns.
func (a *Appliance) Run(ctx context.Context, services ...func(context.Context) error) error {
	a.notifier.Start()
	if a.capture != nil {
		a.capture.Start()
	}
	if a.opts.StartStream {
		if err := a.Start(); err != nil {
			a.log.Warn("stream did not start", logger.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.reporter != nil {
		g.Go(func() error { return a.reporter.Run(gctx) })
	}
	for _, svc := range services {
		g.Go(func() error { return svc(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	a.Close()
	return err
}

// Close stops the encoder and capture and releases every resource. It is
// safe to call more than once.
func (a *Appliance) Close() {
	a.closeOnce.Do(func() {
		if err := a.supervisor.Stop(); err != nil {
			a.log.Warn("failed to stop stream", logger.Error(err))
		}
		if a.capture != nil {
			a.capture.Stop()
		}
		a.notifier.Close()
		if a.history != nil {
			if err := a.history.Close(); err != nil {
				a.log.Warn("failed to close session history", logger.Error(err))
			}
		}
		a.http.Close()
		a.log.Info("appliance stopped")
	})
}

// Start launches the encoder. Failures are recorded as the last error.
func (a *Appliance) Start() error {
	if err := a.supervisor.Start(); err != nil {
		a.status.SetError(status.SourceControl, err.Error())
		return err
	}
	return nil
}

// Stop terminates the encoder.
func (a *Appliance) Stop() error {
	return a.supervisor.Stop()
}

// Status returns the state snapshot, the encoder and device status and
// whether the config is valid.
func (a *Appliance) Status() StatusReport {
	settings := a.Settings()
	issues := conf.Validate(settings)
	report := StatusReport{
		State:  a.status.Snapshot(),
		Stream: a.supervisor.Status(),
		Device: a.DeviceStatus(),
		Config: ConfigReport{
			Valid:  len(issues) == 0,
			Errors: conf.ValidationError{Issues: issues}.Errors(),
			Issues: issues,
		},
	}
	if report.Config.Issues == nil {
		report.Config.Issues = []conf.Issue{}
	}
	return report
}

// DeviceStatus returns the capture device status, nil without capture.
func (a *Appliance) DeviceStatus() *audiocore.DeviceStatus {
	if a.capture == nil {
		return nil
	}
	ds := a.capture.DeviceStatus()
	return &ds
}

// Snapshot returns the shared runtime state.
func (a *Appliance) Snapshot() status.Snapshot {
	return a.status.Snapshot()
}

// SetGain sets the input gain in dB. It applies to the next block.
func (a *Appliance) SetGain(db float64) {
	a.status.SetGain(db)
	a.log.Info("input gain changed", logger.Float64("gain_db", db))
}

// Metrics returns the metric collectors.
func (a *Appliance) Metrics() *observability.Metrics {
	return a.metrics
}

// Settings returns a copy of the current settings.
func (a *Appliance) Settings() *conf.Settings {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.settings.Clone()
}

func (a *Appliance) metadataSettings() conf.MetadataSettings {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.settings.Metadata
}

func (a *Appliance) statusDTO() *mqtt.StatusDTO {
	snap := a.status.Snapshot()
	return mqtt.NewStatusDTO(&snap, a.DeviceStatus(), time.Now())
}

// Devices lists capture devices.
func (a *Appliance) Devices() ([]audiocore.DeviceInfo, error) {
	if a.opts.Enumerator == nil {
		return nil, ErrNoCapture
	}
	return a.opts.Enumerator.Devices()
}

// TestInput records d of audio and returns its levels. A running capture
// engine is tapped; otherwise the device is opened for the duration.
func (a *Appliance) TestInput(ctx context.Context, d time.Duration) (*export.Recorder, export.Result, error) {
	if d <= 0 {
		d = export.DefaultProbeDuration
	}
	if a.capture != nil && a.capture.Running() {
		return export.ProbeTap(ctx, a.registry, d)
	}
	if a.opts.Opener == nil {
		return nil, export.Result{}, ErrNoCapture
	}
	in := a.Settings().Input
	return export.ProbeDevice(ctx, a.opts.Opener, audiocore.DeviceConfigFromSettings(&in), d)
}

// History returns recent encoder sessions, newest first. It is empty when
// the session log is disabled.
func (a *Appliance) History(ctx context.Context, limit int) ([]history.Session, error) {
	if a.history == nil {
		return []history.Session{}, nil
	}
	return a.history.List(ctx, limit)
}

// UpdateConfig validates next, saves it to the config file and applies it.
// Only affected subsystems restart: capture when the input changed and the
// encoder when its command line changed while it was live. Integration
// sections apply on the next process start.
func (a *Appliance) UpdateConfig(next *conf.Settings) error {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()

	if err := conf.ValidateSettings(next); err != nil {
		return err
	}
	path := a.settings.ConfigPath
	if path == "" {
		return ErrConfigPathMissing
	}
	next = next.Clone()
	next.ConfigPath = path
	if err := conf.SaveYAMLConfig(path, next); err != nil {
		return errors.New(err).
			Component(componentAppliance).
			Category(errors.CategoryFileIO).
			Context("operation", "save_config").
			Build()
	}

	prev := a.settings
	a.settings = next
	a.apply(prev, next)
	return nil
}

// PatchConfig deep-merges patch into the current settings and applies the
// result like UpdateConfig.
func (a *Appliance) PatchConfig(patch map[string]any) error {
	merged, err := conf.MergePatch(a.Settings(), patch)
	if err != nil {
		return err
	}
	return a.UpdateConfig(merged)
}

// apply pushes next to the running components. cfgMu must be held.
func (a *Appliance) apply(prev, next *conf.Settings) {
	restartEncoder := a.supervisor.Running() && a.commandChanged(prev, next)

	a.supervisor.UpdateConfig(next)
	a.azuracast.Configure(next.AzuraCast)

	if a.capture != nil && prev.Input != next.Input {
		a.capture.UpdateInput(next.Input)
	} else if prev.Input.LimiterEnabled != next.Input.LimiterEnabled || prev.Input.LimiterDrive != next.Input.LimiterDrive {
		a.pipeline.SetLimiter(audiocore.NewSoftLimiter(next.Input.LimiterEnabled, next.Input.LimiterDrive))
	}

	if restartEncoder {
		a.log.Info("restarting stream with new settings")
		if err := a.supervisor.Stop(); err != nil {
			a.log.Warn("failed to stop stream", logger.Error(err))
		}
		if err := a.supervisor.Start(); err != nil {
			a.status.SetError(status.SourceControl, err.Error())
			a.log.Error("stream restart failed", logger.Error(err))
		}
	}

	if pending := restartOnlySections(prev, next); len(pending) > 0 {
		a.log.Info("settings saved, changes apply after restart", logger.Any("sections", pending))
	}
	a.log.Info("configuration updated", logger.Bool("encoder_restarted", restartEncoder))
}

func (a *Appliance) commandChanged(prev, next *conf.Settings) bool {
	bridged := a.supervisor.Bridged()
	before, errBefore := streamer.BuildCommand(prev, ffmpegFor(prev, a.opts.FFmpegPath), bridged)
	after, errAfter := streamer.BuildCommand(next, ffmpegFor(next, a.opts.FFmpegPath), bridged)
	if errBefore != nil || errAfter != nil {
		return true
	}
	return !slices.Equal(before, after)
}

func ffmpegFor(s *conf.Settings, fallback string) string {
	if s.FFmpeg.Path != "" {
		return s.FFmpeg.Path
	}
	return fallback
}

func restartOnlySections(prev, next *conf.Settings) []string {
	var out []string
	check := func(name string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			out = append(out, name)
		}
	}
	check("web", prev.Web, next.Web)
	check("mqtt", prev.MQTT, next.MQTT)
	check("notification", prev.Notification, next.Notification)
	check("history", prev.History, next.History)
	check("telemetry", prev.Telemetry, next.Telemetry)
	check("logging", prev.Logging, next.Logging)
	return out
}
