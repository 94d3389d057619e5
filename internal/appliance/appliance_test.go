package appliance

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ondepi-go/internal/audiocore"
	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/status"
	"github.com/tphakala/ondepi-go/internal/streamer"
	"github.com/tphakala/ondepi-go/internal/testutil"
)

func TestMain(m *testing.M) {
	testutil.VerifyTestMain(m)
}

type fakeSession struct {
	active atomic.Bool
}

func (s *fakeSession) Active() bool { return s.active.Load() }
func (s *fakeSession) Err() error   { return nil }
func (s *fakeSession) Close() error {
	s.active.Store(false)
	return nil
}

// fakeOpener delivers one second of a constant signal as soon as a device
// is opened.
type fakeOpener struct {
	mu      sync.Mutex
	configs []audiocore.DeviceConfig
	level   float32
}

func (o *fakeOpener) Open(cfg audiocore.DeviceConfig, onData func(*audiocore.Block)) (audiocore.Session, error) {
	o.mu.Lock()
	o.configs = append(o.configs, cfg)
	o.mu.Unlock()

	data := make([]float32, cfg.SampleRate*cfg.Channels)
	for i := range data {
		data[i] = o.level
	}
	onData(audiocore.NewFloatBlock(data, cfg.Channels, cfg.SampleRate))

	s := &fakeSession{}
	s.active.Store(true)
	return s, nil
}

func (o *fakeOpener) opened() []audiocore.DeviceConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]audiocore.DeviceConfig(nil), o.configs...)
}

type fakeEnumerator struct {
	devices []audiocore.DeviceInfo
}

func (e fakeEnumerator) Devices() ([]audiocore.DeviceInfo, error) { return e.devices, nil }

type fakeMQTT struct {
	mu           sync.Mutex
	connected    bool
	topics       []string
	disconnected bool
}

func (f *fakeMQTT) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeMQTT) Publish(_ context.Context, topic, _ string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakeMQTT) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeMQTT) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func (f *fakeMQTT) published(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.topics {
		if t == topic {
			return true
		}
	}
	return false
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s := conf.Defaults()
	s.ConfigPath = filepath.Join(t.TempDir(), "config.yaml")
	s.History.Enabled = false
	s.Input.SampleRate = 8000
	s.Input.Channels = 1
	s.Input.LimiterEnabled = false
	return s
}

func streamTarget(s *conf.Settings) {
	s.Stream.Server = "radio.example.org"
	s.Stream.Port = 8000
	s.Stream.Mount = "/live"
	s.Stream.Password = "hackme"
}

func newTestAppliance(t *testing.T, s *conf.Settings, opts Options) *Appliance {
	t.Helper()
	a, err := New(s, opts)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewRequiresSettings(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Options{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestStatusReportsConfigValidity(t *testing.T) {
	t.Parallel()

	a := newTestAppliance(t, testSettings(t), Options{})
	report := a.Status()

	assert.False(t, report.Config.Valid)
	assert.Contains(t, report.Config.Errors, "stream.server is required")
	assert.Contains(t, report.Config.Issues, conf.Issue{Field: "stream.mount", Message: "is required"})
	assert.False(t, report.Stream.Running)
	assert.Equal(t, streamer.InputALSA, report.Stream.Input, "without capture ffmpeg reads ALSA")
	assert.Nil(t, report.Device)

	s := testSettings(t)
	streamTarget(s)
	valid := newTestAppliance(t, s, Options{}).Status()
	assert.True(t, valid.Config.Valid)
	assert.Empty(t, valid.Config.Errors)
	assert.NotNil(t, valid.Config.Issues)
}

func TestStartWithoutTargetRecordsError(t *testing.T) {
	t.Parallel()

	a := newTestAppliance(t, testSettings(t), Options{})
	err := a.Start()
	require.ErrorIs(t, err, streamer.ErrStreamTargetMissing)

	snap := a.Status().State
	require.NotNil(t, snap.LastError)
	assert.Contains(t, *snap.LastError, "stream server and mount must be configured")
	assert.Equal(t, status.SourceControl, snap.LastErrorSource)
	assert.False(t, snap.Streaming)

	require.NoError(t, a.Stop())
}

func TestSetGain(t *testing.T) {
	t.Parallel()

	a := newTestAppliance(t, testSettings(t), Options{})
	a.SetGain(-6)
	assert.InDelta(t, -6.0, a.Status().State.GainDB, 1e-9)
}

func TestDevices(t *testing.T) {
	t.Parallel()

	_, err := newTestAppliance(t, testSettings(t), Options{}).Devices()
	require.ErrorIs(t, err, ErrNoCapture)

	want := []audiocore.DeviceInfo{{Index: 0, Name: "USB Audio CODEC", ID: "hw:1,0", IsDefault: true}}
	a := newTestAppliance(t, testSettings(t), Options{Enumerator: fakeEnumerator{devices: want}})
	got, err := a.Devices()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUpdateConfig(t *testing.T) {
	t.Parallel()

	t.Run("persists and applies", func(t *testing.T) {
		t.Parallel()
		s := testSettings(t)
		a := newTestAppliance(t, s, Options{})

		next := a.Settings()
		streamTarget(next)
		next.Metadata.Track = "Morning Show"
		require.NoError(t, a.UpdateConfig(next))

		assert.Equal(t, "radio.example.org", a.Settings().Stream.Server)
		assert.Equal(t, s.ConfigPath, a.Settings().ConfigPath)
		assert.Equal(t, "Morning Show", a.metadataSettings().Track)

		data, err := os.ReadFile(s.ConfigPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "radio.example.org")
		assert.True(t, a.Status().Config.Valid)
	})

	t.Run("rejects invalid settings", func(t *testing.T) {
		t.Parallel()
		s := testSettings(t)
		a := newTestAppliance(t, s, Options{})

		next := a.Settings()
		streamTarget(next)
		next.Input.Channels = 6
		err := a.UpdateConfig(next)

		var ve conf.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, []string{"input.channels must be 1 or 2"}, ve.Errors())
		assert.NoFileExists(t, s.ConfigPath)
		assert.Equal(t, 1, a.Settings().Input.Channels)
	})

	t.Run("requires a config path", func(t *testing.T) {
		t.Parallel()
		s := testSettings(t)
		s.ConfigPath = ""
		a := newTestAppliance(t, s, Options{})

		next := a.Settings()
		streamTarget(next)
		require.ErrorIs(t, a.UpdateConfig(next), ErrConfigPathMissing)
	})
}

func TestPatchConfig(t *testing.T) {
	t.Parallel()

	s := testSettings(t)
	a := newTestAppliance(t, s, Options{})

	err := a.PatchConfig(map[string]any{
		"stream": map[string]any{"server": "ingest.example.net", "mount": "/studio", "port": 8010},
	})
	require.NoError(t, err)

	got := a.Settings()
	assert.Equal(t, "ingest.example.net", got.Stream.Server)
	assert.Equal(t, "/studio", got.Stream.Mount)
	assert.Equal(t, 8010, got.Stream.Port)
	assert.Equal(t, s.Stream.Format, got.Stream.Format, "keys outside the patch are kept")
	assert.Equal(t, s.Input.SampleRate, got.Input.SampleRate)

	err = a.PatchConfig(map[string]any{"stream": map[string]any{"bitrate_kbps": 0}})
	var ve conf.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "ingest.example.net", a.Settings().Stream.Server)
}

func TestTestInput(t *testing.T) {
	t.Parallel()

	t.Run("without capture backend", func(t *testing.T) {
		t.Parallel()
		a := newTestAppliance(t, testSettings(t), Options{})
		_, _, err := a.TestInput(t.Context(), 10*time.Millisecond)
		require.ErrorIs(t, err, ErrNoCapture)
	})

	t.Run("opens the device when capture is idle", func(t *testing.T) {
		t.Parallel()
		opener := &fakeOpener{level: 0.5}
		a := newTestAppliance(t, testSettings(t), Options{Opener: opener})

		rec, res, err := a.TestInput(t.Context(), 100*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.InDelta(t, 0.5, res.RMS, 1e-6)
		assert.InDelta(t, 0.5, res.Peak, 1e-6)
		assert.Equal(t, 800, res.Frames)

		cfgs := opener.opened()
		require.Len(t, cfgs, 1)
		assert.Equal(t, 8000, cfgs[0].SampleRate)
	})
}

func TestHistoryDisabled(t *testing.T) {
	t.Parallel()

	a := newTestAppliance(t, testSettings(t), Options{})
	rows, err := a.History(t.Context(), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NotNil(t, rows)
}

func TestHistoryEnabled(t *testing.T) {
	t.Parallel()

	s := testSettings(t)
	s.History.Enabled = true
	s.History.Path = filepath.Join(t.TempDir(), "history.db")
	a := newTestAppliance(t, s, Options{})
	require.NotNil(t, a.history)

	rows, err := a.History(t.Context(), 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("starts capture and publishes to MQTT", func(t *testing.T) {
		t.Parallel()
		s := testSettings(t)
		s.MQTT.Enabled = true
		s.MQTT.Broker = "tcp://broker.lan:1883"
		s.MQTT.Topic = "studio"
		s.MQTT.Discovery = true

		opener := &fakeOpener{level: 0.25}
		client := &fakeMQTT{}
		a := newTestAppliance(t, s, Options{Opener: opener, MQTTClient: client})

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan error, 1)
		go func() { done <- a.Run(ctx) }()

		require.Eventually(t, func() bool {
			ds := a.DeviceStatus()
			return ds != nil && ds.Status == audiocore.StateConnected
		}, 2*time.Second, 5*time.Millisecond)
		require.Eventually(t, func() bool { return client.published("studio/status") },
			2*time.Second, 5*time.Millisecond)
		assert.True(t, client.published("studio/now_playing"))
		assert.InDelta(t, 0.25, a.Snapshot().Levels.Peak, 1e-6)

		cancel()
		require.NoError(t, testutil.WaitForChannel(t, done, testutil.DefaultTestTimeout, "Run did not return after cancel"))
		client.mu.Lock()
		assert.True(t, client.disconnected)
		client.mu.Unlock()
		assert.Equal(t, audiocore.StateStopped, a.DeviceStatus().Status)
	})

	t.Run("returns the first service error", func(t *testing.T) {
		t.Parallel()
		a := newTestAppliance(t, testSettings(t), Options{})
		boom := errors.NewStd("listener failed")

		err := a.Run(t.Context(), func(context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
	})

	t.Run("restarts capture when the input changes", func(t *testing.T) {
		t.Parallel()
		opener := &fakeOpener{}
		a := newTestAppliance(t, testSettings(t), Options{Opener: opener})

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan error, 1)
		go func() { done <- a.Run(ctx) }()
		defer func() {
			cancel()
			<-done
		}()

		require.Eventually(t, func() bool { return len(opener.opened()) == 1 }, 2*time.Second, 5*time.Millisecond)

		next := a.Settings()
		streamTarget(next)
		next.Input.SampleRate = 16000
		require.NoError(t, a.UpdateConfig(next))

		require.Eventually(t, func() bool { return len(opener.opened()) == 2 }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, 16000, opener.opened()[1].SampleRate)
	})
}

func TestRestartOnlySections(t *testing.T) {
	t.Parallel()

	prev := conf.Defaults()
	next := prev.Clone()
	assert.Empty(t, restartOnlySections(prev, next))

	next.Web.Port = 9000
	next.Notification.URLs = []string{"logger://"}
	assert.Equal(t, []string{"web", "notification"}, restartOnlySections(prev, next))
}
