package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ondepi-go/internal/audiocore"
	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/status"
)

type published struct {
	topic   string
	payload string
	retain  bool
}

// fakeClient records publishes instead of talking to a broker.
type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	msgs         []published
	connects     int
	disconnected bool
	failTopic    string
}

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.connected = true
	return nil
}

func (f *fakeClient) Publish(_ context.Context, topic, payload string, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	if f.failTopic != "" && strings.HasPrefix(topic, f.failTopic) {
		return errors.NewStd("publish refused")
	}
	f.msgs = append(f.msgs, published{topic, payload, retain})
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func (f *fakeClient) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeClient) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m.topic)
	}
	return out
}

func (f *fakeClient) last(topic string) (published, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.msgs) - 1; i >= 0; i-- {
		if f.msgs[i].topic == topic {
			return f.msgs[i], true
		}
	}
	return published{}, false
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Topic = "studio"
	cfg.Retain = true
	cfg.StatusInterval = 10 * time.Millisecond
	return cfg
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	cfg := ConfigFromSettings(conf.MQTTSettings{
		Broker:                "tcp://broker.lan:1883",
		ClientID:              "ondepi-1",
		Topic:                 "radio",
		Retain:                true,
		StatusIntervalSeconds: 30,
	})
	assert.Equal(t, "tcp://broker.lan:1883", cfg.Broker)
	assert.Equal(t, 30*time.Second, cfg.StatusInterval)
	assert.Equal(t, "radio/status", cfg.StatusTopic())
	assert.Equal(t, "radio/now_playing", cfg.NowPlayingTopic())
	assert.Equal(t, "radio/availability", cfg.AvailabilityTopic())

	defaults := ConfigFromSettings(conf.MQTTSettings{})
	assert.Equal(t, "ondepi", defaults.Topic)
	assert.Equal(t, 10*time.Second, defaults.StatusInterval)
}

func TestNewStatusDTO(t *testing.T) {
	t.Parallel()

	st := status.New()
	st.SetStreaming(true, "abc")
	st.SetLevels(0.25, 0.5)
	st.SetGain(-3)
	st.SetError(status.SourceEncoder, "ffmpeg exited with code 1")
	snap := st.Snapshot()
	dev := audiocore.DeviceStatus{Status: audiocore.StateConnected, Device: "hw:1,0"}

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	dto := NewStatusDTO(&snap, &dev, now)

	assert.True(t, dto.Streaming)
	assert.Equal(t, "abc", dto.SessionID)
	assert.Equal(t, "ffmpeg exited with code 1", dto.LastError)
	assert.Equal(t, "encoder", dto.LastErrorSource)
	assert.Equal(t, "connected", dto.DeviceStatus)
	assert.InDelta(t, 0.25, dto.RMS, 1e-9)
	assert.InDelta(t, -3.0, dto.GainDB, 1e-9)
	assert.Equal(t, "2026-05-01T12:00:00Z", dto.Timestamp)
}

func TestNewNowPlayingDTO(t *testing.T) {
	t.Parallel()

	md := conf.MetadataSettings{Name: "Radio X", Artist: " Studio A ", Track: "Morning Show"}
	np := NewNowPlayingDTO(&md)
	assert.Equal(t, "Studio A - Morning Show", np.Song)
	assert.Equal(t, "Radio X", np.Station)

	empty := NewNowPlayingDTO(&conf.MetadataSettings{})
	assert.Equal(t, "Live", empty.Song)
}

type reporterFixture struct {
	client *fakeClient
	md     conf.MetadataSettings
	mu     sync.Mutex
}

func (f *reporterFixture) metadata() conf.MetadataSettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.md
}

func (f *reporterFixture) setTrack(track string) {
	f.mu.Lock()
	f.md.Track = track
	f.mu.Unlock()
}

func newReporterFixture(t *testing.T) (*reporterFixture, *Reporter) {
	t.Helper()
	f := &reporterFixture{
		client: &fakeClient{connected: true},
		md:     conf.MetadataSettings{Artist: "Studio A", Track: "News"},
	}
	statusFn := func() *StatusDTO { return &StatusDTO{Streaming: true, RetryCount: 2} }
	return f, NewReporter(f.client, testConfig(), statusFn, f.metadata)
}

func TestReporterPublishOnce(t *testing.T) {
	t.Parallel()

	f, r := newReporterFixture(t)
	ctx := t.Context()

	require.NoError(t, r.PublishOnce(ctx))
	require.NoError(t, r.PublishOnce(ctx))
	assert.Equal(t, []string{"studio/status", "studio/now_playing", "studio/status"}, f.client.topics(),
		"now playing is only published when it changes")

	statusMsg, ok := f.client.last("studio/status")
	require.True(t, ok)
	assert.True(t, statusMsg.retain)
	var dto StatusDTO
	require.NoError(t, json.Unmarshal([]byte(statusMsg.payload), &dto))
	assert.Equal(t, 2, dto.RetryCount)

	f.setTrack("Weather")
	require.NoError(t, r.PublishOnce(ctx))
	np, ok := f.client.last("studio/now_playing")
	require.True(t, ok)
	assert.True(t, np.retain)
	assert.Contains(t, np.payload, `"song":"Studio A - Weather"`)
}

func TestReporterRepublishesAfterReconnect(t *testing.T) {
	t.Parallel()

	f, r := newReporterFixture(t)
	ctx := t.Context()

	require.NoError(t, r.PublishOnce(ctx))
	f.client.setConnected(false)
	require.ErrorIs(t, r.PublishOnce(ctx), ErrNotConnected)
	f.client.setConnected(true)
	require.NoError(t, r.PublishOnce(ctx))

	count := 0
	for _, topic := range f.client.topics() {
		if topic == "studio/now_playing" {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestReporterRunDisconnectsOnCancel(t *testing.T) {
	t.Parallel()

	f, r := newReporterFixture(t)
	f.client.setConnected(false)
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool {
		_, ok := f.client.last("studio/status")
		return ok
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	f.client.mu.Lock()
	defer f.client.mu.Unlock()
	assert.Equal(t, 1, f.client.connects)
	assert.True(t, f.client.disconnected)
}

func TestDiscovery(t *testing.T) {
	t.Parallel()

	client := &fakeClient{connected: true}
	d := NewDiscoveryPublisher(client, &DiscoveryConfig{
		BaseTopic:  "studio",
		DeviceName: "Radio X",
		NodeID:     "ondepi.studio-1",
		Version:    "1.0.0",
	})

	payloads := d.Payloads()
	require.Len(t, payloads, len(AllEntities))

	streaming, ok := payloads["homeassistant/binary_sensor/ondepi_studio-1/ondepi_studio-1_streaming/config"]
	require.True(t, ok)
	assert.Equal(t, "studio/status", streaming.StateTopic)
	assert.Equal(t, "studio/availability", streaming.AvailabilityTopic)
	assert.Equal(t, "ondepi_ondepi_studio-1_streaming", streaming.UniqueID)
	assert.Equal(t, "Radio X", streaming.Device.Name)

	nowPlaying, ok := payloads["homeassistant/sensor/ondepi_studio-1/ondepi_studio-1_now_playing/config"]
	require.True(t, ok)
	assert.Equal(t, "studio/now_playing", nowPlaying.StateTopic)

	require.NoError(t, d.Publish(t.Context()))
	assert.Len(t, client.topics(), len(AllEntities))

	require.NoError(t, d.Remove(t.Context()))
	msg, ok := client.last("homeassistant/sensor/ondepi_studio-1/ondepi_studio-1_rms/config")
	require.True(t, ok)
	assert.Empty(t, msg.payload)
	assert.True(t, msg.retain)
}

func TestDiscoveryPublishedOnceByReporter(t *testing.T) {
	t.Parallel()

	f, r := newReporterFixture(t)
	r.SetDiscovery(NewDiscoveryPublisher(f.client, &DiscoveryConfig{BaseTopic: "studio", NodeID: "n"}))

	require.NoError(t, r.PublishOnce(t.Context()))
	require.NoError(t, r.PublishOnce(t.Context()))

	configs := 0
	for _, topic := range f.client.topics() {
		if strings.HasPrefix(topic, "homeassistant/") {
			configs++
		}
	}
	assert.Equal(t, len(AllEntities), configs)
}

func TestDiscoveryFailureReported(t *testing.T) {
	t.Parallel()

	client := &fakeClient{connected: true, failTopic: "homeassistant/sensor"}
	d := NewDiscoveryPublisher(client, &DiscoveryConfig{BaseTopic: "studio", NodeID: "n"})
	err := d.Publish(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "5 of 6 entities")
}

func TestSanitizeID(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"ondepi":          "ondepi",
		"studio 1/main":   "studio_1_main",
		"__weird..id__":   "weird_id",
		"!!!":             "unknown",
		"ondepi-studio_2": "ondepi-studio_2",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeID(in), in)
	}
}

func TestClientWithoutBroker(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{Broker: "not a url", ConnectTimeout: time.Second}, nil)
	assert.False(t, c.IsConnected())
	require.ErrorIs(t, c.Publish(t.Context(), "x", "y", false), ErrNotConnected)

	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	// no-op without a connection
	c.Disconnect()
}
