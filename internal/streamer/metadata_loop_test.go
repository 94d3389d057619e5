package streamer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/status"
)

type fakePublisher struct {
	mu    sync.Mutex
	errs  []error
	calls []conf.MetadataSettings
}

func (p *fakePublisher) Name() string { return "fake" }

func (p *fakePublisher) Publish(_ context.Context, md conf.MetadataSettings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, md)
	if len(p.errs) == 0 {
		return nil
	}
	err := p.errs[0]
	if len(p.errs) > 1 {
		p.errs = p.errs[1:]
	}
	return err
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func metadataSettings() conf.MetadataSettings {
	return conf.MetadataSettings{
		Artist:              "Studio A",
		Track:               "Live",
		PushEnabled:         true,
		PushIntervalSeconds: 30,
		RetryAttempts:       2,
		RetryDelaySeconds:   5,
	}
}

// scriptedSleep records requested waits and cancels after limit of them.
func scriptedSleep(cancel context.CancelFunc, limit int) (func(context.Context, time.Duration) bool, func() []time.Duration) {
	var mu sync.Mutex
	var waits []time.Duration
	sleep := func(_ context.Context, d time.Duration) bool {
		mu.Lock()
		defer mu.Unlock()
		waits = append(waits, d)
		if len(waits) >= limit {
			cancel()
			return false
		}
		return true
	}
	return sleep, func() []time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Duration(nil), waits...)
	}
}

func TestMetadataPusherRetriesWithinCycle(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{errs: []error{errors.New("HTTP 502")}}
	st := status.New()
	md := metadataSettings()
	m := NewMetadataPusher([]Publisher{pub}, func() conf.MetadataSettings { return md }, st, nil)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sleep, waits := scriptedSleep(cancel, 3)
	m.sleep = sleep

	m.Run(ctx)

	assert.Equal(t, 3, pub.count(), "one push plus two retries")
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 30 * time.Second}, waits())

	snap := st.Snapshot()
	require.NotNil(t, snap.LastError)
	assert.Equal(t, "metadata update failed: HTTP 502", *snap.LastError)
	assert.Equal(t, status.SourceMetadata, snap.LastErrorSource)
}

func TestMetadataPusherSuccessClearsError(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{errs: []error{errors.New("timeout"), nil}}
	st := status.New()
	md := metadataSettings()
	m := NewMetadataPusher([]Publisher{pub}, func() conf.MetadataSettings { return md }, st, nil)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sleep, waits := scriptedSleep(cancel, 2)
	m.sleep = sleep

	m.Run(ctx)

	assert.Equal(t, 2, pub.count())
	assert.Equal(t, []time.Duration{5 * time.Second, 30 * time.Second}, waits())
	assert.Nil(t, st.Snapshot().LastError)
}

func TestMetadataPusherDisabled(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	md := metadataSettings()
	md.PushEnabled = false
	md.PushIntervalSeconds = 0
	m := NewMetadataPusher([]Publisher{pub}, func() conf.MetadataSettings { return md }, status.New(), nil)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sleep, waits := scriptedSleep(cancel, 2)
	m.sleep = sleep

	m.Run(ctx)

	assert.Equal(t, 1, pub.count(), "only the launch announcement")
	assert.Equal(t, []time.Duration{defaultPushInterval, defaultPushInterval}, waits())

	// a one-off push ignores push_enabled
	require.NoError(t, m.PushOnce(t.Context()))
	assert.Equal(t, 2, pub.count())
}

func TestMetadataPusherCancellation(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	md := metadataSettings()
	md.PushIntervalSeconds = 3600
	m := NewMetadataPusher([]Publisher{pub}, func() conf.MetadataSettings { return md }, status.New(), nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run ignored cancellation")
	}
}
