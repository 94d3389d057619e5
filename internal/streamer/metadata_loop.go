package streamer

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/logger"
	"github.com/tphakala/ondepi-go/internal/status"
)

// fallback when push_interval_seconds is not positive
const defaultPushInterval = 30 * time.Second

// Publisher delivers now-playing metadata to one external service.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, md conf.MetadataSettings) error
}

// MetadataPusher periodically pushes now-playing metadata to its publishers
// while the encoder is live.
type MetadataPusher struct {
	publishers []Publisher
	settings   func() conf.MetadataSettings
	status     *status.Shared
	metrics    MetricsRecorder
	log        logger.Logger

	// sleep is replaced in tests
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewMetadataPusher returns a pusher reading the current metadata settings
// through settings on every cycle.
func NewMetadataPusher(publishers []Publisher, settings func() conf.MetadataSettings, st *status.Shared, metrics MetricsRecorder) *MetadataPusher {
	return &MetadataPusher{
		publishers: publishers,
		settings:   settings,
		status:     st,
		metrics:    metricsOrNoop(metrics),
		log:        GetLogger(),
		sleep:      sleepCtx,
	}
}

// Enabled reports whether there is anything to push to.
func (m *MetadataPusher) Enabled() bool {
	return len(m.publishers) > 0
}

// Run pushes until ctx is cancelled. Each cycle retries a failed push up to
// retry_attempts times with a fixed delay, then waits push_interval_seconds.
// The first cycle announces the new session and pushes even when
// push_enabled is off.
func (m *MetadataPusher) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.status.SetError(status.SourceMetadata, fmt.Sprintf("metadata update failed: %v", r))
			m.log.Error("metadata loop panic", logger.Any("panic", r))
		}
	}()

	for initial := true; ctx.Err() == nil; initial = false {
		md := m.settings()
		if initial || md.PushEnabled {
			err := m.push(ctx, md)
			for i := 0; err != nil && i < md.RetryAttempts; i++ {
				if !m.sleep(ctx, md.RetryDelay()) {
					return
				}
				err = m.push(ctx, md)
			}
		}

		interval := md.PushInterval()
		if interval <= 0 {
			interval = defaultPushInterval
		}
		if !m.sleep(ctx, interval) {
			return
		}
	}
}

// PushOnce pushes the current metadata to every publisher once, ignoring
// push_enabled. Errors are recorded and returned joined.
func (m *MetadataPusher) PushOnce(ctx context.Context) error {
	return m.push(ctx, m.settings())
}

func (m *MetadataPusher) push(ctx context.Context, md conf.MetadataSettings) error {
	var errs []error
	for _, p := range m.publishers {
		err := p.Publish(ctx, md)
		m.metrics.RecordMetadataPush(p.Name(), err)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			// cancelled mid-request; not a service failure
			return ctx.Err()
		}
		m.status.SetError(status.SourceMetadata, fmt.Sprintf("metadata update failed: %v", err))
		m.log.Warn("metadata update failed",
			logger.String("publisher", p.Name()),
			logger.Error(err))
		errs = append(errs, errors.New(err).
			Component("metadata").
			Category(errors.CategoryIntegration).
			Context("publisher", p.Name()).
			Build())
	}
	if len(errs) == 0 {
		m.status.ClearErrorFrom(status.SourceMetadata)
		return nil
	}
	return errors.Join(errs...)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
