package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/logger"
)

// Reporter publishes the status payload every interval and the now-playing
// payload whenever the title changes. After a reconnect everything,
// discovery included, is published again.
type Reporter struct {
	client    Client
	cfg       Config
	status    func() *StatusDTO
	metadata  func() conf.MetadataSettings
	discovery *DiscoveryPublisher
	log       logger.Logger

	mu             sync.Mutex
	lastNowPlaying string
	discoveryDone  bool
}

// NewReporter creates a reporter. status and metadata are read on every
// cycle.
func NewReporter(client Client, cfg Config, status func() *StatusDTO, metadata func() conf.MetadataSettings) *Reporter {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultConfig().StatusInterval
	}
	return &Reporter{
		client:   client,
		cfg:      cfg,
		status:   status,
		metadata: metadata,
		log:      GetLogger(),
	}
}

// SetDiscovery enables Home Assistant discovery publication.
func (r *Reporter) SetDiscovery(d *DiscoveryPublisher) {
	r.mu.Lock()
	r.discovery = d
	r.discoveryDone = false
	r.mu.Unlock()
}

// Run connects and publishes until ctx is cancelled, then announces
// "offline" and disconnects. A broker that is down at start is retried in
// the background.
func (r *Reporter) Run(ctx context.Context) error {
	if err := r.client.Connect(ctx); err != nil {
		r.log.Warn("MQTT broker not reachable yet, will keep trying", logger.Error(err))
	}
	defer r.client.Disconnect()

	ticker := time.NewTicker(r.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		if err := r.PublishOnce(ctx); err != nil && !errors.Is(err, ErrNotConnected) {
			r.log.Warn("MQTT status publish failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PublishOnce publishes status, and now-playing and discovery when due.
func (r *Reporter) PublishOnce(ctx context.Context) error {
	if !r.client.IsConnected() {
		r.mu.Lock()
		r.lastNowPlaying = ""
		r.discoveryDone = false
		r.mu.Unlock()
		return ErrNotConnected
	}

	r.mu.Lock()
	discovery, discoveryDone := r.discovery, r.discoveryDone
	r.mu.Unlock()
	if discovery != nil && !discoveryDone {
		if err := discovery.Publish(ctx); err != nil {
			return err
		}
		r.mu.Lock()
		r.discoveryDone = true
		r.mu.Unlock()
	}

	payload, err := json.Marshal(r.status())
	if err != nil {
		return errors.New(err).Component(componentMQTT).Category(errors.CategoryMQTTPublish).Build()
	}
	if err := r.client.Publish(ctx, r.cfg.StatusTopic(), string(payload), r.cfg.Retain); err != nil {
		return err
	}

	md := r.metadata()
	np, err := json.Marshal(NewNowPlayingDTO(&md))
	if err != nil {
		return errors.New(err).Component(componentMQTT).Category(errors.CategoryMQTTPublish).Build()
	}
	r.mu.Lock()
	changed := string(np) != r.lastNowPlaying
	r.mu.Unlock()
	if !changed {
		return nil
	}
	if err := r.client.Publish(ctx, r.cfg.NowPlayingTopic(), string(np), true); err != nil {
		return err
	}
	r.mu.Lock()
	r.lastNowPlaying = string(np)
	r.mu.Unlock()
	r.log.Debug("now playing published", logger.String("song", NewNowPlayingDTO(&md).Song))
	return nil
}
