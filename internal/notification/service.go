// Package notification alerts the operator through shoutrrr services when
// the stream gives up or the capture device goes away. Alerts are queued and
// delivered by a worker goroutine, and identical alerts are suppressed for
// the configured throttle window.
package notification

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/ondepi-go/internal/audiocore"
	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/logger"
)

const (
	componentNotification = "notification"

	queueSize = 16
)

// Event names an alert kind. It is the metrics label.
type Event string

const (
	EventStreamFailed   Event = "stream_failed"
	EventDeviceLost     Event = "device_lost"
	EventDeviceRestored Event = "device_restored"
)

// MetricsRecorder receives delivery outcomes.
type MetricsRecorder interface {
	RecordSent(event string)
	RecordFailed(event string)
	RecordSuppressed(event string)
}

type noopMetrics struct{}

func (noopMetrics) RecordSent(string)       {}
func (noopMetrics) RecordFailed(string)     {}
func (noopMetrics) RecordSuppressed(string) {}

type message struct {
	event Event
	title string
	body  string
}

// Service queues and delivers alerts. A Service without a sender accepts and
// discards everything, so callers need no enabled checks.
type Service struct {
	sender  Sender
	recent  *cache.Cache
	metrics MetricsRecorder
	log     logger.Logger
	host    string

	queue chan message
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	mu         sync.Mutex
	deviceLost bool
}

// New builds the service from settings. Disabled settings give a silent
// service.
func New(cfg conf.NotificationSettings, metrics MetricsRecorder) (*Service, error) {
	if !cfg.Enabled {
		return NewWithSender(nil, 0, metrics), nil
	}
	sender, err := NewShoutrrrSender(cfg.URLs, DefaultSendTimeout)
	if err != nil {
		return nil, err
	}
	// 0 turns duplicate suppression off
	throttle := time.Duration(cfg.ThrottleMinutes) * time.Minute
	svc := NewWithSender(sender, throttle, metrics)
	svc.log.Info("notifications enabled",
		logger.Any("services", sender.Services()),
		logger.Duration("throttle", throttle))
	return svc, nil
}

// NewWithSender creates a service around sender. A throttle <= 0 disables
// duplicate suppression.
func NewWithSender(sender Sender, throttle time.Duration, metrics MetricsRecorder) *Service {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "ondepi"
	}
	s := &Service{
		sender:  sender,
		metrics: metrics,
		log:     GetLogger(),
		host:    host,
		queue:   make(chan message, queueSize),
		done:    make(chan struct{}),
	}
	if throttle > 0 {
		s.recent = cache.New(throttle, 2*throttle)
	}
	return s
}

// Enabled reports whether alerts are delivered anywhere.
func (s *Service) Enabled() bool { return s.sender != nil }

// Start launches the delivery worker.
func (s *Service) Start() {
	if s.sender == nil {
		return
	}
	s.wg.Go(s.worker)
}

// Close delivers what is already queued and stops the worker.
func (s *Service) Close() {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

// NotifyStreamFailed reports that the encoder will not be relaunched.
func (s *Service) NotifyStreamFailed(reason string) {
	s.Notify(EventStreamFailed, "Stream stopped", fmt.Sprintf("%s: streaming stopped: %s", s.host, reason))
}

// DeviceStateChanged follows capture device state and alerts once when the
// device is lost and once when it comes back. It never blocks and can be
// installed as an audiocore.StateListener.
func (s *Service) DeviceStateChanged(state audiocore.DeviceState, lastError string) {
	s.mu.Lock()
	var event Event
	switch state {
	case audiocore.StateError, audiocore.StateDisconnected:
		if !s.deviceLost {
			s.deviceLost = true
			event = EventDeviceLost
		}
	case audiocore.StateConnected:
		if s.deviceLost {
			s.deviceLost = false
			event = EventDeviceRestored
		}
	case audiocore.StateStopped, audiocore.StateIdle:
		s.deviceLost = false
	}
	s.mu.Unlock()

	switch event {
	case EventDeviceLost:
		body := s.host + ": audio input lost"
		if lastError != "" {
			body += ": " + lastError
		}
		s.Notify(EventDeviceLost, "Audio input lost", body)
	case EventDeviceRestored:
		s.Notify(EventDeviceRestored, "Audio input restored", s.host+": audio input is capturing again")
	}
}

// Notify queues an alert. It returns false when the alert was suppressed as
// a duplicate or the queue was full.
func (s *Service) Notify(event Event, title, body string) bool {
	if s.sender == nil {
		return false
	}
	if s.recent != nil {
		// Add fails while an identical alert is still inside the window
		if err := s.recent.Add(string(event)+"|"+body, struct{}{}, cache.DefaultExpiration); err != nil {
			s.metrics.RecordSuppressed(string(event))
			s.log.Debug("duplicate notification suppressed", logger.String("event", string(event)))
			return false
		}
	}

	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.queue <- message{event: event, title: title, body: body}:
		return true
	default:
		s.metrics.RecordFailed(string(event))
		s.log.Warn("notification queue full, alert dropped", logger.String("event", string(event)))
		return false
	}
}

func (s *Service) worker() {
	for {
		select {
		case m := <-s.queue:
			s.deliver(m)
		case <-s.done:
			for {
				select {
				case m := <-s.queue:
					s.deliver(m)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) deliver(m message) {
	if err := s.sender.Send("OndePi: "+m.title, m.body); err != nil {
		s.metrics.RecordFailed(string(m.event))
		s.log.Warn("notification delivery failed",
			logger.String("event", string(m.event)),
			logger.Error(err))
		return
	}
	s.metrics.RecordSent(string(m.event))
	s.log.Info("notification sent", logger.String("event", string(m.event)))
}
