// discovery.go: Home Assistant MQTT auto-discovery.
// See: https://www.home-assistant.io/integrations/mqtt/#mqtt-discovery
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/logger"
)

const (
	deviceIDPrefix = "ondepi"

	EntityStreaming  = "streaming"
	EntityRMS        = "rms"
	EntityPeak       = "peak"
	EntityRetryCount = "retry_count"
	EntityLastError  = "last_error"
	EntityNowPlaying = "now_playing"
)

// AllEntities lists every entity, e.g. for removal.
var AllEntities = []string{
	EntityStreaming,
	EntityRMS,
	EntityPeak,
	EntityRetryCount,
	EntityLastError,
	EntityNowPlaying,
}

// Home Assistant IDs allow only [a-zA-Z0-9_-].
var idSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeID makes id usable in topics and entity IDs.
func SanitizeID(id string) string {
	sanitized := idSanitizer.ReplaceAllString(id, "_")
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		sanitized = "unknown"
	}
	return sanitized
}

// DiscoveryPayload is a Home Assistant discovery message.
type DiscoveryPayload struct {
	Name                string           `json:"name"`
	UniqueID            string           `json:"unique_id"`
	StateTopic          string           `json:"state_topic"`
	ValueTemplate       string           `json:"value_template,omitempty"`
	UnitOfMeasurement   string           `json:"unit_of_measurement,omitempty"`
	DeviceClass         string           `json:"device_class,omitempty"`
	StateClass          string           `json:"state_class,omitempty"`
	Icon                string           `json:"icon,omitempty"`
	EntityCategory      string           `json:"entity_category,omitempty"`
	PayloadOn           string           `json:"payload_on,omitempty"`
	PayloadOff          string           `json:"payload_off,omitempty"`
	PayloadAvailable    string           `json:"payload_available,omitempty"`
	PayloadNotAvailable string           `json:"payload_not_available,omitempty"`
	AvailabilityTopic   string           `json:"availability_topic,omitempty"`
	Device              DiscoveryDevice  `json:"device"`
	Origin              *DiscoveryOrigin `json:"origin,omitempty"`
}

// DiscoveryDevice is the device block shared by all entities.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// DiscoveryOrigin names the software publishing the configs.
type DiscoveryOrigin struct {
	Name      string `json:"name"`
	SWVersion string `json:"sw_version,omitempty"`
}

// DiscoveryConfig holds configuration for generating discovery payloads.
type DiscoveryConfig struct {
	DiscoveryPrefix string // default "homeassistant"
	BaseTopic       string // the status topic prefix
	DeviceName      string // station name shown in Home Assistant
	NodeID          string // typically the MQTT client id
	Version         string
}

// DiscoveryPublisher publishes retained discovery configs.
type DiscoveryPublisher struct {
	client Client
	config DiscoveryConfig
}

// NewDiscoveryPublisher creates a discovery publisher.
func NewDiscoveryPublisher(client Client, config *DiscoveryConfig) *DiscoveryPublisher {
	cfg := *config
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "OndePi"
	}
	return &DiscoveryPublisher{client: client, config: cfg}
}

// Payloads returns every discovery config keyed by its topic.
func (p *DiscoveryPublisher) Payloads() map[string]*DiscoveryPayload {
	nodeID := SanitizeID(p.config.NodeID)
	deviceID := fmt.Sprintf("%s_%s", deviceIDPrefix, nodeID)
	statusTopic := p.config.BaseTopic + "/status"
	availability := p.config.BaseTopic + "/availability"

	device := DiscoveryDevice{
		Identifiers:  []string{deviceID},
		Name:         p.config.DeviceName,
		Manufacturer: "OndePi",
		Model:        "Live source",
		SWVersion:    p.config.Version,
	}
	origin := &DiscoveryOrigin{Name: "OndePi", SWVersion: p.config.Version}

	entity := func(name, kind string, payload DiscoveryPayload) (string, *DiscoveryPayload) {
		payload.UniqueID = deviceID + "_" + name
		payload.AvailabilityTopic = availability
		payload.PayloadAvailable = payloadOnline
		payload.PayloadNotAvailable = payloadOffline
		payload.Device = device
		payload.Origin = origin
		if payload.StateTopic == "" {
			payload.StateTopic = statusTopic
		}
		return p.topic(kind, nodeID, name), &payload
	}

	out := make(map[string]*DiscoveryPayload, len(AllEntities))
	add := func(topic string, payload *DiscoveryPayload) { out[topic] = payload }

	add(entity(EntityStreaming, "binary_sensor", DiscoveryPayload{
		Name:          "Streaming",
		ValueTemplate: "{{ 'ON' if value_json.streaming else 'OFF' }}",
		DeviceClass:   "running",
		PayloadOn:     "ON",
		PayloadOff:    "OFF",
		Icon:          "mdi:broadcast",
	}))
	add(entity(EntityRMS, "sensor", DiscoveryPayload{
		Name:              "Input RMS",
		ValueTemplate:     "{{ (value_json.rms * 100) | round(1) }}",
		UnitOfMeasurement: "%",
		StateClass:        "measurement",
		Icon:              "mdi:volume-high",
	}))
	add(entity(EntityPeak, "sensor", DiscoveryPayload{
		Name:              "Input peak",
		ValueTemplate:     "{{ (value_json.peak * 100) | round(1) }}",
		UnitOfMeasurement: "%",
		StateClass:        "measurement",
		Icon:              "mdi:waveform",
	}))
	add(entity(EntityRetryCount, "sensor", DiscoveryPayload{
		Name:           "Encoder retries",
		ValueTemplate:  "{{ value_json.retry_count }}",
		StateClass:     "measurement",
		EntityCategory: "diagnostic",
		Icon:           "mdi:restart",
	}))
	add(entity(EntityLastError, "sensor", DiscoveryPayload{
		Name:           "Last error",
		ValueTemplate:  "{{ value_json.last_error | default('none') }}",
		EntityCategory: "diagnostic",
		Icon:           "mdi:alert-circle-outline",
	}))
	add(entity(EntityNowPlaying, "sensor", DiscoveryPayload{
		Name:          "Now playing",
		StateTopic:    p.config.BaseTopic + "/now_playing",
		ValueTemplate: "{{ value_json.song }}",
		Icon:          "mdi:music",
	}))
	return out
}

// Publish publishes all configs retained.
func (p *DiscoveryPublisher) Publish(ctx context.Context) error {
	log := GetLogger()
	payloads := p.Payloads()
	log.Info("publishing Home Assistant discovery messages",
		logger.Int("entity_count", len(payloads)),
		logger.String("discovery_prefix", p.config.DiscoveryPrefix))

	var errs []error
	for topic, payload := range payloads {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.New(err).Component(componentMQTT).Category(errors.CategoryMQTTPublish).Build()
		}
		if err := p.client.Publish(ctx, topic, string(data), true); err != nil {
			log.Error("failed to publish discovery config", logger.String("topic", topic), logger.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to publish discovery for %d of %d entities: %w", len(errs), len(payloads), errors.Join(errs...))
	}
	return nil
}

// Remove publishes empty retained payloads, deleting the entities.
func (p *DiscoveryPublisher) Remove(ctx context.Context) error {
	nodeID := SanitizeID(p.config.NodeID)
	var errs []error
	for _, name := range AllEntities {
		kind := "sensor"
		if name == EntityStreaming {
			kind = "binary_sensor"
		}
		if err := p.client.Publish(ctx, p.topic(kind, nodeID, name), "", true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *DiscoveryPublisher) topic(kind, nodeID, entity string) string {
	return fmt.Sprintf("%s/%s/%s/%s_%s/config", p.config.DiscoveryPrefix, kind, nodeID, nodeID, entity)
}
