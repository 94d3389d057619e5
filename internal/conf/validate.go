// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strings"
)

// Issue is a single validation finding tied to a config key.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// String renders the issue as "field message".
func (i Issue) String() string {
	return i.Field + " " + i.Message
}

// ValidationError represents a collection of validation issues
type ValidationError struct {
	Issues []Issue
}

// Error joins the issues with "; "
func (ve ValidationError) Error() string {
	return strings.Join(ve.Errors(), "; ")
}

// Errors returns the issues as "field message" strings
func (ve ValidationError) Errors() []string {
	out := make([]string, len(ve.Issues))
	for i, issue := range ve.Issues {
		out[i] = issue.String()
	}
	return out
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	issues := Validate(settings)
	if len(issues) > 0 {
		return ValidationError{Issues: issues}
	}
	return nil
}

// Errors returns the validation issues of settings as strings.
func Errors(settings *Settings) []string {
	return ValidationError{Issues: Validate(settings)}.Errors()
}

// Validate returns every validation issue of settings in a stable order.
func Validate(settings *Settings) []Issue {
	var issues []Issue
	add := func(field, message string) {
		issues = append(issues, Issue{Field: field, Message: message})
	}

	validateInput(&settings.Input, add)
	validateStream(&settings.Stream, add)
	validateAzuraCast(&settings.AzuraCast, add)
	validateMetadata(&settings.Metadata, add)
	validateGeneral(&settings.General, add)
	validateExtras(settings, add)

	return issues
}

type addIssue func(field, message string)

func validateInput(in *InputSettings, add addIssue) {
	if in.Channels != 1 && in.Channels != 2 {
		add("input.channels", "must be 1 or 2")
	}
	if in.SampleRate <= 0 {
		add("input.sample_rate", "must be > 0")
	}
	if in.LimiterDrive <= 0 {
		add("input.limiter_drive", "must be > 0")
	}
}

func validateStream(s *StreamSettings, add addIssue) {
	switch s.Format {
	case "mp3", "aac", "opus":
	default:
		add("stream.format", "must be mp3, aac, or opus")
	}
	if s.BitrateKbps <= 0 {
		add("stream.bitrate_kbps", "must be > 0")
	}
	if s.Server == "" {
		add("stream.server", "is required")
	}
	if s.Mount == "" {
		add("stream.mount", "is required")
	}
	if s.Port < 1 || s.Port > 65535 {
		add("stream.port", "must be 1-65535")
	}
}

func validateAzuraCast(a *AzuraCastSettings, add addIssue) {
	if !a.Enabled {
		return
	}
	if a.APIURL == "" {
		add("azuracast.api_url", "is required when enabled")
	}
	if a.StationID <= 0 {
		add("azuracast.station_id", "must be > 0")
	}
	if a.AccessToken == "" {
		add("azuracast.access_token", "is required when enabled")
	}
}

func validateMetadata(m *MetadataSettings, add addIssue) {
	if m.PushIntervalSeconds <= 0 {
		add("metadata.push_interval_seconds", "must be > 0")
	}
	if m.RetryAttempts < 0 {
		add("metadata.retry_attempts", "must be >= 0")
	}
	if m.RetryDelaySeconds < 0 {
		add("metadata.retry_delay_seconds", "must be >= 0")
	}
}

func validateGeneral(g *GeneralSettings, add addIssue) {
	if g.RetryInitialDelaySeconds < 0 {
		add("general.retry_initial_delay_seconds", "must be >= 0")
	}
	if g.RetryMaxDelaySeconds < 0 {
		add("general.retry_max_delay_seconds", "must be >= 0")
	}
	if g.RetryMaxAttempts < 0 {
		add("general.retry_max_attempts", "must be >= 0")
	}
}

// validateExtras covers the sections that integrate with other services.
func validateExtras(s *Settings, add addIssue) {
	if s.Web.Port < 1 || s.Web.Port > 65535 {
		add("web.port", "must be 1-65535")
	}

	if s.MQTT.Enabled {
		if s.MQTT.Broker == "" {
			add("mqtt.broker", "is required when enabled")
		} else if u, err := url.Parse(s.MQTT.Broker); err != nil || u.Host == "" {
			add("mqtt.broker", fmt.Sprintf("must be a URL such as tcp://host:1883, got %q", s.MQTT.Broker))
		}
		if s.MQTT.Topic == "" {
			add("mqtt.topic", "is required when enabled")
		}
	}

	if s.Notification.Enabled && len(s.Notification.URLs) == 0 {
		add("notification.urls", "at least one URL is required when enabled")
	}

	if s.History.Enabled && s.History.Path == "" {
		add("history.path", "is required when enabled")
	}

	if s.Telemetry.Enabled && s.Telemetry.SentryDSN == "" {
		add("telemetry.sentry_dsn", "is required when enabled")
	}
}
