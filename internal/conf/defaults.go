// defaults.go: default configuration values
package conf

import (
	"github.com/spf13/viper"

	"github.com/tphakala/ondepi-go/internal/logger"
)

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig(v *viper.Viper) {
	// General supervision
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.reconnect", true)
	v.SetDefault("general.buffer_seconds", 5)
	v.SetDefault("general.retry_initial_delay_seconds", 3)
	v.SetDefault("general.retry_max_delay_seconds", 30)
	v.SetDefault("general.retry_max_attempts", 0)

	// Capture input
	v.SetDefault("input.alsa_device", "hw:0,0")
	v.SetDefault("input.sample_rate", 44100)
	v.SetDefault("input.bits_per_sample", 16)
	v.SetDefault("input.channels", 2)
	v.SetDefault("input.limiter_enabled", true)
	v.SetDefault("input.limiter_drive", 1.5)

	// Encoder output
	v.SetDefault("stream.format", "mp3")
	v.SetDefault("stream.bitrate_kbps", 256)
	v.SetDefault("stream.bitrate_mode", "cbr")
	v.SetDefault("stream.server", "")
	v.SetDefault("stream.port", 8000)
	v.SetDefault("stream.mount", "")
	v.SetDefault("stream.username", "source")
	v.SetDefault("stream.password", "")
	v.SetDefault("stream.icy", true)

	// Station metadata
	v.SetDefault("metadata.name", "OndePi Live Source")
	v.SetDefault("metadata.description", "OndePi live input")
	v.SetDefault("metadata.genre", "Live")
	v.SetDefault("metadata.public", false)
	v.SetDefault("metadata.artist", "OndePi")
	v.SetDefault("metadata.track", "Live")
	v.SetDefault("metadata.push_enabled", true)
	v.SetDefault("metadata.push_interval_seconds", 30)
	v.SetDefault("metadata.retry_attempts", 2)
	v.SetDefault("metadata.retry_delay_seconds", 5)

	// Control surface
	v.SetDefault("web.bind", "0.0.0.0")
	v.SetDefault("web.port", 8090)
	v.SetDefault("web.metrics", true)

	v.SetDefault("azuracast.enabled", false)
	v.SetDefault("azuracast.api_url", "")
	v.SetDefault("azuracast.station_id", 0)
	v.SetDefault("azuracast.access_token", "")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "ondepi")
	v.SetDefault("mqtt.topic", "ondepi")
	v.SetDefault("mqtt.retain", true)
	v.SetDefault("mqtt.status_interval_seconds", 10)
	v.SetDefault("mqtt.discovery", false)
	v.SetDefault("mqtt.discovery_prefix", "homeassistant")

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.urls", []string{})
	v.SetDefault("notification.throttle_minutes", 15)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "ondepi.db")
	v.SetDefault("history.keep", 1000)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.sentry_dsn", "")

	v.SetDefault("ffmpeg.path", "")

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)
}

// Defaults returns settings populated only from default values.
func Defaults() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	// defaults always decode
	_ = v.Unmarshal(settings)
	return settings
}
