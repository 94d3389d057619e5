// env.go - environment variable overrides
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tphakala/ondepi-go/internal/logger"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"general.log_level", "ONDEPI_LOG_LEVEL", validateEnvLogLevel},
		{"general.reconnect", "ONDEPI_RECONNECT", validateEnvBool},

		{"input.alsa_device", "ONDEPI_INPUT_DEVICE", nil},
		{"input.sample_rate", "ONDEPI_INPUT_SAMPLE_RATE", validateEnvPositiveInt},
		{"input.channels", "ONDEPI_INPUT_CHANNELS", validateEnvChannels},

		// ingest credentials are usually kept out of config.yaml
		{"stream.server", "ONDEPI_STREAM_SERVER", nil},
		{"stream.port", "ONDEPI_STREAM_PORT", validateEnvPort},
		{"stream.mount", "ONDEPI_STREAM_MOUNT", nil},
		{"stream.username", "ONDEPI_STREAM_USERNAME", nil},
		{"stream.password", "ONDEPI_STREAM_PASSWORD", nil},

		{"azuracast.api_url", "ONDEPI_AZURACAST_API_URL", nil},
		{"azuracast.access_token", "ONDEPI_AZURACAST_ACCESS_TOKEN", nil},

		{"mqtt.password", "ONDEPI_MQTT_PASSWORD", nil},
		{"telemetry.sentry_dsn", "ONDEPI_SENTRY_DSN", nil},

		{"web.port", "ONDEPI_WEB_PORT", validateEnvPort},
		{"ffmpeg.path", "ONDEPI_FFMPEG_PATH", nil},
	}
}

// loadDotEnv loads a .env file from dir into the process environment.
// Variables already set in the environment win.
func loadDotEnv(dir string) {
	if dir == "" {
		return
	}
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		GetLogger().Warn("failed to load .env file",
			logger.String("path", path),
			logger.Error(err))
	}
}

// bindEnvVars binds environment variables and validates values that are set.
// Invalid values are reported as an error; the binding stays in place.
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("must be one of trace, debug, info, warn, error")
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvChannels(value string) error {
	if value != "1" && value != "2" {
		return fmt.Errorf("must be 1 or 2")
	}
	return nil
}

func validateEnvPort(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("must be 1-65535")
	}
	return nil
}
