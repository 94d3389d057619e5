// config.go: settings struct of the appliance and functions to load and save it.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// GeneralSettings controls supervision and retry behaviour.
type GeneralSettings struct {
	LogLevel                 string  `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	Reconnect                bool    `yaml:"reconnect" json:"reconnect" mapstructure:"reconnect"`                                                       // relaunch the encoder after unexpected exits
	BufferSeconds            float64 `yaml:"buffer_seconds" json:"buffer_seconds" mapstructure:"buffer_seconds"`                                        // bridge buffer between capture and encoder
	RetryInitialDelaySeconds float64 `yaml:"retry_initial_delay_seconds" json:"retry_initial_delay_seconds" mapstructure:"retry_initial_delay_seconds"` // first backoff delay
	RetryMaxDelaySeconds     float64 `yaml:"retry_max_delay_seconds" json:"retry_max_delay_seconds" mapstructure:"retry_max_delay_seconds"`             // 0 = uncapped
	RetryMaxAttempts         int     `yaml:"retry_max_attempts" json:"retry_max_attempts" mapstructure:"retry_max_attempts"`                            // 0 = unbounded
}

// InputSettings describes the capture device and the processing chain.
type InputSettings struct {
	ALSADevice     string  `yaml:"alsa_device" json:"alsa_device" mapstructure:"alsa_device"`
	SampleRate     int     `yaml:"sample_rate" json:"sample_rate" mapstructure:"sample_rate"`
	BitsPerSample  int     `yaml:"bits_per_sample" json:"bits_per_sample" mapstructure:"bits_per_sample"`
	Channels       int     `yaml:"channels" json:"channels" mapstructure:"channels"`
	LimiterEnabled bool    `yaml:"limiter_enabled" json:"limiter_enabled" mapstructure:"limiter_enabled"`
	LimiterDrive   float64 `yaml:"limiter_drive" json:"limiter_drive" mapstructure:"limiter_drive"`
}

// StreamSettings describes the encoder output and the ingest server.
type StreamSettings struct {
	Format      string `yaml:"format" json:"format" mapstructure:"format"` // mp3, aac or opus
	BitrateKbps int    `yaml:"bitrate_kbps" json:"bitrate_kbps" mapstructure:"bitrate_kbps"`
	BitrateMode string `yaml:"bitrate_mode" json:"bitrate_mode" mapstructure:"bitrate_mode"` // cbr or vbr
	Server      string `yaml:"server" json:"server" mapstructure:"server"`
	Port        int    `yaml:"port" json:"port" mapstructure:"port"`
	Mount       string `yaml:"mount" json:"mount" mapstructure:"mount"`
	Username    string `yaml:"username" json:"username" mapstructure:"username"`
	Password    string `yaml:"password" json:"password" mapstructure:"password"`
	ICY         bool   `yaml:"icy" json:"icy" mapstructure:"icy"` // send stream descriptors to the server
}

// IsConfigured reports whether an ingest target is set.
func (s *StreamSettings) IsConfigured() bool {
	return s.Server != "" && s.Mount != ""
}

// MetadataSettings holds station descriptors and now-playing push behaviour.
type MetadataSettings struct {
	Name                string `yaml:"name" json:"name" mapstructure:"name"`
	Description         string `yaml:"description" json:"description" mapstructure:"description"`
	Genre               string `yaml:"genre" json:"genre" mapstructure:"genre"`
	Public              bool   `yaml:"public" json:"public" mapstructure:"public"`
	Artist              string `yaml:"artist" json:"artist" mapstructure:"artist"`
	Track               string `yaml:"track" json:"track" mapstructure:"track"`
	PushEnabled         bool   `yaml:"push_enabled" json:"push_enabled" mapstructure:"push_enabled"`
	PushIntervalSeconds int    `yaml:"push_interval_seconds" json:"push_interval_seconds" mapstructure:"push_interval_seconds"`
	RetryAttempts       int    `yaml:"retry_attempts" json:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelaySeconds   int    `yaml:"retry_delay_seconds" json:"retry_delay_seconds" mapstructure:"retry_delay_seconds"`
}

// PushInterval returns the delay between metadata push cycles.
func (m *MetadataSettings) PushInterval() time.Duration {
	return time.Duration(m.PushIntervalSeconds) * time.Second
}

// RetryDelay returns the fixed delay between push retries within a cycle.
func (m *MetadataSettings) RetryDelay() time.Duration {
	return time.Duration(m.RetryDelaySeconds) * time.Second
}

// WebSettings configures the HTTP control surface.
type WebSettings struct {
	Bind    string `yaml:"bind" json:"bind" mapstructure:"bind"`
	Port    int    `yaml:"port" json:"port" mapstructure:"port"`
	Metrics bool   `yaml:"metrics" json:"metrics" mapstructure:"metrics"` // expose /metrics
}

// Address returns host:port for the listener.
func (w *WebSettings) Address() string {
	return fmt.Sprintf("%s:%d", w.Bind, w.Port)
}

// AzuraCastSettings configures the streamer metadata API of an AzuraCast station.
type AzuraCastSettings struct {
	Enabled     bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	APIURL      string `yaml:"api_url" json:"api_url" mapstructure:"api_url"`
	StationID   int    `yaml:"station_id" json:"station_id" mapstructure:"station_id"`
	AccessToken string `yaml:"access_token" json:"access_token" mapstructure:"access_token"`
}

// MQTTSettings configures status and now-playing publication.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Broker   string `yaml:"broker" json:"broker" mapstructure:"broker"` // tcp://host:1883
	ClientID string `yaml:"client_id" json:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" json:"username" mapstructure:"username"`
	Password string `yaml:"password" json:"password" mapstructure:"password"`
	Topic    string `yaml:"topic" json:"topic" mapstructure:"topic"` // topic prefix
	Retain   bool   `yaml:"retain" json:"retain" mapstructure:"retain"`

	StatusIntervalSeconds int    `yaml:"status_interval_seconds" json:"status_interval_seconds" mapstructure:"status_interval_seconds"`
	Discovery             bool   `yaml:"discovery" json:"discovery" mapstructure:"discovery"` // Home Assistant discovery
	DiscoveryPrefix       string `yaml:"discovery_prefix" json:"discovery_prefix" mapstructure:"discovery_prefix"`
}

// NotificationSettings configures operator alerts sent through shoutrrr URLs.
type NotificationSettings struct {
	Enabled         bool     `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	URLs            []string `yaml:"urls" json:"urls" mapstructure:"urls"`
	ThrottleMinutes int      `yaml:"throttle_minutes" json:"throttle_minutes" mapstructure:"throttle_minutes"` // identical alerts are suppressed for this long
}

// HistorySettings configures the encoder session log.
type HistorySettings struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" json:"path" mapstructure:"path"`
	Keep    int    `yaml:"keep" json:"keep" mapstructure:"keep"` // sessions retained, 0 = all
}

// TelemetrySettings configures error reporting.
type TelemetrySettings struct {
	Enabled   bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	SentryDSN string `yaml:"sentry_dsn" json:"sentry_dsn" mapstructure:"sentry_dsn"`
}

// FFmpegSettings locates the encoder binary.
type FFmpegSettings struct {
	Path string `yaml:"path" json:"path" mapstructure:"path"` // empty = look up in PATH
}

// Settings is the complete configuration of the appliance.
type Settings struct {
	General      GeneralSettings      `yaml:"general" json:"general" mapstructure:"general"`
	Input        InputSettings        `yaml:"input" json:"input" mapstructure:"input"`
	Stream       StreamSettings       `yaml:"stream" json:"stream" mapstructure:"stream"`
	Metadata     MetadataSettings     `yaml:"metadata" json:"metadata" mapstructure:"metadata"`
	Web          WebSettings          `yaml:"web" json:"web" mapstructure:"web"`
	AzuraCast    AzuraCastSettings    `yaml:"azuracast" json:"azuracast" mapstructure:"azuracast"`
	MQTT         MQTTSettings         `yaml:"mqtt" json:"mqtt" mapstructure:"mqtt"`
	Notification NotificationSettings `yaml:"notification" json:"notification" mapstructure:"notification"`
	History      HistorySettings      `yaml:"history" json:"history" mapstructure:"history"`
	Telemetry    TelemetrySettings    `yaml:"telemetry" json:"telemetry" mapstructure:"telemetry"`
	FFmpeg       FFmpegSettings       `yaml:"ffmpeg" json:"ffmpeg" mapstructure:"ffmpeg"`
	Logging      logger.LoggingConfig `yaml:"logging" json:"logging" mapstructure:"logging"`

	// ConfigPath is the file the settings were loaded from.
	ConfigPath string `yaml:"-" json:"-" mapstructure:"-"`
}

// Clone returns a deep copy of the settings.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	c := *s
	c.Notification.URLs = slices.Clone(s.Notification.URLs)
	c.Logging.ModuleLevels = maps.Clone(s.Logging.ModuleLevels)
	c.Logging.ModuleOutputs = maps.Clone(s.Logging.ModuleOutputs)
	if s.Logging.Console != nil {
		console := *s.Logging.Console
		c.Logging.Console = &console
	}
	if s.Logging.FileOutput != nil {
		file := *s.Logging.FileOutput
		c.Logging.FileOutput = &file
	}
	return &c
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file, environment overrides and defaults.
// An empty configPath searches the default locations and creates a default
// config file when none exists. Validation issues are not fatal here; the
// caller decides whether an incomplete stream target may start.
func Load(configPath string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	v := viper.New()
	if err := initViper(v, configPath); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-config").
			Build()
	}
	settings.ConfigPath = v.ConfigFileUsed()

	settingsInstance = settings
	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper(v *viper.Viper, configPath string) error {
	v.SetConfigType("yaml")
	setDefaultConfig(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return fmt.Errorf("error getting default config paths: %w", err)
		}
		for _, path := range configPaths {
			v.AddConfigPath(path)
		}
	}

	err := v.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &configFileNotFoundError), errors.Is(err, fs.ErrNotExist):
			if err := createDefaultConfig(v, configPath); err != nil {
				return err
			}
		default:
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
	}

	loadDotEnv(filepath.Dir(v.ConfigFileUsed()))
	return bindEnvVars(v)
}

// createDefaultConfig writes the embedded default config to configPath, or to
// the first default path when configPath is empty
func createDefaultConfig(v *viper.Viper, configPath string) error {
	if configPath == "" {
		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return fmt.Errorf("error getting default config paths: %w", err)
		}
		configPath = filepath.Join(configPaths[0], "config.yaml")
	}

	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, defaultConfig, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))

	v.SetConfigFile(configPath)
	return v.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "read-embedded-config").
			Build()
	}
	return data, nil
}

// GetSettings returns the most recently loaded settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath atomically.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	// rename is atomic on the same filesystem; moveFile covers cross-device setups
	if err := os.Rename(tempFileName, configPath); err != nil {
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return nil
}
