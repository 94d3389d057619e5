package conf

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	s := Defaults()

	assert.Equal(t, "info", s.General.LogLevel)
	assert.True(t, s.General.Reconnect)
	assert.InDelta(t, 3.0, s.General.RetryInitialDelaySeconds, 0)
	assert.InDelta(t, 30.0, s.General.RetryMaxDelaySeconds, 0)
	assert.Equal(t, 0, s.General.RetryMaxAttempts)
	assert.InDelta(t, 5.0, s.General.BufferSeconds, 0)

	assert.Equal(t, "hw:0,0", s.Input.ALSADevice)
	assert.Equal(t, 44100, s.Input.SampleRate)
	assert.Equal(t, 2, s.Input.Channels)
	assert.True(t, s.Input.LimiterEnabled)
	assert.InDelta(t, 1.5, s.Input.LimiterDrive, 0)

	assert.Equal(t, "mp3", s.Stream.Format)
	assert.Equal(t, 256, s.Stream.BitrateKbps)
	assert.Equal(t, 8000, s.Stream.Port)
	assert.Equal(t, "source", s.Stream.Username)
	assert.False(t, s.Stream.IsConfigured())

	assert.Equal(t, "OndePi Live Source", s.Metadata.Name)
	assert.Equal(t, 30, s.Metadata.PushIntervalSeconds)
	assert.Equal(t, 2, s.Metadata.RetryAttempts)
	assert.Equal(t, "0.0.0.0:8090", s.Web.Address())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
stream:
  server: radio.example.com
  mount: /live
  password: hackme
input:
  channels: 1
  alsa_device: "hw:1,0"
`)

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, s.ConfigPath)
	assert.Equal(t, "radio.example.com", s.Stream.Server)
	assert.Equal(t, "/live", s.Stream.Mount)
	assert.Equal(t, 1, s.Input.Channels)
	assert.Equal(t, "hw:1,0", s.Input.ALSADevice)
	// untouched keys keep defaults
	assert.Equal(t, 44100, s.Input.SampleRate)
	assert.Equal(t, "mp3", s.Stream.Format)
	assert.Same(t, s, GetSettings())
}

func TestLoadFractionalBufferSeconds(t *testing.T) {
	path := writeConfig(t, "general:\n  buffer_seconds: 0.5\nstream:\n  server: s\n  mount: m\n")

	s, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, s.General.BufferSeconds, 0)
}

func TestLoadCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	s, err := Load(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, "mp3", s.Stream.Format)
	assert.Equal(t, 8090, s.Web.Port)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "stream:\n  server: from-file\n  mount: live\n")
	t.Setenv("ONDEPI_STREAM_SERVER", "from-env")
	t.Setenv("ONDEPI_STREAM_PASSWORD", "envsecret")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", s.Stream.Server)
	assert.Equal(t, "envsecret", s.Stream.Password)
}

func TestLoadDotEnv(t *testing.T) {
	path := writeConfig(t, "stream:\n  server: s\n  mount: m\n")
	envFile := filepath.Join(filepath.Dir(path), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("ONDEPI_AZURACAST_ACCESS_TOKEN=dotenv-token\n"), 0o600))
	t.Setenv("ONDEPI_AZURACAST_ACCESS_TOKEN", "")
	require.NoError(t, os.Unsetenv("ONDEPI_AZURACAST_ACCESS_TOKEN"))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "dotenv-token", s.AzuraCast.AccessToken)
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	path := writeConfig(t, "stream:\n  server: s\n  mount: m\n")
	t.Setenv("ONDEPI_STREAM_PORT", "99999")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ONDEPI_STREAM_PORT")
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	s := Defaults()
	s.Stream.Server = "ice.example"
	s.Stream.Mount = "studio"
	s.Metadata.Track = "Morning Show"
	require.NoError(t, SaveYAMLConfig(path, s))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ice.example", loaded.Stream.Server)
	assert.Equal(t, "Morning Show", loaded.Metadata.Track)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not be left behind")
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	s := Defaults()
	s.Notification.URLs = []string{"ntfy://a"}
	c := s.Clone()
	c.Notification.URLs[0] = "ntfy://b"
	c.Logging.Console.Level = "debug"

	assert.Equal(t, "ntfy://a", s.Notification.URLs[0])
	assert.Equal(t, "info", s.Logging.Console.Level)
}

func TestClonePreservesEmptySlices(t *testing.T) {
	t.Parallel()

	t.Run("empty stays empty", func(t *testing.T) {
		t.Parallel()
		s := Defaults()
		s.Notification.URLs = []string{}
		c := s.Clone()
		assert.NotNil(t, c.Notification.URLs)
		assert.Empty(t, c.Notification.URLs)
		assert.True(t, reflect.DeepEqual(s.Notification, c.Notification))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		t.Parallel()
		s := Defaults()
		s.Notification.URLs = nil
		assert.Nil(t, s.Clone().Notification.URLs)
	})
}
