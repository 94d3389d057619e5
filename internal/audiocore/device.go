package audiocore

import "github.com/tphakala/ondepi-go/internal/conf"

// DeviceConfig selects and configures a capture device.
type DeviceConfig struct {
	DeviceID   string // backend device id or name substring; "default" picks the system default
	SampleRate int
	Channels   int
}

// DeviceConfigFromSettings maps input settings to a device config.
func DeviceConfigFromSettings(in *conf.InputSettings) DeviceConfig {
	return DeviceConfig{
		DeviceID:   in.ALSADevice,
		SampleRate: in.SampleRate,
		Channels:   in.Channels,
	}
}

// DeviceInfo describes a capture device found by enumeration.
type DeviceInfo struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	ID        string `json:"id"`
	IsDefault bool   `json:"is_default"`
}

// Session is an open, started capture stream.
type Session interface {
	// Active reports whether the device is still delivering blocks.
	Active() bool
	// Err returns the reason the stream ended, nil while active or after a clean stop.
	Err() error
	// Close stops the stream and releases the device. It is safe to call more than once.
	Close() error
}

// Opener opens capture sessions. onData is called from the backend's audio
// thread for every block until the session is closed.
type Opener interface {
	Open(cfg DeviceConfig, onData func(*Block)) (Session, error)
}

// Enumerator lists available capture devices.
type Enumerator interface {
	Devices() ([]DeviceInfo, error)
}
