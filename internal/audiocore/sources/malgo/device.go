package malgo

import (
	"encoding/hex"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/ondepi-go/internal/audiocore"
	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/logger"
)

const componentMalgo = "audiocore.malgo"

// backendForPlatform returns the malgo backend for the current platform.
func backendForPlatform() (malgo.Backend, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, errors.Newf("unsupported operating system: %s", runtime.GOOS).
			Component(componentMalgo).
			Category(errors.CategoryAudioSource).
			Context("os", runtime.GOOS).
			Build()
	}
}

func initContext() (*malgo.AllocatedContext, error) {
	backend, err := backendForPlatform()
	if err != nil {
		return nil, err
	}
	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, func(message string) {
		GetLogger().Debug("malgo", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return nil, errors.New(err).
			Component(componentMalgo).
			Category(errors.CategoryAudioSource).
			Context("operation", "init_context").
			Context("backend", runtime.GOOS).
			Build()
	}
	return ctx, nil
}

func releaseContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// Enumerator lists capture devices through malgo.
type Enumerator struct{}

// Devices returns the capture devices of the platform backend.
func (Enumerator) Devices() ([]audiocore.DeviceInfo, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}
	defer releaseContext(ctx)

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component(componentMalgo).
			Category(errors.CategoryAudioSource).
			Context("operation", "enumerate_devices").
			Build()
	}
	return describe(infos), nil
}

func describe(infos []malgo.DeviceInfo) []audiocore.DeviceInfo {
	devices := make([]audiocore.DeviceInfo, 0, len(infos))
	for i := range infos {
		name := infos[i].Name()
		// miniaudio's null device
		if strings.Contains(name, "Discard all samples") {
			continue
		}
		devices = append(devices, audiocore.DeviceInfo{
			Index:     i,
			Name:      name,
			ID:        decodeID(infos[i].ID.String()),
			IsDefault: infos[i].IsDefault == 1,
		})
	}
	return devices
}

// SelectDevice returns the index into devices of the device matching want.
// Matching order: "default"/"sysdefault"/empty picks the default device (or
// the first one), then exact name, exact decoded ID, and name substring.
func SelectDevice(devices []audiocore.DeviceInfo, want string) (int, error) {
	if want == "" || want == "default" || want == "sysdefault" {
		for i := range devices {
			if devices[i].IsDefault {
				return i, nil
			}
		}
		if len(devices) > 0 {
			return 0, nil
		}
	}

	for i := range devices {
		if devices[i].Name == want {
			return i, nil
		}
	}
	for i := range devices {
		if devices[i].ID == want {
			return i, nil
		}
	}
	for i := range devices {
		if want != "" && strings.Contains(devices[i].Name, want) {
			return i, nil
		}
	}

	return -1, errors.New(audiocore.ErrNoDevice).
		Component(componentMalgo).
		Category(errors.CategoryNotFound).
		Context("device_name", want).
		Context("available_devices", len(devices)).
		Build()
}

// decodeID returns the ASCII form of a hex encoded malgo device id, or the
// raw string when it is not valid hex.
func decodeID(hexID string) string {
	b, err := hex.DecodeString(hexID)
	if err != nil {
		return hexID
	}
	return strings.TrimRight(string(b), "\x00")
}
