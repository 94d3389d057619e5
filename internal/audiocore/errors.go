package audiocore

import "github.com/tphakala/ondepi-go/internal/errors"

var (
	// ErrStreamStopped is reported when the device ends the stream on its own.
	ErrStreamStopped = errors.NewStd("audio stream stopped")

	// ErrNoDevice is returned by an Opener when no capture device matches.
	ErrNoDevice = errors.NewStd("no matching capture device")
)
