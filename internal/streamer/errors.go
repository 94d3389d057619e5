package streamer

import "github.com/tphakala/ondepi-go/internal/errors"

const componentStreamer = "streamer"

var (
	// ErrStreamTargetMissing is returned when no ingest server or mount is set.
	ErrStreamTargetMissing = errors.NewStd("stream server and mount must be configured")

	// ErrPipeBroken is recorded when encoder stdin stops accepting audio.
	ErrPipeBroken = errors.NewStd("Audio pipeline broken")
)

func configError(err error) error {
	return errors.New(err).
		Component(componentStreamer).
		Category(errors.CategoryConfiguration).
		Context("operation", "build_command").
		Build()
}

func launchError(err error, argv0 string) error {
	return errors.New(err).
		Component(componentStreamer).
		Category(errors.CategoryCommandExecution).
		Context("operation", "launch_encoder").
		Context("binary", argv0).
		Build()
}
