// Package serve runs the appliance: audio capture, the stream supervisor and
// the control API.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/ondepi-go/internal/api"
	"github.com/tphakala/ondepi-go/internal/appliance"
	"github.com/tphakala/ondepi-go/internal/audiocore/sources/malgo"
	"github.com/tphakala/ondepi-go/internal/buildinfo"
	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/logger"
	"github.com/tphakala/ondepi-go/internal/observability"
)

const sentryFlushTimeout = 2 * time.Second

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	var start bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live source appliance",
		Long:  "Capture the configured input, serve the control API and keep the encoder on air once started.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings, start)
		},
	}

	cmd.Flags().BoolVar(&start, "start", false, "Start streaming immediately instead of waiting for /api/stream/start")

	return cmd
}

// Run serves until SIGINT or SIGTERM.
func Run(ctx context.Context, settings *conf.Settings, start bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Global().Module("serve")
	build := buildinfo.Current()
	log.Info("starting OndePi",
		logger.String("version", build.GetVersion()),
		logger.String("build_date", build.GetBuildDate()),
		logger.String("config", settings.ConfigPath))

	if settings.Telemetry.Enabled {
		if err := errors.InitSentry(settings.Telemetry.SentryDSN, build.GetVersion()); err != nil {
			log.Warn("error reporting disabled", logger.Error(err))
		} else {
			defer errors.FlushSentry(sentryFlushTimeout)
		}
	}

	ffmpeg, err := conf.ResolveFfmpegPath(settings.FFmpeg.Path)
	if err != nil {
		// the stream stays stopped until ffmpeg is installed or configured
		log.Warn("ffmpeg not found", logger.Error(err))
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	app, err := appliance.New(settings, appliance.Options{
		Opener:      malgo.NewOpener(),
		Enumerator:  malgo.Enumerator{},
		FFmpegPath:  ffmpeg,
		Version:     build.GetVersion(),
		Metrics:     metrics,
		StartStream: start,
	})
	if err != nil {
		return err
	}

	server, err := api.New(app, api.WithMetrics(metrics))
	if err != nil {
		app.Close()
		return err
	}

	if err := app.Run(ctx, server.Run); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
