// Package probe records a short sample from the configured input and
// reports its levels.
package probe

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/ondepi-go/internal/audiocore"
	"github.com/tphakala/ondepi-go/internal/audiocore/export"
	"github.com/tphakala/ondepi-go/internal/audiocore/sources/malgo"
	"github.com/tphakala/ondepi-go/internal/conf"
)

// Command creates the probe command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		seconds float64
		save    string
		device  string
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Record a short sample and print its levels",
		Long:  "Open the configured input, record a few seconds and print RMS and peak. Use --save to keep the sample as WAV.",
		RunE: func(cmd *cobra.Command, args []string) error {
			input := settings.Input
			if device != "" {
				input.ALSADevice = device
			}
			d := time.Duration(seconds * float64(time.Second))
			return Run(cmd.Context(), cmd.OutOrStdout(), malgo.NewOpener(), &input, d, save)
		},
	}

	cmd.Flags().Float64Var(&seconds, "seconds", export.DefaultProbeDuration.Seconds(), "Recording length in seconds")
	cmd.Flags().StringVar(&save, "save", "", "Write the recording to this WAV file")
	cmd.Flags().StringVar(&device, "device", "", "Override the configured capture device")

	return cmd
}

// Run records d from the device described by input and prints the result.
func Run(ctx context.Context, w io.Writer, opener audiocore.Opener, input *conf.InputSettings, d time.Duration, save string) error {
	if d <= 0 {
		return fmt.Errorf("recording length must be positive")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rec, res, err := export.ProbeDevice(ctx, opener, audiocore.DeviceConfigFromSettings(input), d)
	if err != nil {
		return fmt.Errorf("input probe failed: %w", err)
	}

	_, _ = fmt.Fprintf(w, "device:   %s\n", input.ALSADevice)
	_, _ = fmt.Fprintf(w, "frames:   %d (%s)\n", res.Frames, res.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "rms:      %.4f (%s)\n", res.RMS, dbfs(res.RMS))
	_, _ = fmt.Fprintf(w, "peak:     %.4f (%s)\n", res.Peak, dbfs(res.Peak))
	if res.Peak >= 1 {
		_, _ = fmt.Fprintln(w, "warning:  input is clipping, lower the capture level")
	}

	if save != "" {
		if err := rec.Save(save); err != nil {
			return fmt.Errorf("failed to save recording: %w", err)
		}
		_, _ = fmt.Fprintf(w, "saved:    %s\n", save)
	}
	return nil
}

func dbfs(v float64) string {
	if v <= 0 {
		return "-inf dBFS"
	}
	return fmt.Sprintf("%.1f dBFS", 20*math.Log10(v))
}
