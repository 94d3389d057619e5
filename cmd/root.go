package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/ondepi-go/cmd/ctl"
	"github.com/tphakala/ondepi-go/cmd/devices"
	"github.com/tphakala/ondepi-go/cmd/probe"
	"github.com/tphakala/ondepi-go/cmd/serve"
	"github.com/tphakala/ondepi-go/cmd/validate"
	"github.com/tphakala/ondepi-go/internal/buildinfo"
	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/logger"
	"github.com/tphakala/ondepi-go/internal/privacy"
)

// RootCommand creates and returns the root command. settings is filled in
// before any subcommand runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var (
		configPath string
		debug      bool
		central    *logger.CentralLogger
	)

	rootCmd := &cobra.Command{
		Use:           "ondepi",
		Short:         "OndePi live audio source",
		Long:          "Capture a soundcard input and keep an Icecast or Shoutcast stream on air.",
		Version:       buildinfo.Current().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml (default: search standard locations)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	rootCmd.AddCommand(
		serve.Command(settings),
		devices.Command(),
		probe.Command(settings),
		validate.Command(settings),
		ctl.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := conf.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if debug {
			loaded.Logging.DefaultLevel = "debug"
		}
		*settings = *loaded

		central, err = logger.NewCentralLogger(&settings.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logger.SetGlobal(central)
		errors.SetPrivacyScrubber(privacy.ScrubMessage)
		return nil
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if central == nil {
			return nil
		}
		return central.Close()
	}

	return rootCmd
}
