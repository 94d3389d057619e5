// Package validate checks a configuration file without starting anything.
package validate

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/ondepi-go/internal/conf"
)

// Command creates the validate command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.OutOrStdout(), settings)
		},
	}
}

// Run prints every issue of settings and fails when there is any.
func Run(w io.Writer, settings *conf.Settings) error {
	issues := conf.Validate(settings)
	if len(issues) == 0 {
		_, _ = fmt.Fprintf(w, "%s: ok\n", displayPath(settings))
		return nil
	}

	_, _ = fmt.Fprintf(w, "%s: %d issue(s)\n", displayPath(settings), len(issues))
	for _, issue := range issues {
		_, _ = fmt.Fprintf(w, "  - %s\n", issue)
	}
	return conf.ValidationError{Issues: issues}
}

func displayPath(settings *conf.Settings) string {
	if settings.ConfigPath == "" {
		return "defaults"
	}
	return settings.ConfigPath
}
