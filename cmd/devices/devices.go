// Package devices lists the capture devices the audio backend can open.
package devices

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/ondepi-go/internal/audiocore"
	"github.com/tphakala/ondepi-go/internal/audiocore/sources/malgo"
)

// Command creates the devices command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return List(cmd.OutOrStdout(), malgo.Enumerator{})
		},
	}
}

// List prints the devices of e as a table.
func List(w io.Writer, e audiocore.Enumerator) error {
	found, err := e.Devices()
	if err != nil {
		return fmt.Errorf("failed to list capture devices: %w", err)
	}
	if len(found) == 0 {
		_, err := fmt.Fprintln(w, "No capture devices found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "INDEX\tID\tNAME\tDEFAULT")
	for _, d := range found {
		def := ""
		if d.IsDefault {
			def = "*"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", d.Index, d.ID, d.Name, def)
	}
	return tw.Flush()
}
