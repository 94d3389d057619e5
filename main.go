package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tphakala/ondepi-go/cmd"
	"github.com/tphakala/ondepi-go/internal/conf"
)

func main() {
	settings := &conf.Settings{}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
