// Package ctl drives a running appliance through its control API.
package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/ondepi-go/internal/buildinfo"
	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/httpclient"
)

// Command creates the ctl command with its status, start and stop
// subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running appliance",
		Long:  "Query or control the appliance over its HTTP API. The host defaults to the local web port from the config.",
	}
	cmd.PersistentFlags().StringVar(&host, "host", "", "Base URL of the control API (default http://127.0.0.1:<web.port>)")

	client := func() *Client {
		base := host
		if base == "" {
			base = "http://127.0.0.1:" + strconv.Itoa(settings.Web.Port)
		}
		return NewClient(base, httpclient.New(&httpclient.Config{
			UserAgent: "ondepi-ctl/" + buildinfo.Current().GetVersion(),
		}))
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Print the appliance status",
			RunE: func(cmd *cobra.Command, args []string) error {
				c := client()
				defer c.Close()
				return c.Status(cmd.Context(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "start",
			Short: "Start streaming",
			RunE: func(cmd *cobra.Command, args []string) error {
				c := client()
				defer c.Close()
				return c.Post(cmd.Context(), cmd.OutOrStdout(), "/api/stream/start")
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop streaming",
			RunE: func(cmd *cobra.Command, args []string) error {
				c := client()
				defer c.Close()
				return c.Post(cmd.Context(), cmd.OutOrStdout(), "/api/stream/stop")
			},
		},
	)

	return cmd
}

// Client calls the control API of one appliance.
type Client struct {
	base string
	http *httpclient.Client
}

// NewClient returns a client for the API at base.
func NewClient(base string, hc *httpclient.Client) *Client {
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.Close()
}

// Status fetches /api/status and writes it indented to w.
func (c *Client) Status(ctx context.Context, w io.Writer) error {
	body, err := c.call(ctx, http.MethodGet, "/api/status")
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return fmt.Errorf("invalid status response: %w", err)
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(w)
	return err
}

// Post sends a control action and reports the result on w.
func (c *Client) Post(ctx context.Context, w io.Writer, path string) error {
	if _, err := c.call(ctx, http.MethodPost, path); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, "ok")
	return err
}

func (c *Client) call(ctx context.Context, method, path string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer httpclient.DrainAndClose(resp)

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("%s %s: %s: %s", method, path, apiErr.Message, apiErr.Error)
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, httpclient.CheckStatus(resp))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return body, nil
}
