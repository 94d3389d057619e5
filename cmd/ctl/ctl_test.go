package ctl

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ondepi-go/internal/httpclient"
)

const base = "http://appliance.local:8090"

func newMockedClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	c := NewClient(base+"/", httpclient.New(&httpclient.Config{Transport: transport}))
	t.Cleanup(c.Close)
	return c, transport
}

func TestStatus(t *testing.T) {
	t.Parallel()

	c, transport := newMockedClient(t)
	transport.RegisterResponder(http.MethodGet, base+"/api/status",
		httpmock.NewStringResponder(http.StatusOK, `{"state":{"streaming":true}}`))

	var out bytes.Buffer
	require.NoError(t, c.Status(t.Context(), &out))
	assert.Equal(t, "{\n  \"state\": {\n    \"streaming\": true\n  }\n}\n", out.String())
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestPost(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		c, transport := newMockedClient(t)
		transport.RegisterResponder(http.MethodPost, base+"/api/stream/start",
			httpmock.NewStringResponder(http.StatusOK, `{"ok":true}`))

		var out bytes.Buffer
		require.NoError(t, c.Post(t.Context(), &out, "/api/stream/start"))
		assert.Equal(t, "ok\n", out.String())
	})

	t.Run("api error carries the message", func(t *testing.T) {
		t.Parallel()
		c, transport := newMockedClient(t)
		transport.RegisterResponder(http.MethodPost, base+"/api/stream/start",
			httpmock.NewStringResponder(http.StatusInternalServerError,
				`{"error":"stream server and mount must be configured","message":"Failed to start stream","code":500}`))

		err := c.Post(t.Context(), &bytes.Buffer{}, "/api/stream/start")
		require.Error(t, err)
		assert.Equal(t, "POST /api/stream/start: Failed to start stream: stream server and mount must be configured", err.Error())
	})

	t.Run("plain error body", func(t *testing.T) {
		t.Parallel()
		c, transport := newMockedClient(t)
		transport.RegisterResponder(http.MethodPost, base+"/api/stream/stop",
			httpmock.NewStringResponder(http.StatusNotFound, "not found"))

		err := c.Post(t.Context(), &bytes.Buffer{}, "/api/stream/stop")
		require.Error(t, err)

		var se *httpclient.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusNotFound, se.StatusCode)
	})

	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()
		c, _ := newMockedClient(t)
		require.Error(t, c.Post(t.Context(), &bytes.Buffer{}, "/api/stream/stop"))
	})
}
