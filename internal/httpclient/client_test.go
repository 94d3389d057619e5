package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ondepi-go/internal/errors"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	c := New(nil)
	assert.Equal(t, DefaultTimeout, c.defaultTimeout)
	assert.Equal(t, defaultUserAgent, c.userAgent)

	c = New(&Config{DefaultTimeout: 5 * time.Second, UserAgent: "probe/1"})
	assert.Equal(t, 5*time.Second, c.defaultTimeout)
	assert.Equal(t, "probe/1", c.userAgent)
}

func TestPostJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		assert.Equal(t, defaultUserAgent, r.Header.Get("User-Agent"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Artist - Track", body["song"])
		w.WriteHeader(http.StatusNoContent)
	})
	client := newTestClient(t, nil)

	header := http.Header{}
	header.Set("Authorization", "Bearer abc")
	resp, err := client.PostJSON(t.Context(), server.URL, header, map[string]string{"song": "Artist - Track"})
	require.NoError(t, err)
	defer DrainAndClose(resp)
	assert.NoError(t, CheckStatus(resp))
}

func TestCheckStatus(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "  invalid API key\n")
	})
	client := newTestClient(t, nil)

	resp, err := client.PostJSON(t.Context(), server.URL, nil, struct{}{})
	require.NoError(t, err)
	defer DrainAndClose(resp)

	err = CheckStatus(resp)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, "HTTP 403 Forbidden: invalid API key", err.Error())
}

func TestDefaultTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	client := newTestClient(t, &Config{DefaultTimeout: 50 * time.Millisecond})

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	start := time.Now()
	_, err = client.Do(t.Context(), req)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAfterResponseHook(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	client := newTestClient(t, nil)

	var calls atomic.Int32
	var lastStatus atomic.Int32
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error, elapsed time.Duration) {
		calls.Add(1)
		assert.GreaterOrEqual(t, elapsed, time.Duration(0))
		if err == nil {
			lastStatus.Store(int32(resp.StatusCode)) //nolint:gosec // HTTP status fits
		}
	})

	for range 3 {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
		require.NoError(t, err)
		resp, err := client.Do(t.Context(), req)
		require.NoError(t, err)
		DrainAndClose(resp)
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(http.StatusOK), lastStatus.Load())
}

func TestDoNilRequest(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Do(t.Context(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}
