// Package httpclient is the shared outbound HTTP client used for metadata
// pushes and remote control calls. It applies a default deadline to every
// request, sets the user agent and reports each round trip to an optional
// observer hook.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/ondepi-go/internal/errors"
)

const (
	// DefaultTimeout applies when the request context has no deadline.
	DefaultTimeout = 30 * time.Second

	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 4
	defaultIdleConnTimeout     = 90 * time.Second
	defaultDialTimeout         = 10 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second

	defaultUserAgent = "OndePi"

	// bytes of a failed response kept in StatusError
	maxErrorBody = 512

	componentHTTPClient = "httpclient"
)

// Client wraps http.Client with per-request deadlines. Safe for concurrent use.
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	userAgent      string

	hookMu        sync.RWMutex
	afterResponse func(req *http.Request, resp *http.Response, err error, elapsed time.Duration)
}

// Config configures a Client. Zero fields take defaults.
type Config struct {
	DefaultTimeout time.Duration
	UserAgent      string
	// Transport overrides the pooled transport, mainly for tests.
	Transport http.RoundTripper
}

// New creates a client. A nil cfg uses defaults.
func New(cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Transport == nil {
		c.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   defaultDialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        defaultMaxIdleConns,
			MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
			IdleConnTimeout:     defaultIdleConnTimeout,
			TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		}
	}

	return &Client{
		client:         &http.Client{Transport: c.Transport},
		defaultTimeout: c.DefaultTimeout,
		userAgent:      c.UserAgent,
	}
}

// StandardClient exposes the underlying *http.Client, e.g. for httpmock.
func (c *Client) StandardClient() *http.Client {
	return c.client
}

// Do sends req bound to ctx. When ctx has no deadline the default timeout
// applies; the timeout covers reading the body, so callers must finish with
// the response before returning. The caller closes the body when err is nil.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.Newf("nil request").
			Component(componentHTTPClient).
			Category(errors.CategoryValidation).
			Build()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cancel := func() {}
	if _, ok := ctx.Deadline(); !ok && c.defaultTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
	}
	req = req.WithContext(ctx)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)

	c.hookMu.RLock()
	hook := c.afterResponse
	c.hookMu.RUnlock()
	if hook != nil {
		hook(req, resp, err, elapsed)
	}

	if err != nil {
		cancel()
		return nil, errors.New(err).
			Component(componentHTTPClient).
			Category(errors.CategoryNetwork).
			Context("method", req.Method).
			Context("host", req.URL.Host).
			Build()
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// PostJSON marshals body and POSTs it to url with the extra headers.
func (c *Client) PostJSON(ctx context.Context, url string, header http.Header, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.New(err).
			Component(componentHTTPClient).
			Category(errors.CategoryValidation).
			Context("operation", "marshal_body").
			Build()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(err).
			Component(componentHTTPClient).
			Category(errors.CategoryValidation).
			Context("operation", "create_request").
			Build()
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.Do(ctx, req)
}

// SetAfterResponseHook installs fn to observe every round trip. resp is nil
// when err is set.
func (c *Client) SetAfterResponseHook(fn func(req *http.Request, resp *http.Response, err error, elapsed time.Duration)) {
	c.hookMu.Lock()
	c.afterResponse = fn
	c.hookMu.Unlock()
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// StatusError is returned by CheckStatus for non-2xx responses.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "HTTP " + e.Status
	}
	return "HTTP " + e.Status + ": " + e.Body
}

// CheckStatus returns a *StatusError carrying the start of the body when the
// response is not 2xx. It does not close the body.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(bytes.TrimSpace(snippet)),
	}
}

// DrainAndClose discards the rest of the body so the connection is reused.
func DrainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
