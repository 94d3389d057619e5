package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	method string
	path   string
	code   int
}

type recorder struct {
	mu   sync.Mutex
	seen []request
}

func (r *recorder) RecordRequest(method, path string, code int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, request{method, path, code})
}

func newEcho(rec RequestRecorder, skipper func(echo.Context) bool) *echo.Echo {
	e := echo.New()
	e.Use(NewRequestLoggerWithSkipper(nil, rec, skipper))
	e.GET("/api/items/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Param("id"))
	})
	e.GET("/metrics", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return e
}

func TestRequestLoggerRecordsRoutePattern(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	e := newEcho(rec, func(c echo.Context) bool { return c.Path() == "/metrics" })

	for _, target := range []string{"/api/items/1", "/api/items/2", "/metrics", "/nope"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, http.NoBody))
	}

	require.Len(t, rec.seen, 3)
	assert.Equal(t, request{http.MethodGet, "/api/items/:id", http.StatusOK}, rec.seen[0])
	assert.Equal(t, rec.seen[0], rec.seen[1])
	assert.Equal(t, http.StatusNotFound, rec.seen[2].code)
	assert.NotEqual(t, "/nope", rec.seen[2].path)
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	cfg := DefaultSecurityConfig()
	e := echo.New()
	e.Use(NewCORS(cfg), NewSecureHeaders(cfg), NewBodyLimit("16B"))
	e.POST("/api/gain", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	t.Run("headers", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, "/api/gain", strings.NewReader("{}"))
		req.Header.Set(echo.HeaderOrigin, "http://studio.local")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
		assert.Equal(t, "DENY", rec.Header().Get(echo.HeaderXFrameOptions))
		assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))
		assert.Equal(t, "default-src 'none'", rec.Header().Get(echo.HeaderContentSecurityPolicy))
	})

	t.Run("body limit", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, "/api/gain", strings.NewReader(`{"gain_db": 1.23456789}`))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}
