package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	mw "github.com/tphakala/ondepi-go/internal/api/middleware"
	"github.com/tphakala/ondepi-go/internal/appliance"
	"github.com/tphakala/ondepi-go/internal/audiocore"
	"github.com/tphakala/ondepi-go/internal/audiocore/export"
	"github.com/tphakala/ondepi-go/internal/buildinfo"
	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/history"
	"github.com/tphakala/ondepi-go/internal/logger"
	"github.com/tphakala/ondepi-go/internal/observability"
	"github.com/tphakala/ondepi-go/internal/status"
)

// Appliance is the control surface the handlers drive.
type Appliance interface {
	Start() error
	Stop() error
	Status() appliance.StatusReport
	Settings() *conf.Settings
	UpdateConfig(next *conf.Settings) error
	PatchConfig(patch map[string]any) error
	SetGain(db float64)
	Snapshot() status.Snapshot
	Devices() ([]audiocore.DeviceInfo, error)
	TestInput(ctx context.Context, d time.Duration) (*export.Recorder, export.Result, error)
	History(ctx context.Context, limit int) ([]history.Session, error)
}

var _ Appliance = (*appliance.Appliance)(nil)

// deviceCacheTTL bounds how often devices are enumerated.
const deviceCacheTTL = 10 * time.Second

// Server is the HTTP server of the appliance.
type Server struct {
	echo    *echo.Echo
	config  *Config
	app     Appliance
	metrics *observability.Metrics
	log     logger.Logger
	build   *buildinfo.Context

	devices *cache.Cache

	// Lifecycle management; level feeds are hijacked connections that
	// echo's Shutdown does not wait for
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithMetrics records request metrics and, when enabled in the config,
// serves /metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithConfig replaces the config derived from the web settings.
func WithConfig(cfg *Config) ServerOption {
	return func(s *Server) {
		s.config = cfg
	}
}

// New creates the HTTP server for app.
func New(app Appliance, opts ...ServerOption) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		app:       app,
		log:       GetLogger(),
		build:     buildinfo.Current(),
		devices:   cache.New(deviceCacheTTL, 2*deviceCacheTTL),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.config == nil {
		web := app.Settings().Web
		s.config = ConfigFromSettings(&web)
	}
	if err := s.config.Validate(); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.WriteTimeout
	s.echo.Server.IdleTimeout = s.config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", s.config.Address()),
		logger.Bool("metrics", s.config.Metrics && s.metrics != nil))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())

	var rec mw.RequestRecorder
	if s.metrics != nil {
		rec = s.metrics.HTTP
	}
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, rec, func(c echo.Context) bool {
		return c.Path() == "/metrics"
	}))

	securityConfig := mw.DefaultSecurityConfig()
	securityConfig.AllowedOrigins = s.config.AllowedOrigins
	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	g := s.echo.Group("/api")
	g.GET("/status", s.GetStatus)
	g.GET("/devices", s.GetDevices)
	g.POST("/test-input", s.TestInput)
	g.POST("/stream/start", s.StartStream)
	g.POST("/stream/stop", s.StopStream)
	g.GET("/config", s.GetConfig)
	g.PUT("/config", s.PutConfig)
	g.PATCH("/config", s.PatchConfig)
	g.POST("/gain", s.SetGain)
	g.GET("/history", s.GetHistory)
	g.GET("/levels/ws", s.LevelFeed)

	if s.config.Metrics && s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

// ServeHTTP lets the server be mounted in tests without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)

	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        s.build.GetVersion(),
		"build_date":     s.build.GetBuildDate(),
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.startBlocking() }()

	select {
	case err := <-errCh:
		s.cancel()
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// startBlocking begins serving HTTP requests and blocks until the server is shut down.
func (s *Server) startBlocking() error {
	addr := s.config.Address()
	s.log.Info("starting HTTP server", logger.String("address", addr))

	err := s.echo.Start(addr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server and closes level feeds.
func (s *Server) Shutdown() error {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	err := s.echo.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
