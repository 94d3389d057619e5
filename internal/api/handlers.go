package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/ondepi-go/internal/appliance"
	"github.com/tphakala/ondepi-go/internal/audiocore"
	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/history"
	"github.com/tphakala/ondepi-go/internal/logger"
)

// maxTestSeconds caps the length of an input test.
const maxTestSeconds = 10

// OKResponse acknowledges a control action.
type OKResponse struct {
	OK bool `json:"ok"`
}

// DevicesResponse lists capture devices and the configured one.
type DevicesResponse struct {
	Devices []audiocore.DeviceInfo `json:"devices"`
	Current string                 `json:"current"`
}

// GainResponse echoes the applied gain.
type GainResponse struct {
	OK     bool    `json:"ok"`
	GainDB float64 `json:"gain_db"`
}

// GetStatus handles GET /api/status.
func (s *Server) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Status())
}

// GetDevices handles GET /api/devices. Enumeration is cached briefly since
// it probes every audio backend.
func (s *Server) GetDevices(c echo.Context) error {
	var devices []audiocore.DeviceInfo
	if cached, ok := s.devices.Get("devices"); ok {
		devices, _ = cached.([]audiocore.DeviceInfo)
	} else {
		found, err := s.app.Devices()
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, appliance.ErrNoCapture) {
				code = http.StatusServiceUnavailable
			}
			return s.HandleError(c, err, "Failed to list audio devices", code)
		}
		devices = found
		s.devices.Set("devices", devices, cache.DefaultExpiration)
	}
	if devices == nil {
		devices = []audiocore.DeviceInfo{}
	}
	return c.JSON(http.StatusOK, DevicesResponse{
		Devices: devices,
		Current: s.app.Settings().Input.ALSADevice,
	})
}

// TestInput handles POST /api/test-input. The optional seconds query
// parameter sets the recording length.
func (s *Server) TestInput(c echo.Context) error {
	d := time.Duration(0)
	if raw := c.QueryParam("seconds"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs <= 0 || secs > maxTestSeconds {
			return s.HandleError(c, err, "seconds must be a number between 0 and 10", http.StatusBadRequest)
		}
		d = time.Duration(secs * float64(time.Second))
	}

	_, res, err := s.app.TestInput(c.Request().Context(), d)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, appliance.ErrNoCapture) {
			code = http.StatusServiceUnavailable
		}
		return s.HandleError(c, err, "Input test failed", code)
	}
	return c.JSON(http.StatusOK, res)
}

// StartStream handles POST /api/stream/start.
func (s *Server) StartStream(c echo.Context) error {
	if err := s.app.Start(); err != nil {
		return s.HandleError(c, err, "Failed to start stream", http.StatusInternalServerError)
	}
	s.log.Info("stream started via API", logger.String("ip", c.RealIP()))
	return c.JSON(http.StatusOK, OKResponse{OK: true})
}

// StopStream handles POST /api/stream/stop.
func (s *Server) StopStream(c echo.Context) error {
	if err := s.app.Stop(); err != nil {
		return s.HandleError(c, err, "Failed to stop stream", http.StatusInternalServerError)
	}
	s.log.Info("stream stopped via API", logger.String("ip", c.RealIP()))
	return c.JSON(http.StatusOK, OKResponse{OK: true})
}

// GetConfig handles GET /api/config.
func (s *Server) GetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Settings())
}

// PutConfig handles PUT /api/config. The body replaces the whole config;
// omitted keys take their defaults.
func (s *Server) PutConfig(c echo.Context) error {
	next := conf.Defaults()
	if err := json.NewDecoder(c.Request().Body).Decode(next); err != nil {
		return s.HandleError(c, err, "Invalid config payload", http.StatusBadRequest)
	}
	if err := s.app.UpdateConfig(next); err != nil {
		return s.configError(c, err)
	}
	return c.JSON(http.StatusOK, s.app.Settings())
}

// PatchConfig handles PATCH /api/config, deep-merging the body into the
// current config.
func (s *Server) PatchConfig(c echo.Context) error {
	var patch map[string]any
	if err := json.NewDecoder(c.Request().Body).Decode(&patch); err != nil {
		return s.HandleError(c, err, "Invalid config payload", http.StatusBadRequest)
	}
	if err := s.app.PatchConfig(patch); err != nil {
		return s.configError(c, err)
	}
	return c.JSON(http.StatusOK, s.app.Settings())
}

func (s *Server) configError(c echo.Context, err error) error {
	var ve conf.ValidationError
	switch {
	case errors.As(err, &ve):
		resp := NewErrorResponse(err, "Invalid configuration", http.StatusBadRequest)
		resp.Issues = ve.Issues
		s.logError(c, resp, err)
		return c.JSON(http.StatusBadRequest, resp)
	case errors.IsCategory(err, errors.CategoryValidation):
		return s.HandleError(c, err, "Invalid configuration", http.StatusBadRequest)
	default:
		return s.HandleError(c, err, "Failed to save configuration", http.StatusInternalServerError)
	}
}

// SetGain handles POST /api/gain with {"gain_db": n}.
func (s *Server) SetGain(c echo.Context) error {
	var body map[string]any
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return s.HandleError(c, err, "gain_db must be number", http.StatusBadRequest)
	}
	db, ok := body["gain_db"].(float64)
	if !ok {
		return s.HandleError(c, nil, "gain_db must be number", http.StatusBadRequest)
	}
	s.app.SetGain(db)
	return c.JSON(http.StatusOK, GainResponse{OK: true, GainDB: db})
}

// HistoryResponse wraps the session list.
type HistoryResponse struct {
	Sessions []history.Session `json:"sessions"`
}

// GetHistory handles GET /api/history?limit=n.
func (s *Server) GetHistory(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return s.HandleError(c, err, "limit must be a non-negative integer", http.StatusBadRequest)
		}
		limit = n
	}
	sessions, err := s.app.History(c.Request().Context(), limit)
	if err != nil {
		return s.HandleError(c, err, "Failed to read session history", http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, HistoryResponse{Sessions: sessions})
}
