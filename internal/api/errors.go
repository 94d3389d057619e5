package api

import (
	"crypto/rand"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/logger"
	"github.com/tphakala/ondepi-go/internal/privacy"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error         string       `json:"error"`
	Message       string       `json:"message"`
	Code          int          `json:"code"`
	CorrelationID string       `json:"correlation_id"` // Unique identifier for tracking this error
	Issues        []conf.Issue `json:"issues,omitempty"`
}

// NewErrorResponse creates a new API error response. URLs in the error text
// are scrubbed since messages may carry ingest or broker credentials.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = privacy.ScrubMessage(err.Error())
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates a short random identifier for error tracking.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError logs err and writes an error response with code.
func (s *Server) HandleError(c echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)
	s.logError(c, resp, err)
	return c.JSON(code, resp)
}

func (s *Server) logError(c echo.Context, resp *ErrorResponse, err error) {
	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", resp.Message),
		logger.Int("code", resp.Code),
		logger.String("path", c.Request().URL.Path),
		logger.String("ip", c.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if resp.Code >= 500 {
		s.log.Error("API error", fields...)
		return
	}
	s.log.Warn("API request rejected", fields...)
}
