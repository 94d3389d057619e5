package notification

import "github.com/tphakala/ondepi-go/internal/logger"

// GetLogger returns the notification module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("notification")
}
