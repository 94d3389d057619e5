package audiocore

import "github.com/tphakala/ondepi-go/internal/logger"

// GetLogger returns the capture engine logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("audio")
}
