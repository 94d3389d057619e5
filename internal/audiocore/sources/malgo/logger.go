package malgo

import "github.com/tphakala/ondepi-go/internal/logger"

// GetLogger returns the capture backend logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("audio.malgo")
}
