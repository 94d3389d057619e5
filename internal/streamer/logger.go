package streamer

import "github.com/tphakala/ondepi-go/internal/logger"

// GetLogger returns the stream supervisor logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("streamer")
}
