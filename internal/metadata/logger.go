package metadata

import "github.com/tphakala/ondepi-go/internal/logger"

// GetLogger returns the metadata publisher logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("metadata")
}
