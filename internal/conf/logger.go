// Package conf provides configuration management for the appliance.
package conf

import "github.com/tphakala/ondepi-go/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
// It is fetched on each call so it follows the central logger once installed.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
