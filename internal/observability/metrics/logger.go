// Package metrics defines the Prometheus collectors of the appliance.
package metrics

import "github.com/tphakala/ondepi-go/internal/logger"

// GetLogger returns the metrics logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("metrics")
}
