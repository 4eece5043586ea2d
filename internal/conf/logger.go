// Package conf provides configuration management for the training server.
package conf

import "github.com/xgstriker/bbd-server/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
