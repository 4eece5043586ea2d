package datastore

import "github.com/xgstriker/bbd-server/internal/logger"

// GetLogger returns the datastore package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("datastore")
}
