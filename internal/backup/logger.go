package backup

import "github.com/xgstriker/bbd-server/internal/logger"

// GetLogger returns the backup package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("backup")
}
