package training

import "github.com/xgstriker/bbd-server/internal/logger"

// GetLogger returns the training package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("training")
}
