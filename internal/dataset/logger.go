package dataset

import "github.com/xgstriker/bbd-server/internal/logger"

// GetLogger returns the dataset package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("dataset")
}
