// Package v1 implements the JSON API: training triggers, run status and
// history, and label replacement.
package v1

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	mw "github.com/xgstriker/bbd-server/internal/api/middleware"
	"github.com/xgstriker/bbd-server/internal/datastore/entities"
	"github.com/xgstriker/bbd-server/internal/datastore/repository"
	"github.com/xgstriker/bbd-server/internal/logger"
	"github.com/xgstriker/bbd-server/internal/training"
)

// Default values for the controller.
const (
	DefaultHistoryTTL   = 10 * time.Second
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)

// Coordinator is the training surface the API drives.
type Coordinator interface {
	Start(ctx context.Context, modelType string) (*training.Run, error)
	Status() *training.StatusRegistry
	History(ctx context.Context, modelType string, limit int) ([]*entities.TrainingRun, error)
}

// Images replaces the labels of an image.
type Images interface {
	ReplaceObjects(ctx context.Context, imageID uint, objects []entities.DetectionObject) (*entities.Image, error)
}

// Controller manages the API routes and handlers.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	coordinator  Coordinator
	images       Images
	historyCache *cache.Cache
	triggerMW    []echo.MiddlewareFunc
	startTime    time.Time
	logger       logger.Logger
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithHistoryTTL sets how long run history responses are cached.
func WithHistoryTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		if ttl > 0 {
			c.historyCache = cache.New(ttl, 2*ttl)
		}
	}
}

// WithTriggerMiddleware adds middleware applied only to training triggers.
func WithTriggerMiddleware(m ...echo.MiddlewareFunc) Option {
	return func(c *Controller) {
		c.triggerMW = append(c.triggerMW, m...)
	}
}

// New creates the controller and registers its routes on e.
func New(e *echo.Echo, coordinator Coordinator, images Images, opts ...Option) *Controller {
	c := &Controller{
		Echo:         e,
		coordinator:  coordinator,
		images:       images,
		historyCache: cache.New(DefaultHistoryTTL, 2*DefaultHistoryTTL),
		startTime:    time.Now(),
		logger:       GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Group = e.Group("/api/v1")
	c.initRoutes()
	return c
}

// GetLogger returns the v1 API logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api").Module("v1")
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)

	c.Group.POST("/training/:type", c.StartTraining, c.triggerMW...)
	c.Group.GET("/training/:type/status", c.GetTrainingStatus)
	c.Group.GET("/training/:type/runs", c.ListRuns)
	c.Group.GET("/training/status", c.ListTrainingStatus)

	c.Group.PUT("/images/:id/objects", c.ReplaceImageObjects)

	// Original trigger routes, one per model type.
	c.Echo.POST("/train-object", c.legacyTrigger("Object"), c.triggerMW...)
	c.Echo.POST("/train-money", c.legacyTrigger("Money"), c.triggerMW...)
}

// HealthCheck reports liveness and uptime.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	uptime := time.Since(c.startTime)
	return ctx.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// HandleError logs err and writes an ErrorResponse carrying the request's correlation id.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := &ErrorResponse{
		Message:       message,
		Code:          code,
		CorrelationID: mw.RequestID(ctx),
	}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Error = message
	}

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		c.logger.Error("API error", fields...)
	} else {
		c.logger.Debug("API error", fields...)
	}

	return ctx.JSON(code, resp)
}

func (c *Controller) historyKey(modelType string, limit int) string {
	return fmt.Sprintf("%s:%d", modelType, limit)
}

// invalidateHistory drops cached history pages of modelType.
func (c *Controller) invalidateHistory(modelType string) {
	prefix := modelType + ":"
	for key := range c.historyCache.Items() {
		if strings.HasPrefix(key, prefix) {
			c.historyCache.Delete(key)
		}
	}
}

var _ Images = (repository.ImageRepository)(nil)
