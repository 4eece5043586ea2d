package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/xgstriker/bbd-server/internal/api/middleware"
	v1 "github.com/xgstriker/bbd-server/internal/api/v1"
	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/logger"
	"github.com/xgstriker/bbd-server/internal/observability"
)

// Server is the HTTP server. It owns the Echo instance, the middleware stack
// and the v1 controller.
type Server struct {
	echo   *echo.Echo
	config *Config
	log    logger.Logger

	coordinator v1.Coordinator
	images      v1.Images
	metrics     *observability.Metrics

	apiController *v1.Controller
	errCh         chan error
	startTime     time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithCoordinator sets the training coordinator.
func WithCoordinator(c v1.Coordinator) ServerOption {
	return func(s *Server) {
		s.coordinator = c
	}
}

// WithImages sets the image repository used for label replacement.
func WithImages(images v1.Images) ServerOption {
	return func(s *Server) {
		s.images = images
	}
}

// WithMetrics enables request metrics and the /metrics endpoint.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	return NewWithConfig(ConfigFromSettings(settings), opts...)
}

// NewWithConfig creates a server from an explicit Config.
func NewWithConfig(config *Config, opts ...ServerOption) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		log:       GetLogger(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.coordinator == nil {
		return nil, fmt.Errorf("training coordinator is required")
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Listen),
		logger.Bool("metrics", s.metrics != nil),
		logger.Float64("rate_limit", config.RateLimit))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestID())
	s.echo.Use(mw.NewRequestLogger(s.log.Module("http")))
	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}
	s.echo.Use(mw.NewCORS(mw.SecurityConfig{AllowedOrigins: s.config.AllowedOrigins}))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders())
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	rateCfg := mw.RateLimitConfig{
		RequestsPerSecond: s.config.RateLimit,
		Burst:             s.config.RateBurst,
	}
	if s.metrics != nil {
		rateCfg.Recorder = s.metrics.HTTP
	}

	s.apiController = v1.New(s.echo, s.coordinator, s.images,
		v1.WithHistoryTTL(s.config.HistoryTTL),
		v1.WithTriggerMiddleware(mw.NewRateLimiter(rateCfg)))
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Start begins serving in a background goroutine and returns immediately.
// Errors other than a clean shutdown are delivered on Errors.
func (s *Server) Start() {
	s.errCh = make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", logger.String("address", s.config.Listen))
		if err := s.echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", logger.Error(err))
			s.errCh <- fmt.Errorf("server error: %w", err)
		}
		close(s.errCh)
	}()
}

// Errors returns the channel that receives a fatal serve error. It is closed
// when the server stops.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// APIController returns the v1 controller.
func (s *Server) APIController() *v1.Controller {
	return s.apiController
}
