package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RequestRecorder receives per-request measurements.
type RequestRecorder interface {
	RecordRequest(method, path string, statusCode int, seconds float64)
	RecordRateLimited(path string)
}

// NewMetrics records request counts and latency by route template, so
// /api/v1/images/1 and /api/v1/images/2 share one series.
func NewMetrics(recorder RequestRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if recorder == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			recorder.RecordRequest(c.Request().Method, path, status, time.Since(start).Seconds())
			return err
		}
	}
}

// RateLimitConfig configures NewRateLimiter.
type RateLimitConfig struct {
	// RequestsPerSecond per client IP. Zero or less disables limiting.
	RequestsPerSecond float64
	Burst             int
	ExpiresIn         time.Duration
	Recorder          RequestRecorder
}

// NewRateLimiter limits requests per client IP with an in-memory token bucket.
func NewRateLimiter(config RateLimitConfig) echo.MiddlewareFunc {
	if config.RequestsPerSecond <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	burst := max(config.Burst, 1)
	expires := config.ExpiresIn
	if expires <= 0 {
		expires = 3 * time.Minute
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(config.RequestsPerSecond),
				Burst:     burst,
				ExpiresIn: expires,
			},
		),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			if config.Recorder != nil {
				config.Recorder.RecordRateLimited(c.Path())
			}
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "too many requests, please wait before trying again",
			})
		},
	})
}
