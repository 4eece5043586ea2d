// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// InitSentry initializes the sentry client and installs a SentryReporter.
// An empty DSN leaves telemetry disabled.
func InitSentry(dsn, release string, debug bool) error {
	if dsn == "" {
		SetTelemetryReporter(nil)
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		Debug:            debug,
		AttachStacktrace: true,
	}); err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	SetTelemetryReporter(NewSentryReporter(true))
	return nil
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy protection
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.GetMessage()))

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}

		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessageForPrivacy(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := getErrorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{ee.GetComponent(), string(ee.Category)})

		sentry.CaptureMessage(message)
	})
}

func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryPartialIngestion, CategoryValidation, CategoryConflict:
		return sentry.LevelWarning
	case CategoryPromotion, CategoryDatabase, CategoryBackup:
		return sentry.LevelError
	default:
		return sentry.LevelError
	}
}

var (
	urlQueryPattern  = regexp.MustCompile(`(https?://[^\s?]+)\?\S*`)
	credentialsInURL = regexp.MustCompile(`://[^/\s:@]+:[^/\s@]+@`)
	secretKVPattern  = regexp.MustCompile(`(?i)(api_key|apikey|token|password|secret|auth)=\S+`)
)

// scrubMessageForPrivacy removes credentials and query strings from a message
func scrubMessageForPrivacy(message string) string {
	message = credentialsInURL.ReplaceAllString(message, "://[REDACTED]@")
	message = urlQueryPattern.ReplaceAllString(message, "$1?[REDACTED]")
	return secretKVPattern.ReplaceAllString(message, "$1=[REDACTED]")
}
