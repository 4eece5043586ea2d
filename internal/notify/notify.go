// Package notify announces training run outcomes to external systems.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
)

// Event describes a finished training run.
type Event struct {
	ModelType  string    `json:"type"`
	RunName    string    `json:"run"`
	Outcome    string    `json:"outcome"`
	Promoted   bool      `json:"promoted"`
	OldMetric  *float64  `json:"oldMetric,omitempty"`
	NewMetric  *float64  `json:"newMetric,omitempty"`
	Images     int       `json:"images"`
	Message    string    `json:"message"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Title is a one-line summary of the event.
func (e *Event) Title() string {
	return fmt.Sprintf("%s training %s", e.ModelType, e.Outcome)
}

// Body is a human-readable description of the event.
func (e *Event) Body() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run %s finished: %s.", e.RunName, e.Message)
	if e.OldMetric != nil && e.NewMetric != nil {
		fmt.Fprintf(&sb, " Score %.4f -> %.4f.", *e.OldMetric, *e.NewMetric)
	}
	if e.Images > 0 {
		fmt.Fprintf(&sb, " Images: %d.", e.Images)
	}
	return sb.String()
}

// Notifier delivers run events.
type Notifier interface {
	Notify(ctx context.Context, event *Event) error
	Close() error
}

// Multi fans an event out to several notifiers. Every notifier is attempted;
// failures are joined.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, event *Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Notifier.
func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, *Event) error { return nil }
func (Nop) Close() error                         { return nil }

// GetLogger returns the notify package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("notify")
}
