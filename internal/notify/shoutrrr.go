package notify

import (
	"context"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/xgstriker/bbd-server/internal/errors"
)

// DefaultShoutrrrTimeout bounds a single send across all URLs.
const DefaultShoutrrrTimeout = 10 * time.Second

// ShoutrrrNotifier sends events to shoutrrr service URLs.
type ShoutrrrNotifier struct {
	urls     []string
	sender   *router.ServiceRouter
	observer PublishObserver
}

// NewShoutrrrNotifier validates urls and builds a sender for them.
func NewShoutrrrNotifier(urls []string, timeout time.Duration, observer PublishObserver) (*ShoutrrrNotifier, error) {
	if len(urls) == 0 {
		return nil, errors.New(errors.NewStd("at least one URL is required")).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		// Service URLs carry tokens; keep them out of the error.
		return nil, errors.New(errors.NewStd("invalid notification URL: " + scrub(err.Error(), urls))).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if timeout <= 0 {
		timeout = DefaultShoutrrrTimeout
	}
	sender.Timeout = timeout
	sender.SetLogger(log.New(io.Discard, "", 0))

	return &ShoutrrrNotifier{
		urls:     slices.Clone(urls),
		sender:   sender,
		observer: observer,
	}, nil
}

// Notify implements Notifier.
func (s *ShoutrrrNotifier) Notify(ctx context.Context, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	params.SetTitle(event.Title())

	started := time.Now()
	var firstErr error
	for _, err := range s.sender.Send(event.Body(), &params) {
		if err != nil {
			firstErr = err
			break
		}
	}
	if s.observer != nil {
		s.observer.ObservePublish("shoutrrr", started, firstErr)
	}
	if firstErr != nil {
		return errors.New(errors.NewStd("notification delivery failed: " + scrub(firstErr.Error(), s.urls))).
			Component("notify").
			Category(errors.CategoryNetwork).
			Build()
	}
	return nil
}

// Close implements Notifier.
func (s *ShoutrrrNotifier) Close() error { return nil }

func scrub(msg string, urls []string) string {
	for _, u := range urls {
		msg = strings.ReplaceAll(msg, u, "[url]")
	}
	return msg
}
