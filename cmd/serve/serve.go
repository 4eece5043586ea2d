// Package serve provides the serve command
package serve

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xgstriker/bbd-server/internal/api"
	"github.com/xgstriker/bbd-server/internal/app"
	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/logger"
)

// Runtime is what the command needs from the root context.
type Runtime interface {
	GetSettings() *conf.Settings
	AppVersion() string
}

// Command creates and returns the serve command
func Command(rt Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the training API",
		Long:  `Start the HTTP API. Shutdown stops accepting requests, then waits for active training runs to reach an outcome.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), rt)
		},
	}
}

func run(parent context.Context, rt Runtime) error {
	settings := rt.GetSettings()
	log := logger.Global().Module("serve")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, settings, app.Options{Version: rt.AppVersion()})
	if err != nil {
		return err
	}
	if err := a.RecoverInterrupted(ctx); err != nil {
		log.Warn("failed to close interrupted runs", logger.Error(err))
	}

	server, err := api.New(settings,
		api.WithCoordinator(a.Coordinator),
		api.WithImages(a.Images),
		api.WithMetrics(a.Metrics))
	if err != nil {
		_ = a.Close(context.Background())
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	server.Start()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case serveErr = <-server.Errors():
		log.Error("HTTP server stopped", logger.Error(serveErr))
	}

	if err := server.Shutdown(context.Background()); err != nil && serveErr == nil {
		serveErr = err
	}
	if err := a.Close(context.Background()); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}
