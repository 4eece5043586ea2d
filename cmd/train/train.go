// Package train provides the train command
package train

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xgstriker/bbd-server/internal/app"
	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/datastore/entities"
)

// Runtime is what the command needs from the root context.
type Runtime interface {
	GetSettings() *conf.Settings
	AppVersion() string
}

// Command creates and returns the train command
func Command(rt Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "train <type>",
		Short: "Run one training cycle and wait for its outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rt, args[0])
		},
	}
}

func run(cmd *cobra.Command, rt Runtime, modelType string) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, rt.GetSettings(), app.Options{Version: rt.AppVersion()})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(context.Background()); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if err := a.RecoverInterrupted(ctx); err != nil {
		return err
	}

	r, err := a.Coordinator.Start(ctx, modelType)
	if err != nil {
		return err
	}
	cmd.Printf("%s training started: %s\n", modelType, r.Name)

	res, err := r.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}

	cmd.Printf("outcome: %s\n%s\n", res.Outcome, res.Message)
	for _, skipped := range res.Skipped {
		cmd.Printf("skipped: %v\n", skipped)
	}
	if res.Outcome == entities.RunOutcomeFailed {
		return fmt.Errorf("run %s failed: %w", r.Name, res.Err)
	}
	return nil
}
