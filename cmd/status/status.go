// Package status provides the status command
package status

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/datastore"
	"github.com/xgstriker/bbd-server/internal/datastore/entities"
	"github.com/xgstriker/bbd-server/internal/datastore/repository"
)

const defaultLimit = 10

// Runtime is what the command needs from the root context.
type Runtime interface {
	GetSettings() *conf.Settings
}

// Command creates and returns the status command
func Command(rt Runtime) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status [type...]",
		Short: "Show recent training runs",
		Long:  `Print the most recent training runs recorded in the database. Without arguments every configured model type is listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := rt.GetSettings()
			types := args
			if len(types) == 0 {
				types = settings.ModelTypes()
			}
			return run(cmd, settings, types, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultLimit, "Number of runs per model type")

	return cmd
}

func run(cmd *cobra.Command, settings *conf.Settings, types []string, limit int) error {
	ctx := context.Background()

	db, err := datastore.Open(&settings.Database)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := db.Initialize(settings.ModelTypes()); err != nil {
		return err
	}

	runs := repository.NewTrainingRunRepository(db.DB())

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tRUN\tOUTCOME\tOLD\tNEW\tIMAGES\tSTARTED\tDURATION")
	for _, modelType := range types {
		history, err := runs.ListByType(ctx, modelType, limit)
		if err != nil {
			return err
		}
		for _, r := range history {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				r.ModelType, r.RunName, r.Outcome,
				metric(r.OldMetric), metric(r.NewMetric), r.Images,
				r.StartedAt.Local().Format(time.DateTime), duration(r))
		}
	}
	return w.Flush()
}

func metric(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}

func duration(r *entities.TrainingRun) string {
	if r.FinishedAt == nil {
		if r.Outcome == entities.RunOutcomePending {
			return "running"
		}
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}
