// Package backup provides the backup command
package backup

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xgstriker/bbd-server/internal/backup"
	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/model"
	"github.com/xgstriker/bbd-server/internal/workspace"
)

const backupTimeout = 10 * time.Minute

// Runtime is what the command needs from the root context.
type Runtime interface {
	GetSettings() *conf.Settings
}

// Command creates and returns the backup command
func Command(rt Runtime) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "backup <type>",
		Short: "Snapshot the live weights of a model type",
		Long:  `Copy the live weights of a model type into its backup directory under a timestamped name. With --list, print the existing snapshots newest first.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := rt.GetSettings()
			registry := model.NewRegistry(settings.Models, model.FileLoader{})
			manager := backup.NewManager(registry, workspace.NewLayout(&settings.Workspace), settings.Workspace.MinFreeBytes)
			if list {
				return runList(cmd, manager, args[0])
			}
			return runBackup(cmd, manager, args[0])
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List existing snapshots instead of creating one")

	return cmd
}

func runBackup(cmd *cobra.Command, manager *backup.Manager, modelType string) error {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	meta, err := manager.Backup(ctx, modelType)
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	cmd.Printf("Backup created: %s (%d bytes, sha256 %s)\n", meta.Path, meta.Size, meta.Checksum)
	return nil
}

func runList(cmd *cobra.Command, manager *backup.Manager, modelType string) error {
	snapshots, err := manager.List(context.Background(), modelType)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		cmd.Println("No backups found")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tSIZE\tSHA256\tPATH")
	for i := range snapshots {
		s := &snapshots[i]
		fmt.Fprintf(w, "%s\t%d\t%.12s\t%s\n", s.Timestamp.Format(time.RFC3339), s.Size, s.Checksum, s.Path)
	}
	return w.Flush()
}
