package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xgstriker/bbd-server/cmd/backup"
	"github.com/xgstriker/bbd-server/cmd/serve"
	"github.com/xgstriker/bbd-server/cmd/status"
	"github.com/xgstriker/bbd-server/cmd/train"
	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/logger"
)

// Context is shared by the sub-commands. Settings is populated by the root
// command before a sub-command runs.
type Context struct {
	Version    string
	ConfigFile string
	Debug      bool
	Settings   *conf.Settings

	central *logger.CentralLogger
}

// GetSettings returns the loaded settings.
func (c *Context) GetSettings() *conf.Settings { return c.Settings }

// AppVersion returns the build version.
func (c *Context) AppVersion() string { return c.Version }

// Close flushes and closes the logger outputs.
func (c *Context) Close() error {
	if c.central == nil {
		return nil
	}
	return c.central.Close()
}

// RootCommand creates and returns the root command
func RootCommand(ctx *Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bbd-server",
		Short:         "Detection model retraining server",
		Version:       ctx.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigFile, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&ctx.Debug, "debug", "d", false, "Enable debug output")

	subcommands := []*cobra.Command{
		serve.Command(ctx),
		train.Command(ctx),
		backup.Command(ctx),
		status.Command(ctx),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(ctx)
	}

	return rootCmd
}

// initialize loads the settings and installs the global logger.
func initialize(ctx *Context) error {
	settings, err := conf.Load(ctx.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if ctx.Debug {
		settings.Debug = true
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
	}
	ctx.Settings = settings

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetGlobal(central)
	ctx.central = central
	return nil
}
