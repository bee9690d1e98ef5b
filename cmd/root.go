package cmd

import (
	"context"

	"github.com/illarion/lockd/internal/config"
	"github.com/illarion/lockd/internal/core"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dataDir    string
	verbose    bool

	// coreOptions are passed to every core.Open; tests replace the identity.
	coreOptions []core.Option
)

// RootCmd is the lockd command.
var RootCmd = &cobra.Command{
	Use:   "lockd",
	Short: "lockd - lock folders and programs behind a password",
	Long: `lockd keeps a list of protected folders and programs. While the daemon
runs in lock mode, locked folders are made inaccessible and locked programs
are terminated. Stopping the daemon always restores folder access.

Examples:
  lockd add ~/Private --locked       # Protect a folder
  lockd add /usr/bin/steam --locked  # Protect a program
  lockd mode lock                    # Switch to lock mode
  lockd run                          # Enforce until interrupted`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <data-dir>/lockd.toml)")
	RootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default $LOCKD_DATA_DIR or the user config dir)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
}

// Execute runs the command line under ctx.
func Execute(ctx context.Context) error {
	return RootCmd.ExecuteContext(ctx)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath, dataDir)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
		cfg.Log.Stderr = true
	}
	return cfg, nil
}

// openCore opens the configured data directory. Callers close it.
func openCore(cmd *cobra.Command) (*core.Core, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return core.Open(cmd.Context(), cfg, coreOptions...)
}
