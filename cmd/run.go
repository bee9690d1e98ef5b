package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the enforcement daemon until interrupted",
	Long: `Runs the enforcement daemon in the foreground. Every tick it re-reads the
protected items and the mode, terminates locked programs and denies access
to locked folders while in lock mode.

On SIGINT or SIGTERM the daemon stops and restores access to every folder it
locked, even if a tick is still in progress.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		d, err := c.Daemon()
		if err != nil {
			return err
		}
		logger := c.Logger()

		d.Start()
		logger.Info("lockd: daemon started", "data_dir", c.Config().DataDir, "mode", c.Registry().Mode())
		fmt.Printf("lockd running (mode: %s), press Ctrl+C to stop\n", c.Registry().Mode())

		<-cmd.Context().Done()

		logger.Info("lockd: shutdown requested", "ticks", d.Ticks(), "last_tick", d.LastTick())
		if !d.Stop() {
			return errors.New("daemon stopped with errors, run 'lockd release' to restore access")
		}
		fmt.Println("lockd stopped, folder access restored")
		return nil
	},
}
