package cmd

import (
	"fmt"

	"github.com/illarion/lockd/internal/registry"
	"github.com/spf13/cobra"
)

func init() {
	storeCmd.AddCommand(storeDiffCmd)
	storeCmd.AddCommand(storeCompactCmd)
	RootCmd.AddCommand(storeCmd)
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect and maintain the state files",
}

var storeDiffCmd = &cobra.Command{
	Use:       "diff <namespace>",
	Short:     "Show changes of a namespace since its last backup",
	Long:      `Prints a line diff between the backup and the live document of a namespace.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: registry.Namespaces(),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		diff, err := c.Store().DiffBackup(args[0])
		if err != nil {
			return err
		}
		if diff == "" {
			fmt.Println("no changes since last backup")
			return nil
		}
		fmt.Print(diff)
		return nil
	},
}

var storeCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Compact the permission ledger",
	Long:  `Rewrites the permission ledger to reclaim space. Fails while the daemon runs.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.CompactLedger(); err != nil {
			return err
		}
		fmt.Println("ledger compacted")
		return nil
	},
}
