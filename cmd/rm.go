package cmd

import (
	"fmt"

	"github.com/illarion/lockd/internal/registry"
	"github.com/spf13/cobra"
)

var rmKind string

func init() {
	rmCmd.Flags().StringVarP(&rmKind, "kind", "k", "", "only match items of this kind")
	RootCmd.AddCommand(rmCmd)
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Stop protecting an item",
	Long: `Removes an item from the protected items. Removing a locked item requires
the password. A running daemon restores folder access on its next tick.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := registry.ParseKind(rmKind)
		if err != nil {
			return err
		}
		path, err := absPath(args[0])
		if err != nil {
			return err
		}

		c, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		reg := c.Registry()
		it, err := reg.Get(kind, path)
		if err != nil {
			return err
		}
		if it.Locked {
			if err := requirePassword(c); err != nil {
				return err
			}
		}
		if err := reg.Remove(it); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", describe(it))
		return nil
	},
}
