package cmd

import (
	"fmt"

	"github.com/illarion/lockd/internal/registry"
	"github.com/spf13/cobra"
)

var toggleKind string

func init() {
	toggleCmd.Flags().StringVarP(&toggleKind, "kind", "k", "", "only match items of this kind")
	RootCmd.AddCommand(toggleCmd)
}

var toggleCmd = &cobra.Command{
	Use:   "toggle <path>",
	Short: "Flip the locked flag of an item",
	Long:  `Locks an unlocked item or unlocks a locked one. Unlocking requires the password.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := registry.ParseKind(toggleKind)
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
		it, err = reg.ToggleLock(it)
		if err != nil {
			return err
		}
		fmt.Printf("%s is now %s\n", it.Path, lockLabel(it.Locked))
		return nil
	},
}
