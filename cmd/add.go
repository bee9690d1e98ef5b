package cmd

import (
	"fmt"

	"github.com/illarion/lockd/internal/registry"
	"github.com/spf13/cobra"
)

var (
	addKind   string
	addName   string
	addLocked bool
)

func init() {
	addCmd.Flags().StringVarP(&addKind, "kind", "k", "", "item kind: program or folder (default inferred from the path)")
	addCmd.Flags().StringVarP(&addName, "name", "n", "", "display name (default the base name)")
	addCmd.Flags().BoolVarP(&addLocked, "locked", "l", false, "lock the item right away")
	RootCmd.AddCommand(addCmd)
}

var addCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Protect a program or folder",
	Long: `Adds a program or folder to the protected items.

The kind is inferred from the path: a directory is a folder, anything else
a program. Use --kind to protect a path that does not exist yet.

Examples:
  lockd add ~/Private --locked
  lockd add /usr/bin/steam --name Steam --locked
  lockd add --kind folder /mnt/backup`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := registry.ParseKind(addKind)
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

		it, err := c.Registry().Add(registry.Item{Path: path, Name: addName, Kind: kind, Locked: addLocked})
		if err != nil {
			return err
		}
		fmt.Printf("added %s\n", describe(it))
		return nil
	},
}
