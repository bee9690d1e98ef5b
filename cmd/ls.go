package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/illarion/lockd/internal/registry"
	"github.com/spf13/cobra"
)

var lsKind string

func init() {
	lsCmd.Flags().StringVarP(&lsKind, "kind", "k", "", "only list items of this kind")
	RootCmd.AddCommand(lsCmd)
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List protected items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := registry.ParseKind(lsKind)
		if err != nil {
			return err
		}

		c, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		items := c.Registry().List(kind)
		if len(items) == 0 {
			fmt.Println(color.YellowString("⚠") + " No protected items.")
			fmt.Println(color.CyanString("→") + " Run " + color.YellowString("lockd add <path>") + " to protect one")
			return nil
		}
		printItems(items)
		return nil
	},
}

func printItems(items []registry.Item) {
	for _, it := range items {
		mark := color.GreenString("o")
		state := color.GreenString("unlocked")
		if it.Locked {
			mark = color.RedString("*")
			state = color.RedString("locked")
		}
		fmt.Printf("  %s %-8s %s (%s) %s\n", mark, it.Kind, it.Path, it.Name, state)
	}
}
