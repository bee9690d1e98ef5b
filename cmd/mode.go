package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/illarion/lockd/internal/registry"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(modeCmd)
}

var modeCmd = &cobra.Command{
	Use:       "mode [lock|unlock]",
	Short:     "Show or change the enforcement mode",
	Long:      `Without arguments prints the current mode. Switching to unlock requires the password.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"lock", "unlock"},
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		reg := c.Registry()
		if len(args) == 0 {
			fmt.Println(modeString(reg.Mode()))
			return nil
		}

		mode, err := registry.ParseMode(args[0])
		if err != nil {
			return err
		}
		if mode == reg.Mode() {
			fmt.Printf("already in %s mode\n", mode)
			return nil
		}
		if mode == registry.ModeUnlock {
			if err := requirePassword(c); err != nil {
				return err
			}
		}
		if err := reg.SetMode(mode); err != nil {
			return err
		}
		fmt.Printf("mode set to %s\n", modeString(mode))
		return nil
	},
}

func modeString(m registry.Mode) string {
	if m == registry.ModeLock {
		return color.RedString(m.String())
	}
	return color.GreenString(m.String())
}
