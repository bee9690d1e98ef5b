package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(releaseCmd)
}

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Restore access to every folder lockd has locked",
	Long: `Restores the permissions of every protected folder and of every entry
recorded in the permission ledger. Use it after the daemon was killed
without a clean stop. Requires the password when one is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := requirePassword(c); err != nil {
			return err
		}
		if err := c.ReleaseAll(); err != nil {
			return err
		}
		fmt.Println("folder access restored")
		return nil
	},
}
