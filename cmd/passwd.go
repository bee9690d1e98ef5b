package cmd

import (
	"fmt"

	"github.com/illarion/lockd/internal/crypto"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(passwdCmd)
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Set or change the operator password",
	Long: `Sets the password required to unlock items or switch to unlock mode.
Changing an existing password requires the current one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		reg := c.Registry()
		if reg.HasPassword() {
			current, err := ReadPassword("Enter current password: ")
			if err != nil {
				return err
			}
			err = reg.CheckPassword(current)
			crypto.ClearBytes(current)
			if err != nil {
				return err
			}
		}

		newPassword, err := ReadPasswordConfirm("Enter new password: ")
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(newPassword)

		if err := reg.SetPassword(newPassword); err != nil {
			return err
		}
		fmt.Println("password changed successfully")
		return nil
	},
}
