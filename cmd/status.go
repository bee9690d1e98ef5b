package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mode, protected items and enforcement state",
	Long:  `Shows comprehensive status. Does not require a password.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCore(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		st, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Println(color.CyanString("lockd status"))
		fmt.Println()
		fmt.Printf("  %-14s %s\n", "Data dir:", st.DataDir)
		fmt.Printf("  %-14s %s\n", "Mode:", modeString(st.Mode))
		if st.PasswordSet {
			fmt.Printf("  %-14s %s\n", "Password:", color.GreenString("set"))
		} else {
			fmt.Printf("  %-14s %s\n", "Password:", color.YellowString("not set"))
		}
		if st.Created != "" {
			fmt.Printf("  %-14s %s\n", "Created:", st.Created)
		}
		fmt.Printf("  %-14s %s, PBKDF2 %d iterations\n", "Encryption:", st.Algorithm, st.KDFIters)
		fmt.Printf("  %-14s %d (%d locked)\n", "Programs:", st.Programs, st.LockedPrograms)
		fmt.Printf("  %-14s %d (%d locked)\n", "Folders:", st.Folders, st.LockedFolders)

		fmt.Println()
		switch {
		case st.DaemonActive:
			fmt.Printf("  %-14s %s\n", "Daemon:", color.GreenString("running"))
		case st.DaemonState != "":
			fmt.Printf("  %-14s %s, %d ticks\n", "Daemon:", st.DaemonState, st.Ticks)
			if !st.LastTick.IsZero() {
				fmt.Printf("  %-14s %s\n", "Last tick:", st.LastTick.Format(time.RFC3339))
			}
			fmt.Printf("  %-14s %d\n", "Locked roots:", len(st.LockedRoots))
			fmt.Printf("  %-14s %d\n", "Denied nodes:", st.DeniedNodes)
		default:
			fmt.Printf("  %-14s %s\n", "Daemon:", color.YellowString("not running"))
			fmt.Printf("  %-14s %d\n", "Locked roots:", len(st.LockedRoots))
			fmt.Printf("  %-14s %d\n", "Denied nodes:", st.DeniedNodes)
			if st.DeniedNodes > 0 {
				fmt.Println()
				fmt.Println(color.YellowString("⚠") + " Denied entries left by an interrupted daemon.")
				fmt.Println(color.CyanString("→") + " Run " + color.YellowString("lockd release") + " to restore access")
			}
		}

		if len(st.Items) > 0 {
			fmt.Println()
			fmt.Println("Protected items:")
			printItems(st.Items)
		}
		return nil
	},
}
