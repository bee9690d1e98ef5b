package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(completionCmd)
}

var completionCmd = &cobra.Command{
	Use:   "completion <bash|zsh|fish|powershell>",
	Short: "Generate shell completions",
	Long: `Outputs shell completion script for the specified shell.

Setup:
  # Bash - add to ~/.bashrc
  eval "$(lockd completion bash)"

  # Zsh - add to ~/.zshrc
  eval "$(lockd completion zsh)"

  # Fish - add to ~/.config/fish/config.fish
  lockd completion fish | source`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return RootCmd.GenBashCompletionV2(os.Stdout, true)
		case "zsh":
			return RootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return RootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return RootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return fmt.Errorf("unknown shell: %s (supported: bash, zsh, fish, powershell)", args[0])
	},
}
