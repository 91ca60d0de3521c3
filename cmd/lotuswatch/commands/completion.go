package commands

import (
	"github.com/spf13/cobra"
)

func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate the autocompletion script for the specified shell",
		Long: `To load completions:

Bash:
  $ source <(lotuswatch completion bash)
  # To load automatically on new shells, run:
  $ lotuswatch completion bash > /etc/bash_completion.d/lotuswatch

Zsh:
  $ lotuswatch completion zsh > "${fpath[1]}/_lotuswatch"

Fish:
  $ lotuswatch completion fish | source

PowerShell:
  PS> lotuswatch completion powershell | Out-String | Invoke-Expression
`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return cobra.ErrSubCommandRequired
			}
		},
	}
	return cmd
}
