package cmd

import (
	"github.com/spf13/cobra"
)

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "生成shell自动补全脚本",
		Long: `生成指定shell的自动补全脚本。

要启用自动补全，请运行以下命令之一：

Bash:
  source <(iwms completion bash)
  # 或者将其添加到 ~/.bashrc:
  echo 'source <(iwms completion bash)' >> ~/.bashrc

Zsh:
  source <(iwms completion zsh)
  # 或者将其添加到 ~/.zshrc:
  echo 'source <(iwms completion zsh)' >> ~/.zshrc

Fish:
  iwms completion fish | source

PowerShell:
  iwms completion powershell | Out-String | Invoke-Expression`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(out, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			default:
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
		},
	}
}
