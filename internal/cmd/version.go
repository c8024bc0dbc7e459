package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"iwms/internal/version"
)

func newVersionCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			if full {
				fmt.Fprintln(cmd.OutOrStdout(), "IWMS "+version.GetFullVersionInfo())
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), "IWMS "+version.GetVersionWithPrefix())
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "显示构建时间、提交和Go版本")
	return cmd
}
