package cmd

import (
	"github.com/spf13/cobra"

	"iwms/core/naming"
	"iwms/internal/ui"
)

func (a *app) newParseCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "parse <文件名>...",
		Short: "显示文件名的解析结果（主文件名、序号、扩展名）",
		Long: `解析文件名，显示映射表查找时使用的主文件名。

示例：
  iwms parse "photo (3).jpg" "IMG_0001.JPG" "archive.tar.gz"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !asJSON {
				return ui.RenderParsed(args)
			}
			parsed := make([]naming.ParsedName, len(args))
			for i, name := range args {
				parsed[i] = naming.ParseFileName(name)
			}
			return printJSON(cmd, parsed)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "以JSON输出")
	return cmd
}
