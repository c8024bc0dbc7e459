package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"iwms/core/fsutil"
	"iwms/core/history"
	"iwms/core/report"
	"iwms/internal/ui"
)

func (a *app) newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "查看运行历史",
		Long: `每次 run 的摘要和全部结果记录保存在运行历史数据库中（默认 ~/.iwms/history.db）。
运行ID可以只输入前几位，只要能唯一确定一次运行。`,
	}
	cmd.AddCommand(a.newHistoryListCmd(), a.newHistoryShowCmd(), a.newHistoryPruneCmd())
	return cmd
}

// openHistory 打开运行历史数据库
func (a *app) openHistory() (*history.Store, error) {
	return history.Open(a.cfg.HistoryPath(), a.log)
}

func (a *app) newHistoryListCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "列出最近的运行",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, runs)
			}
			return ui.RenderRuns(runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "最多列出的运行次数，0表示全部")
	cmd.Flags().BoolVar(&asJSON, "json", false, "以JSON输出")
	return cmd
}

func (a *app) newHistoryShowCmd() *cobra.Command {
	var (
		limit        int
		asJSON       bool
		exportDir    string
		reportFormat string
	)
	cmd := &cobra.Command{
		Use:   "show <运行ID>",
		Short: "显示一次运行的全部结果",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			rep, err := store.GetRun(args[0])
			switch {
			case errors.Is(err, history.ErrNotFound):
				return fmt.Errorf("找不到运行 %s", args[0])
			case errors.Is(err, history.ErrAmbiguous):
				return fmt.Errorf("运行ID前缀 %s 匹配多次运行，请输入更长的前缀", args[0])
			case err != nil:
				return err
			}

			if exportDir != "" {
				format := a.cfg.ReportFormat()
				if reportFormat != "" {
					if format, err = report.ParseFormat(reportFormat); err != nil {
						return err
					}
				}
				dir, err := fsutil.NormalizePath(exportDir)
				if err != nil {
					return err
				}
				if err := a.fs.MkdirAll(dir, 0o755); err != nil {
					return err
				}
				path, err := report.Export(a.fs, dir, report.KindExecution, format, report.Data{
					Results:   rep.Results,
					Summary:   rep.Summary,
					OutputDir: rep.Options.OutputRoot,
					Report:    rep,
				})
				if err != nil {
					return err
				}
				ui.DisplaySuccess("报告已导出: " + path)
			}

			if asJSON {
				return printJSON(cmd, rep)
			}
			ui.DisplayInfo(fmt.Sprintf("运行 %s  %s  %s",
				rep.RunID,
				rep.StartedAt.Local().Format("2006-01-02 15:04:05"),
				rep.Options.Constraint))
			if err := ui.RenderResults(rep.Results, limit); err != nil {
				return err
			}
			return ui.RenderSummary(rep.Summary, rep.Options.OutputRoot)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&limit, "limit", 50, "最多显示的行数，0表示全部")
	flags.BoolVar(&asJSON, "json", false, "以JSON输出")
	flags.StringVar(&exportDir, "export", "", "把结果重新导出为报告文件到该目录")
	flags.StringVar(&reportFormat, "report-format", "", "报告格式: csv, xlsx, json")
	return cmd
}

func (a *app) newHistoryPruneCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "删除旧的运行记录，只保留最近的若干次",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep <= 0 {
				return fmt.Errorf("--keep 必须大于0")
			}
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Prune(keep)
			if err != nil {
				return err
			}
			ui.DisplaySuccess(fmt.Sprintf("已删除 %d 条运行记录", removed))
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 50, "保留的运行次数")
	return cmd
}
