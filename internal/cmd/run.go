package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"iwms/config"
	"iwms/core/batch"
	"iwms/core/mapping"
	"iwms/core/report"
	"iwms/internal/ui"
)

// runOptions run 命令独有的参数
type runOptions struct {
	pipelineFlags
	assumeYes    bool
	noReport     bool
	reportFormat string
	noHistory    bool
	noTimestamp  bool
	limit        int
}

func (a *app) newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <输入目录>",
		Short: "按映射表重命名文件并压缩图片",
		Long: `扫描输入目录，按映射表把文件复制到输出目录并重命名，图片按压缩模式重新编码。
源文件不会被修改。默认在输出目录下创建 IWMS_重命名结果_<时间> 子目录，
处理完成后在其中导出处理报告、映射表副本和处理摘要。

示例：
  iwms run ./photos -m 映射表.xlsx -o ./out
  iwms run ./photos -m 映射表.csv -o ./out --mode filesize --max-size 300 -p append`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBatch(cmd, args[0], opts)
		},
	}

	opts.bind(cmd, true)
	flags := cmd.Flags()
	flags.BoolVarP(&opts.assumeYes, "yes", "y", false, "不询问冲突策略，直接使用配置值")
	flags.BoolVar(&opts.noReport, "no-report", false, "不导出报告")
	flags.StringVar(&opts.reportFormat, "report-format", "", "报告格式: csv, xlsx, json")
	flags.BoolVar(&opts.noHistory, "no-history", false, "不记录运行历史")
	flags.BoolVar(&opts.noTimestamp, "no-timestamp", false, "直接写入输出目录，不创建时间戳子目录")
	flags.IntVar(&opts.limit, "limit", 50, "结果表格最多显示的行数，0表示全部")
	_ = cmd.MarkFlagRequired("mapping")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (a *app) runBatch(cmd *cobra.Command, input string, opts *runOptions) error {
	cfg, err := opts.apply(cmd, a.cfg)
	if err != nil {
		return err
	}
	format := cfg.ReportFormat()
	if cmd.Flags().Changed("report-format") {
		if format, err = report.ParseFormat(opts.reportFormat); err != nil {
			return err
		}
	}

	dir, err := a.inputDir(input)
	if err != nil {
		return err
	}
	outputBase, err := a.outputRoot(opts.output, cfg, false)
	if err != nil {
		return err
	}
	root, err := a.outputRoot(opts.output, cfg, cfg.Rename.TimestampedOutput && !opts.noTimestamp)
	if err != nil {
		return err
	}
	if outputBase == dir {
		return fmt.Errorf("输出目录不能与输入目录相同: %s", dir)
	}

	table, err := a.loadMapping(opts.mapping, cfg)
	if err != nil {
		return err
	}
	if err := a.choosePolicy(cmd, cfg, opts.assumeYes); err != nil {
		return err
	}

	spinner := ui.StartSpinner("正在扫描 " + dir)
	scanned, err := a.collectFiles(cmd.Context(), dir, cfg, outputBase)
	if err != nil {
		spinner.Fail("扫描失败")
		return err
	}
	files := scanned.Paths()
	if len(files) == 0 {
		spinner.Success("没有找到需要处理的文件")
		return nil
	}

	spinner.Success(fmt.Sprintf("找到 %d 个文件", len(files)))

	_, err = a.executeBatch(cfg, table, files, root, batchOutput{
		report:  cfg.Report.Enabled && !opts.noReport,
		format:  format,
		history: !opts.noHistory,
		limit:   opts.limit,
	})
	return err
}

// batchOutput 批处理完成后的输出选项
type batchOutput struct {
	report  bool
	format  report.Format
	history bool
	limit   int
}

// executeBatch 执行一次批处理，输出结果并按选项导出报告、记录历史
func (a *app) executeBatch(cfg *config.Config, table *mapping.Table, files []string, root string, out batchOutput) (*batch.Report, error) {
	spinner := ui.StartSpinner(fmt.Sprintf("正在处理 %d 个文件", len(files)))
	rep, err := a.newOrchestrator(cfg).Run(files, table, batch.Options{
		OutputRoot: root,
		Policy:     cfg.Policy(),
		Constraint: cfg.Constraint(),
	})
	if err != nil {
		spinner.Fail("处理失败")
		return nil, err
	}
	spinner.Success(fmt.Sprintf("处理完成，共 %d 个文件", rep.Summary.Total))

	if err := ui.RenderResults(rep.Results, out.limit); err != nil {
		a.log.Warn("输出结果表格失败", zap.Error(err))
	}
	if err := ui.RenderSummary(rep.Summary, root); err != nil {
		a.log.Warn("输出摘要失败", zap.Error(err))
	}

	if out.report {
		bundle, err := a.exportReports(root, report.KindExecution, out.format, report.Data{
			Results:   rep.Results,
			Summary:   rep.Summary,
			OutputDir: root,
			Report:    rep,
		}, table)
		if err != nil {
			ui.DisplayError(err)
			a.log.Error("导出报告失败", zap.Error(err))
		} else {
			ui.DisplayInfo("报告已导出: " + bundle.Results)
		}
	}

	if out.history {
		a.recordHistory(cfg, rep)
	}
	return rep, nil
}
