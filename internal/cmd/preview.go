package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"iwms/core/batch"
	"iwms/core/fsutil"
	"iwms/core/report"
	"iwms/internal/ui"
)

// previewOptions preview 命令参数
type previewOptions struct {
	pipelineFlags
	export       bool
	reportDir    string
	reportFormat string
	limit        int
	json         bool
}

func (a *app) newPreviewCmd() *cobra.Command {
	opts := &previewOptions{}
	cmd := &cobra.Command{
		Use:   "preview <输入目录>",
		Short: "预览重命名结果，不写入任何文件",
		Long: `按映射表计算每个文件的新名称和冲突情况，不复制、不压缩。
指定 --output 时按该目录检查目标文件是否已存在。

示例：
  iwms preview ./photos -m 映射表.xlsx
  iwms preview ./photos -m 映射表.xlsx -o ./out --export --report-dir ./reports`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPreview(cmd, args[0], opts)
		},
	}

	opts.bind(cmd, false)
	flags := cmd.Flags()
	flags.BoolVar(&opts.export, "export", false, "导出预览报告")
	flags.StringVar(&opts.reportDir, "report-dir", ".", "预览报告目录")
	flags.StringVar(&opts.reportFormat, "report-format", "", "报告格式: csv, xlsx, json")
	flags.IntVar(&opts.limit, "limit", 50, "表格最多显示的行数，0表示全部")
	flags.BoolVar(&opts.json, "json", false, "以JSON输出预览结果")
	_ = cmd.MarkFlagRequired("mapping")
	return cmd
}

func (a *app) runPreview(cmd *cobra.Command, input string, opts *previewOptions) error {
	cfg, err := opts.apply(cmd, a.cfg)
	if err != nil {
		return err
	}
	dir, err := a.inputDir(input)
	if err != nil {
		return err
	}

	var root string
	if opts.output != "" {
		if root, err = a.outputRoot(opts.output, cfg, false); err != nil {
			return err
		}
	} else {
		root = filepath.Join(dir, cfg.Rename.OutputDirPrefix)
	}

	table, err := a.loadMapping(opts.mapping, cfg)
	if err != nil {
		return err
	}
	scanned, err := a.collectFiles(cmd.Context(), dir, cfg, root)
	if err != nil {
		return err
	}

	records := a.newOrchestrator(cfg).Preview(scanned.Paths(), table, root)
	summary := batch.Summarize(records, 0, 0)

	if opts.json {
		return printJSON(cmd, &batch.Report{
			Options: batch.Options{OutputRoot: root, Policy: cfg.Policy(), Constraint: cfg.Constraint()},
			Results: records,
			Summary: summary,
		})
	}

	if err := ui.RenderResults(records, opts.limit); err != nil {
		return err
	}
	ui.DisplayInfo(fmt.Sprintf("共 %d 个文件：%d 个将被处理，%d 个未命中映射表，%d 个存在冲突",
		summary.Total, summary.Processed, summary.Skipped, summary.Conflicts))

	if !opts.export {
		return nil
	}
	format := cfg.ReportFormat()
	if opts.reportFormat != "" {
		if format, err = report.ParseFormat(opts.reportFormat); err != nil {
			return err
		}
	}
	reportDir, err := fsutil.NormalizePath(opts.reportDir)
	if err != nil {
		return err
	}
	if err := a.fs.MkdirAll(reportDir, 0o755); err != nil {
		return fmt.Errorf("创建报告目录失败: %w", err)
	}
	path, err := report.Export(a.fs, reportDir, report.KindPreview, format, report.Data{
		Results:   records,
		Summary:   summary,
		OutputDir: root,
	})
	if err != nil {
		return err
	}
	ui.DisplaySuccess("预览报告已导出: " + path)
	return nil
}
