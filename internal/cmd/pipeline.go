package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"iwms/config"
	"iwms/core/batch"
	"iwms/core/compress"
	"iwms/core/conflict"
	"iwms/core/fsutil"
	"iwms/core/history"
	"iwms/core/mapping"
	"iwms/core/report"
	"iwms/core/scan"
	"iwms/internal/ui"
)

// pipelineFlags run/preview/watch 共用的命令行参数，只有显式设置的参数会覆盖配置
type pipelineFlags struct {
	mapping       string
	output        string
	policy        string
	mode          string
	maxDimension  int
	maxSizeKB     int
	threads       int
	noMultiThread bool
	recursive     bool
	fileTypes     string
	sheet         string
	skipHeader    bool
}

// bind 注册参数
func (f *pipelineFlags) bind(cmd *cobra.Command, withCompression bool) {
	flags := cmd.Flags()
	flags.StringVarP(&f.mapping, "mapping", "m", "", "映射表文件 (.xlsx/.xlsm/.csv)")
	flags.StringVarP(&f.output, "output", "o", "", "输出目录")
	flags.StringVarP(&f.policy, "policy", "p", "", "冲突处理策略: skip, overwrite, append")
	flags.BoolVarP(&f.recursive, "recursive", "r", true, "递归扫描子目录")
	flags.StringVar(&f.fileTypes, "file-types", "", "处理的文件类型: image, all")
	flags.StringVar(&f.sheet, "sheet", "", "映射表工作表名称")
	flags.BoolVar(&f.skipHeader, "skip-header", false, "跳过映射表第一行")

	if withCompression {
		flags.StringVar(&f.mode, "mode", "", "压缩模式: dimension, filesize, none")
		flags.IntVar(&f.maxDimension, "max-dimension", 0, "尺寸模式下的最长边像素")
		flags.IntVar(&f.maxSizeKB, "max-size", 0, "大小模式下的文件上限 (KB)")
		flags.IntVarP(&f.threads, "threads", "t", 0, "最大压缩线程数")
		flags.BoolVar(&f.noMultiThread, "no-multi-thread", false, "单线程压缩")
	}
	_ = cmd.MarkFlagFilename("mapping", "xlsx", "xlsm", "csv")
}

// apply 用显式设置的参数覆盖配置副本
func (f *pipelineFlags) apply(cmd *cobra.Command, base *config.Config) (*config.Config, error) {
	cfg := *base
	flags := cmd.Flags()

	if flags.Changed("policy") {
		policy, err := conflict.ParsePolicy(f.policy)
		if err != nil {
			return nil, err
		}
		cfg.Rename.ConflictPolicy = string(policy)
	}
	if flags.Changed("recursive") {
		cfg.Scan.Recursive = f.recursive
	}
	if flags.Changed("file-types") {
		filter, err := scan.ParseFilter(f.fileTypes)
		if err != nil {
			return nil, err
		}
		cfg.Scan.FileTypes = string(filter)
	}
	if flags.Changed("sheet") {
		cfg.Mapping.Sheet = f.sheet
	}
	if flags.Changed("skip-header") {
		cfg.Mapping.SkipHeader = f.skipHeader
	}
	if flags.Lookup("mode") == nil {
		return &cfg, nil
	}

	if flags.Changed("mode") {
		mode, err := compress.ParseMode(f.mode)
		if err != nil {
			return nil, err
		}
		cfg.Compression.Mode = string(mode)
	}
	if flags.Changed("max-dimension") {
		if f.maxDimension <= 0 {
			return nil, fmt.Errorf("--max-dimension 必须大于0")
		}
		cfg.Compression.MaxDimension = f.maxDimension
	}
	if flags.Changed("max-size") {
		if f.maxSizeKB <= 0 {
			return nil, fmt.Errorf("--max-size 必须大于0")
		}
		cfg.Compression.MaxFileSizeKB = f.maxSizeKB
	}
	if flags.Changed("threads") {
		if f.threads <= 0 {
			return nil, fmt.Errorf("--threads 必须大于0")
		}
		cfg.Concurrency.MaxThreads = f.threads
	}
	if flags.Changed("no-multi-thread") {
		cfg.Concurrency.EnableMultiThread = !f.noMultiThread
	}
	return &cfg, nil
}

// inputDir 规范化并检查输入目录
func (a *app) inputDir(arg string) (string, error) {
	dir, err := fsutil.NormalizePath(arg)
	if err != nil {
		return "", fmt.Errorf("无效的输入目录 %q: %w", arg, err)
	}
	info, err := a.fs.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("输入目录不存在: %s", dir)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("输入路径不是目录: %s", dir)
	}
	return dir, nil
}

// loadMapping 读取映射表；校验错误只作提示，没有任何有效映射时返回错误
func (a *app) loadMapping(path string, cfg *config.Config) (*mapping.Table, error) {
	if path == "" {
		return nil, errors.New("必须通过 --mapping 指定映射表")
	}
	path, err := fsutil.NormalizePath(path)
	if err != nil {
		return nil, err
	}

	table, errs, err := mapping.Load(path, mapping.ReadOptions{
		Sheet:      cfg.Mapping.Sheet,
		SkipHeader: cfg.Mapping.SkipHeader,
	})
	if err != nil {
		return nil, err
	}
	for _, e := range errs {
		a.log.Warn("映射表校验错误", zap.Int("row", e.Row), zap.String("key", e.Key), zap.String("reason", e.Reason))
	}
	ui.RenderValidation(table, errs)

	if table.Len() == 0 {
		return nil, fmt.Errorf("映射表 %s 中没有有效的映射", filepath.Base(path))
	}
	return table, nil
}

// collectFiles 扫描输入目录，exclude 中位于输入目录内的路径被跳过
func (a *app) collectFiles(ctx context.Context, dir string, cfg *config.Config, exclude ...string) (*scan.Result, error) {
	opts := cfg.ScanOptions()
	opts.ImageExtensions = cfg.ImageExtensions
	opts.Exclude = append([]string(nil), opts.Exclude...)
	for _, path := range exclude {
		if path != "" && fsutil.IsWithin(dir, path) {
			opts.Exclude = append(opts.Exclude, filepath.Clean(path))
		}
	}

	result, err := scan.Scan(ctx, a.fs, dir, opts)
	if err != nil {
		return nil, err
	}
	a.log.Info("扫描完成",
		zap.String("dir", dir),
		zap.Int("files", result.Stats.TotalFiles),
		zap.Int64("bytes", result.Stats.TotalSize))
	return result, nil
}

// newOrchestrator 按配置创建批处理编排器
func (a *app) newOrchestrator(cfg *config.Config) *batch.Orchestrator {
	engine := compress.NewEngine(a.fs, cfg.CompressSettings(), a.log.Named("compress"))
	return batch.NewOrchestrator(a.fs, engine, cfg.PoolConfig(), a.log.Named("batch"),
		batch.WithImageExtensions(cfg.ImageExtensions))
}

// outputRoot 本次运行的输出目录：开启时间戳时为 <base>/<prefix>_<时间>
func (a *app) outputRoot(base string, cfg *config.Config, timestamped bool) (string, error) {
	if base == "" {
		return "", errors.New("必须通过 --output 指定输出目录")
	}
	base, err := fsutil.NormalizePath(base)
	if err != nil {
		return "", err
	}
	if !timestamped {
		return base, nil
	}
	return filepath.Join(base, outputDirName(cfg.Rename.OutputDirPrefix, a.now())), nil
}

// outputDirName 时间戳子目录名，冒号和小数点替换为短横线以兼容各平台
func outputDirName(prefix string, now time.Time) string {
	return prefix + "_" + strings.ReplaceAll(now.Format("2006-01-02T15-04-05.000"), ".", "-")
}

// choosePolicy 未显式指定策略且在交互终端时询问用户
func (a *app) choosePolicy(cmd *cobra.Command, cfg *config.Config, assumeYes bool) error {
	if cmd.Flags().Changed("policy") || assumeYes || !ui.IsInteractive() {
		return nil
	}
	policy, err := ui.SelectPolicy(cfg.Policy())
	if err != nil {
		return fmt.Errorf("选择冲突策略失败: %w", err)
	}
	cfg.Rename.ConflictPolicy = string(policy)
	return nil
}

// recordHistory 保存运行记录并清理旧记录，失败只记录警告
func (a *app) recordHistory(cfg *config.Config, rep *batch.Report) {
	if !cfg.History.Enabled {
		return
	}
	store, err := history.Open(cfg.HistoryPath(), a.log.Named("history"))
	if err != nil {
		a.log.Warn("打开运行历史失败", zap.Error(err))
		return
	}
	defer store.Close()

	if err := store.SaveRun(rep); err != nil {
		a.log.Warn("保存运行历史失败", zap.String("run_id", rep.RunID), zap.Error(err))
		return
	}
	if cfg.History.MaxRuns > 0 {
		if removed, err := store.Prune(cfg.History.MaxRuns); err != nil {
			a.log.Warn("清理运行历史失败", zap.Error(err))
		} else if removed > 0 {
			a.log.Debug("已清理旧的运行记录", zap.Int("removed", removed))
		}
	}
}

// exportReports 导出报告、映射表副本和摘要
func (a *app) exportReports(dir string, kind report.Kind, format report.Format, data report.Data, table *mapping.Table) (report.Bundle, error) {
	bundle, err := report.ExportBundle(a.fs, dir, kind, format, data, table.Entries())
	if err != nil {
		return bundle, err
	}
	for _, path := range bundle.Paths() {
		a.log.Info("报告已导出", zap.String("path", path))
	}
	return bundle, nil
}

// printJSON 以缩进JSON写到命令输出
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
