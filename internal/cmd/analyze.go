package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"iwms/core/fsutil"
	"iwms/core/mapping"
	"iwms/core/naming"
	"iwms/core/scan"
	"iwms/internal/ui"
)

// analyzeOptions analyze 命令参数
type analyzeOptions struct {
	pipelineFlags
	json bool
	save string
	top  int
}

func (a *app) newAnalyzeCmd() *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze <目录>",
		Short: "分析目录中的文件，不进行任何处理",
		Long: `分析目录中的文件，生成分析报告，包括：
- 扩展名统计
- 文件大小分布
- 最大的文件
- 指定 --mapping 时的映射表覆盖情况（命中、未命中、未使用的映射）

示例：
  iwms analyze ./photos
  iwms analyze ./photos -m 映射表.xlsx --save analysis.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAnalyze(cmd, args[0], opts)
		},
	}
	opts.bind(cmd, false)
	flags := cmd.Flags()
	flags.BoolVar(&opts.json, "json", false, "以JSON输出分析报告")
	flags.StringVar(&opts.save, "save", "", "把分析报告保存为JSON文件")
	flags.IntVar(&opts.top, "top", 5, "列出的最大文件数量")
	return cmd
}

// AnalysisReport 分析报告
type AnalysisReport struct {
	Root             string         `json:"root"`
	GeneratedAt      time.Time      `json:"generated_at"`
	Stats            scan.Stats     `json:"stats"`
	SizeDistribution map[string]int `json:"size_distribution"`
	LargestFiles     []scan.Entry   `json:"largest_files"`
	Coverage         *Coverage      `json:"coverage,omitempty"`
}

// Coverage 映射表覆盖情况
type Coverage struct {
	Mapped   int `json:"mapped"`
	Unmapped int `json:"unmapped"`
	// UnmappedBases 未命中映射表的主文件名
	UnmappedBases []string `json:"unmapped_bases"`
	// UnusedKeys 目录中没有对应文件的映射
	UnusedKeys []string `json:"unused_keys"`
}

// sizeBuckets 大小分布区间，按上限升序
var sizeBuckets = []struct {
	label string
	limit int64
}{
	{"< 100KB", 100 << 10},
	{"100KB-500KB", 500 << 10},
	{"500KB-1MB", 1 << 20},
	{"1-5MB", 5 << 20},
	{"5-10MB", 10 << 20},
}

// sizeCategory 获取大小类别
func sizeCategory(size int64) string {
	for _, b := range sizeBuckets {
		if size < b.limit {
			return b.label
		}
	}
	return "> 10MB"
}

// buildAnalysis 生成分析报告，table 为空时不计算覆盖情况
func buildAnalysis(result *scan.Result, table *mapping.Table, top int) *AnalysisReport {
	report := &AnalysisReport{
		Root:             result.Root,
		GeneratedAt:      time.Now(),
		Stats:            result.Stats,
		SizeDistribution: make(map[string]int),
	}

	for _, f := range result.Files {
		report.SizeDistribution[sizeCategory(f.Size)]++
	}

	largest := make([]scan.Entry, len(result.Files))
	copy(largest, result.Files)
	sort.SliceStable(largest, func(i, j int) bool { return largest[i].Size > largest[j].Size })
	if top >= 0 && len(largest) > top {
		largest = largest[:top]
	}
	report.LargestFiles = largest

	if table == nil {
		return report
	}

	coverage := &Coverage{}
	used := make(map[string]bool)
	missing := make(map[string]bool)
	for _, f := range result.Files {
		base := naming.ParseFileName(f.Name).Base
		if _, ok := table.Lookup(base); ok {
			coverage.Mapped++
			used[base] = true
			continue
		}
		coverage.Unmapped++
		if !missing[base] {
			missing[base] = true
			coverage.UnmappedBases = append(coverage.UnmappedBases, base)
		}
	}
	for _, e := range table.Entries() {
		if !used[e.OldKey] {
			coverage.UnusedKeys = append(coverage.UnusedKeys, e.OldKey)
		}
	}
	sort.Strings(coverage.UnmappedBases)
	report.Coverage = coverage
	return report
}

func (a *app) runAnalyze(cmd *cobra.Command, input string, opts *analyzeOptions) error {
	cfg, err := opts.apply(cmd, a.cfg)
	if err != nil {
		return err
	}
	dir, err := a.inputDir(input)
	if err != nil {
		return err
	}

	a.log.Info("开始分析目录", zap.String("target", dir))
	result, err := a.collectFiles(cmd.Context(), dir, cfg)
	if err != nil {
		return fmt.Errorf("扫描文件失败: %w", err)
	}

	var table *mapping.Table
	if opts.mapping != "" {
		if table, err = a.loadMapping(opts.mapping, cfg); err != nil {
			return err
		}
	}
	report := buildAnalysis(result, table, opts.top)

	if opts.save != "" {
		if err := a.saveAnalysis(report, opts.save); err != nil {
			a.log.Error("保存分析报告失败", zap.Error(err))
			return err
		}
	}
	if opts.json {
		return printJSON(cmd, report)
	}
	return displayAnalysis(report)
}

// displayAnalysis 显示报告
func displayAnalysis(report *AnalysisReport) error {
	ui.DisplayBanner("目录分析报告", "info")
	if err := ui.RenderScanStats(report.Stats); err != nil {
		return err
	}
	if report.Stats.TotalFiles == 0 {
		return nil
	}

	for _, b := range sizeBuckets {
		if n := report.SizeDistribution[b.label]; n > 0 {
			ui.DisplayInfo(fmt.Sprintf("%s: %d 个文件", b.label, n))
		}
	}
	if n := report.SizeDistribution["> 10MB"]; n > 0 {
		ui.DisplayInfo(fmt.Sprintf("> 10MB: %d 个文件", n))
	}

	for _, f := range report.LargestFiles {
		ui.DisplayInfo(fmt.Sprintf("大文件: %s (%s)", f.Name, ui.FormatBytes(f.Size)))
	}

	if c := report.Coverage; c != nil {
		ui.DisplayInfo(fmt.Sprintf("映射表命中 %d 个文件，未命中 %d 个", c.Mapped, c.Unmapped))
		if len(c.UnusedKeys) > 0 {
			ui.DisplayWarning(fmt.Sprintf("%d 条映射在目录中没有对应文件", len(c.UnusedKeys)))
		}
	}
	return nil
}

// saveAnalysis 保存分析报告
func (a *app) saveAnalysis(report *AnalysisReport, path string) error {
	path, err := fsutil.NormalizePath(path)
	if err != nil {
		return err
	}
	if err := a.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	err = fsutil.WriteFileAtomic(a.fs, path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	})
	if err != nil {
		return fmt.Errorf("保存分析报告失败: %w", err)
	}
	ui.DisplaySuccess("分析报告已保存到: " + path)
	return nil
}
