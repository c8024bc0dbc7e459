package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"iwms/core/fsutil"
	"iwms/core/mapping"
	"iwms/core/naming"
	"iwms/core/report"
	"iwms/internal/ui"
)

func (a *app) newMappingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "检查映射表或生成映射表模板",
	}
	cmd.AddCommand(a.newMappingCheckCmd(), a.newMappingTemplateCmd())
	return cmd
}

func (a *app) newMappingCheckCmd() *cobra.Command {
	var (
		sheet      string
		skipHeader bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "check <映射表>",
		Short: "校验映射表，列出重复、空值和非法名称",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := fsutil.NormalizePath(args[0])
			if err != nil {
				return err
			}
			opts := mapping.ReadOptions{Sheet: a.cfg.Mapping.Sheet, SkipHeader: a.cfg.Mapping.SkipHeader}
			if cmd.Flags().Changed("sheet") {
				opts.Sheet = sheet
			}
			if cmd.Flags().Changed("skip-header") {
				opts.SkipHeader = skipHeader
			}

			table, errs, err := mapping.Load(path, opts)
			if err != nil {
				return err
			}

			if asJSON {
				if err := printJSON(cmd, struct {
					Entries  []mapping.Entry           `json:"entries"`
					Errors   []mapping.ValidationError `json:"errors"`
					Warnings []mapping.ValidationError `json:"warnings"`
				}{table.Entries(), errs, table.Warnings()}); err != nil {
					return err
				}
			} else {
				ui.RenderValidation(table, errs)
			}

			if len(errs) > 0 {
				return fmt.Errorf("映射表存在 %d 条错误", len(errs))
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&sheet, "sheet", "", "工作表名称")
	flags.BoolVar(&skipHeader, "skip-header", false, "跳过第一行")
	flags.BoolVar(&asJSON, "json", false, "以JSON输出")
	return cmd
}

func (a *app) newMappingTemplateCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "template <输出文件>",
		Short: "生成映射表模板 (.xlsx 或 .csv)",
		Long: `生成第一行为 "原文件名, 新文件名" 的映射表模板。
指定 --from 时扫描该目录，把所有主文件名填入第一列，第二列留空待填写。

示例：
  iwms mapping template 映射表.xlsx --from ./photos`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := fsutil.NormalizePath(args[0])
			if err != nil {
				return err
			}

			var entries []mapping.Entry
			if from != "" {
				dir, err := a.inputDir(from)
				if err != nil {
					return err
				}
				scanned, err := a.collectFiles(cmd.Context(), dir, a.cfg)
				if err != nil {
					return err
				}
				entries = templateEntries(scanned.Paths())
			}

			switch strings.ToLower(filepath.Ext(out)) {
			case ".csv":
				if err := a.fs.MkdirAll(filepath.Dir(out), 0o755); err != nil {
					return err
				}
				err = fsutil.WriteFileAtomic(a.fs, out, func(w io.Writer) error {
					return report.WriteMappingCSV(w, entries)
				})
			case ".xlsx":
				err = mapping.WriteTemplate(out, entries)
			default:
				return fmt.Errorf("不支持的模板格式: %s (可选: .xlsx, .csv)", filepath.Ext(out))
			}
			if err != nil {
				return fmt.Errorf("生成模板失败: %w", err)
			}
			ui.DisplaySuccess(fmt.Sprintf("模板已生成: %s (%d 行)", out, len(entries)))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "从目录收集原文件名")
	return cmd
}

// templateEntries 去重后的主文件名，按名称排序
func templateEntries(paths []string) []mapping.Entry {
	seen := make(map[string]bool, len(paths))
	var bases []string
	for _, path := range paths {
		base := naming.ParseFileName(filepath.Base(path)).Base
		if base == "" || seen[base] {
			continue
		}
		seen[base] = true
		bases = append(bases, base)
	}
	sort.Strings(bases)

	entries := make([]mapping.Entry, len(bases))
	for i, base := range bases {
		entries[i] = mapping.Entry{OldKey: base, Row: i + 2}
	}
	return entries
}
