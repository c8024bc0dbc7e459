// Package report 将批处理结果导出为CSV、Excel、JSON报告和文本摘要
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"

	"iwms/core/batch"
	"iwms/core/fsutil"
)

// Kind 报告类型
type Kind string

const (
	KindExecution Kind = "execution"
	KindPreview   Kind = "preview"
)

// Format 报告格式
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// ParseFormat 解析报告格式
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatXLSX, "excel":
		return FormatXLSX, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("未知的报告格式: %q (可选: csv, xlsx, json)", s)
}

// Header 结果报告表头
var Header = []string{"源文件路径", "原文件名", "新文件名", "处理状态", "备注/错误信息"}

// utf8BOM 让Excel正确识别UTF-8编码的CSV
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Data 待导出的内容
type Data struct {
	Results   []batch.ResultRecord
	Summary   batch.Summary
	OutputDir string
	// Report 完整批处理结果，仅JSON格式使用；为空时由Results和Summary构造
	Report *batch.Report
}

// FileName 生成带时间戳的报告文件名，例如 处理报告_2006-01-02T15-04-05.csv
func FileName(kind Kind, format Format, now time.Time) string {
	var builder strings.Builder
	if kind == KindPreview {
		builder.WriteString("预览报告_")
	} else {
		builder.WriteString("处理报告_")
	}
	builder.WriteString(now.Format("2006-01-02T15-04-05"))
	builder.WriteString(".")
	builder.WriteString(string(format))
	return builder.String()
}

// Export 在目录下写入报告文件，返回文件路径
func Export(fs afero.Fs, dir string, kind Kind, format Format, data Data) (string, error) {
	path := filepath.Join(dir, FileName(kind, format, time.Now()))

	err := fsutil.WriteFileAtomic(fs, path, func(w io.Writer) error {
		switch format {
		case FormatCSV:
			return WriteCSV(w, data.Results)
		case FormatXLSX:
			return WriteXLSX(w, data.Results, data.Summary)
		case FormatJSON:
			report := data.Report
			if report == nil {
				report = &batch.Report{Results: data.Results, Summary: data.Summary}
			}
			return WriteJSON(w, report)
		}
		return fmt.Errorf("未知的报告格式: %s", format)
	})
	if err != nil {
		return "", fmt.Errorf("导出报告失败: %w", err)
	}
	return path, nil
}

// row 单条记录对应的表格行
func row(r batch.ResultRecord) []string {
	return []string{r.SourcePath, r.OriginalName, r.NewName, r.Status.Label(), r.Message}
}

// WriteCSV 写入带BOM的UTF-8 CSV
func WriteCSV(w io.Writer, records []batch.ResultRecord) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(row(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX 写入Excel报告：第一个工作表为结果明细，第二个为统计摘要
func WriteXLSX(w io.Writer, records []batch.ResultRecord, summary batch.Summary) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "处理结果"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}
	if err := setRow(f, sheet, 1, Header); err != nil {
		return err
	}
	for i, r := range records {
		if err := setRow(f, sheet, i+2, row(r)); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 50)
	_ = f.SetColWidth(sheet, "B", "C", 30)
	_ = f.SetColWidth(sheet, "E", "E", 50)

	summarySheet := "统计摘要"
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	for i, line := range summaryRows(summary) {
		if err := setRow(f, summarySheet, i+1, line); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 16)

	_, err := f.WriteTo(w)
	return err
}

func setRow(f *excelize.File, sheet string, rowNum int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return f.SetSheetRow(sheet, cell, &cells)
}

// summaryRows 摘要的键值行
func summaryRows(s batch.Summary) [][]string {
	return [][]string{
		{"总文件数", fmt.Sprint(s.Total)},
		{"成功处理", fmt.Sprint(s.Processed)},
		{"跳过文件", fmt.Sprint(s.Skipped)},
		{"冲突文件", fmt.Sprint(s.Conflicts)},
		{"错误文件", fmt.Sprint(s.Errors)},
		{"压缩文件", fmt.Sprint(s.Compressed)},
		{"压缩耗时", s.CompressionElapsed.Round(time.Millisecond).String()},
		{"使用线程", fmt.Sprint(s.WorkerCount)},
	}
}

// WriteJSON 写入完整的JSON报告
func WriteJSON(w io.Writer, report *batch.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// percent 计算百分比，总数为0时返回0
func percent(n, total int) int {
	if total == 0 {
		return 0
	}
	return (n*100 + total/2) / total
}

// WriteSummary 写入可读的文本摘要
func WriteSummary(w io.Writer, s batch.Summary, outputDir string) error {
	var b strings.Builder
	b.WriteString("IWMS 文件处理摘要报告\n")
	fmt.Fprintf(&b, "生成时间: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString("==========================================\n\n")

	b.WriteString("基本统计:\n")
	for _, line := range summaryRows(s) {
		if line[0] == "压缩耗时" && s.CompressionElapsed == 0 {
			break
		}
		fmt.Fprintf(&b, "- %s: %s\n", line[0], line[1])
	}
	if outputDir != "" {
		fmt.Fprintf(&b, "- 输出目录: %s\n", outputDir)
	}

	b.WriteString("\n处理结果:\n")
	fmt.Fprintf(&b, "- 成功率: %d%%\n", percent(s.Processed, s.Total))
	fmt.Fprintf(&b, "- 跳过率: %d%%\n", percent(s.Skipped, s.Total))
	fmt.Fprintf(&b, "- 冲突率: %d%%\n", percent(s.Conflicts, s.Total))
	fmt.Fprintf(&b, "- 错误率: %d%%\n", percent(s.Errors, s.Total))

	_, err := io.WriteString(w, b.String())
	return err
}
