package ui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"iwms/core/batch"
	"iwms/core/compress"
	"iwms/core/history"
	"iwms/core/mapping"
	"iwms/core/naming"
	"iwms/core/organize"
	"iwms/core/pool"
	"iwms/core/scan"
)

// resultHeader 结果表格表头
var resultHeader = []string{"原文件名", "新文件名", "状态", "备注"}

// ResultTableData 结果表格数据，limit>0 时只取前 limit 条
func ResultTableData(records []batch.ResultRecord, limit int) pterm.TableData {
	data := pterm.TableData{resultHeader}
	for i, r := range records {
		if limit > 0 && i >= limit {
			break
		}
		newName := r.NewName
		if newName == "" {
			newName = "-"
		}
		data = append(data, []string{r.OriginalName, newName, colorStatus(r.Status), r.Message})
	}
	return data
}

// colorStatus 按状态着色
func colorStatus(s batch.Status) string {
	label := s.Label()
	switch s {
	case batch.StatusSuccess:
		return pterm.Green(label)
	case batch.StatusSkipped:
		return pterm.Gray(label)
	case batch.StatusConflict:
		return pterm.Yellow(label)
	case batch.StatusError:
		return pterm.Red(label)
	}
	return label
}

// RenderResults 输出结果表格
func RenderResults(records []batch.ResultRecord, limit int) error {
	if len(records) == 0 {
		DisplayInfo("没有任何文件")
		return nil
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(ResultTableData(records, limit)).Render(); err != nil {
		return err
	}
	if limit > 0 && len(records) > limit {
		pterm.Info.Printfln("仅显示前 %d 条，共 %d 条，完整结果见报告文件", limit, len(records))
	}
	return nil
}

// SummaryItems 摘要条目
func SummaryItems(s batch.Summary, outputDir string) []string {
	items := []string{
		"总文件数: " + strconv.Itoa(s.Total),
		"成功处理: " + strconv.Itoa(s.Processed),
		"跳过: " + strconv.Itoa(s.Skipped),
		"冲突: " + strconv.Itoa(s.Conflicts),
		"错误: " + strconv.Itoa(s.Errors),
	}
	if s.Compressed > 0 || s.CompressionElapsed > 0 {
		items = append(items,
			"已压缩图片: "+strconv.Itoa(s.Compressed),
			"压缩耗时: "+s.CompressionElapsed.Round(time.Millisecond).String(),
			"工作线程: "+strconv.Itoa(s.WorkerCount),
		)
	}
	if outputDir != "" {
		items = append(items, "输出目录: "+outputDir)
	}
	return items
}

// RenderSummary 输出处理摘要
func RenderSummary(s batch.Summary, outputDir string) error {
	pterm.DefaultSection.Println("处理摘要")

	items := SummaryItems(s, outputDir)
	bullets := make([]pterm.BulletListItem, 0, len(items))
	for _, item := range items {
		bullets = append(bullets, pterm.BulletListItem{Level: 0, Text: item})
	}
	if err := pterm.DefaultBulletList.WithItems(bullets).Render(); err != nil {
		return err
	}

	switch {
	case s.Errors > 0:
		DisplayWarning(fmt.Sprintf("%d 个文件处理失败，详见报告", s.Errors))
	case s.Total > 0:
		DisplaySuccess("处理完成")
	}
	return nil
}

// RenderValidation 输出映射表校验结果
func RenderValidation(table *mapping.Table, errs []mapping.ValidationError) {
	for _, e := range errs {
		DisplayWarning("映射表" + e.Error())
	}
	for _, w := range table.Warnings() {
		DisplayInfo("映射表" + w.Error())
	}
	DisplayInfo(fmt.Sprintf("映射表共 %d 条有效映射，%d 条错误", table.Len(), len(errs)))
}

// ParsedTableData 文件名解析表格数据
func ParsedTableData(names []string) pterm.TableData {
	data := pterm.TableData{{"文件名", "主文件名", "序号", "扩展名"}}
	for _, name := range names {
		p := naming.ParseFileName(name)
		seq := "-"
		if p.HasSequence() {
			seq = p.Sequence
		}
		ext := p.Extension
		if ext == "" {
			ext = "-"
		}
		data = append(data, []string{name, p.Base, seq, ext})
	}
	return data
}

// RenderParsed 输出文件名解析结果
func RenderParsed(names []string) error {
	return pterm.DefaultTable.WithHasHeader().WithData(ParsedTableData(names)).Render()
}

// ScanStatsData 扫描统计表格数据，按文件数降序
func ScanStatsData(stats scan.Stats) pterm.TableData {
	data := pterm.TableData{{"扩展名", "文件数", "总大小"}}
	for _, ext := range stats.SortedExtensions() {
		es := stats.ByExtension[ext]
		data = append(data, []string{ext, strconv.Itoa(es.Count), FormatBytes(es.Size)})
	}
	return data
}

// RenderScanStats 输出扫描统计
func RenderScanStats(stats scan.Stats) error {
	DisplayInfo(fmt.Sprintf("共 %d 个文件，总大小 %s", stats.TotalFiles, FormatBytes(stats.TotalSize)))
	if stats.TotalFiles == 0 {
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(ScanStatsData(stats)).Render()
}

// RunTableData 运行历史表格数据
func RunTableData(runs []history.RunInfo) pterm.TableData {
	data := pterm.TableData{{"运行ID", "开始时间", "输出目录", "总数", "成功", "跳过", "错误"}}
	for _, r := range runs {
		data = append(data, []string{
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Options.OutputRoot,
			strconv.Itoa(r.Summary.Total),
			strconv.Itoa(r.Summary.Processed),
			strconv.Itoa(r.Summary.Skipped),
			strconv.Itoa(r.Summary.Errors),
		})
	}
	return data
}

// RenderRuns 输出运行历史
func RenderRuns(runs []history.RunInfo) error {
	if len(runs) == 0 {
		DisplayInfo("暂无运行记录")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(RunTableData(runs)).Render()
}

// shortID 运行ID的前8位，可直接用于 history show
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FormatBytes 字节数转为可读字符串
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(n)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "B"
}

// CompressionItems 单文件压缩结果条目
func CompressionItems(res compress.Result, c compress.Constraint) []string {
	items := []string{
		"约束: " + c.String(),
		"输出: " + res.OutputPath,
		fmt.Sprintf("原图: %dx%d, %s", res.OriginalSize.Width, res.OriginalSize.Height, FormatBytes(res.OriginalSize.Bytes)),
		fmt.Sprintf("结果: %dx%d, %s", res.NewSize.Width, res.NewSize.Height, FormatBytes(res.NewSize.Bytes)),
	}
	if res.Quality > 0 {
		items = append(items, "编码质量: "+strconv.Itoa(res.Quality))
	}
	if res.Message != "" {
		items = append(items, "备注: "+res.Message)
	}
	return items
}

// RenderCompression 输出单文件压缩结果
func RenderCompression(res compress.Result, c compress.Constraint) {
	bullets := make([]pterm.BulletListItem, 0, 6)
	for _, item := range CompressionItems(res, c) {
		bullets = append(bullets, pterm.BulletListItem{Level: 0, Text: item})
	}
	_ = pterm.DefaultBulletList.WithItems(bullets).Render()

	switch {
	case !res.OK():
		DisplayError(res.Err)
	case res.Compressed:
		DisplaySuccess("压缩完成")
	default:
		DisplayInfo("未重新编码，已原样复制")
	}
}

// PlanItems 工作器决策条目
func PlanItems(plan pool.Plan, threshold float64) []string {
	items := []string{
		"可用CPU: " + strconv.Itoa(plan.CPUs),
		"线程上限: " + strconv.Itoa(plan.MaxThreads),
		"任务数: " + strconv.Itoa(plan.TaskCount),
	}
	if plan.MemoryUsed >= 0 {
		items = append(items, fmt.Sprintf("内存使用率: %.1f%% (阈值 %.0f%%)", plan.MemoryUsed, threshold))
	}
	items = append(items,
		"工作器: "+strconv.Itoa(plan.Workers),
		"说明: "+plan.Reason,
	)
	return items
}

// RenderPlan 输出工作器决策
func RenderPlan(plan pool.Plan, threshold float64) error {
	pterm.DefaultSection.Println("工作池")
	bullets := make([]pterm.BulletListItem, 0, 6)
	for _, item := range PlanItems(plan, threshold) {
		bullets = append(bullets, pterm.BulletListItem{Level: 0, Text: item})
	}
	return pterm.DefaultBulletList.WithItems(bullets).Render()
}

// RenamePlanData 重新编号计划表格数据，只包含名称会变化的文件
func RenamePlanData(renames []organize.Rename) pterm.TableData {
	data := pterm.TableData{{"目录", "原文件名", "新文件名", "原因"}}
	for _, r := range renames {
		if !r.Changed() {
			continue
		}
		data = append(data, []string{r.Dir, r.OldName, r.NewName, r.Reason})
	}
	return data
}

// RenderRenamePlan 输出重新编号计划
func RenderRenamePlan(plan *organize.Plan) error {
	if plan.WillRename() == 0 {
		DisplayInfo("所有文件已符合编号规则，无需重命名")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(RenamePlanData(plan.Renames)).Render()
}

// MoveTableData 按前缀分目录的表格数据
func MoveTableData(moves []organize.Move, limit int) pterm.TableData {
	data := pterm.TableData{{"文件", "目标目录", "状态", "备注"}}
	for i, m := range moves {
		if limit > 0 && i >= limit {
			break
		}
		data = append(data, []string{m.Source, m.Folder, colorMoveStatus(m.Status), m.Reason})
	}
	return data
}

func colorMoveStatus(status string) string {
	switch status {
	case organize.MoveStatusMoved:
		return pterm.Green(status)
	case organize.MoveStatusSkipped:
		return pterm.Gray(status)
	case organize.MoveStatusFailed:
		return pterm.Red(status)
	}
	return status
}

// RenderMoves 输出移动记录
func RenderMoves(moves []organize.Move, limit int) error {
	if len(moves) == 0 {
		DisplayInfo("没有需要分组的文件")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(MoveTableData(moves, limit)).Render()
}
