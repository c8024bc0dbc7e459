package mapping

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// utf8BOM Excel导出CSV时常带的字节顺序标记
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadOptions 映射表读取选项
type ReadOptions struct {
	// Sheet 工作表名称，为空时取第一个工作表
	Sheet string
	// SkipHeader 跳过第一行表头
	SkipHeader bool
}

// SupportedFormats 支持的映射表格式
func SupportedFormats() []string {
	return []string{".xlsx", ".xlsm", ".csv"}
}

// ReadRows 读取映射表文件，返回原始的二维行数据。
// 行数据交给 Build 进行校验和去重。
func ReadRows(path string, opts ReadOptions) ([][]string, error) {
	var (
		rows [][]string
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readExcel(path, opts.Sheet)
	case ".csv":
		rows, err = readCSV(path)
	default:
		return nil, fmt.Errorf("不支持的映射表格式: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("读取映射表失败: %w", err)
	}

	if opts.SkipHeader && len(rows) > 0 {
		rows = rows[1:]
	}
	return rows, nil
}

// Load 读取并构建映射表，校验错误中的行号为文件中的实际行号
func Load(path string, opts ReadOptions) (*Table, []ValidationError, error) {
	rows, err := ReadRows(path, opts)
	if err != nil {
		return nil, nil, err
	}
	firstRow := 1
	if opts.SkipHeader {
		firstRow = 2
	}
	table, errs := BuildFrom(rows, firstRow)
	return table, errs, nil
}

// readExcel 读取Excel工作表
func readExcel(path, sheet string) ([][]string, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	if sheet == "" {
		sheets := wb.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("Excel 中没有任何工作表")
		}
		sheet = sheets[0]
	}

	return wb.GetRows(sheet)
}

// readCSV 读取CSV文件，非UTF-8内容按GB18030解码
func readCSV(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseCSV(data)
}

// parseCSV 解析CSV字节内容
func parseCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	var reader io.Reader = bytes.NewReader(data)
	if !utf8.Valid(data) {
		// 中文Windows下Excel默认以GBK导出CSV
		reader = transform.NewReader(reader, simplifiedchinese.GB18030.NewDecoder())
	}

	r := csv.NewReader(reader)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// TemplateHeader 映射表模板表头
var TemplateHeader = []string{"原文件名", "新文件名"}

// WriteTemplate 将映射条目导出为Excel文件，第一行为表头
func WriteTemplate(path string, entries []Entry) error {
	wb := excelize.NewFile()
	defer wb.Close()

	sheet := wb.GetSheetName(0)
	header := []interface{}{TemplateHeader[0], TemplateHeader[1]}
	if err := wb.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for i, entry := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{entry.OldKey, entry.NewBase}
		if err := wb.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	if err := wb.SetColWidth(sheet, "A", "B", 30); err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return wb.SaveAs(path)
}
