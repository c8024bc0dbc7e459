package mapping

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// 文件名长度上限（大多数文件系统的单个路径组件限制）
const maxNameLength = 255

// illegalNameChars 新文件名中不允许出现的字符
const illegalNameChars = `<>:"/\|?*`

// Entry 映射条目
type Entry struct {
	OldKey  string `json:"old_key"`
	NewBase string `json:"new_base"`
	// Row 来源行号（从1开始）
	Row int `json:"row"`
}

// ValidationError 映射表校验错误
type ValidationError struct {
	Row    int    `json:"row"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Error 实现error接口
func (e ValidationError) Error() string {
	var builder strings.Builder
	builder.WriteString("第")
	builder.WriteString(strconv.Itoa(e.Row))
	builder.WriteString("行: ")
	builder.WriteString(e.Reason)
	builder.WriteString(" \"")
	builder.WriteString(e.Key)
	builder.WriteString("\"")
	return builder.String()
}

// 校验错误原因
const (
	ReasonDuplicateKey = "重复的旧名称"
	ReasonIllegalName  = "新名称包含非法字符"
	ReasonReservedName = "新名称不能为 . 或 .."
	ReasonNameTooLong  = "名称过长"
)

// Table 旧名称到新主文件名的查找表
type Table struct {
	entries  map[string]Entry
	order    []string
	warnings []ValidationError
}

// Build 从二维行数据构建映射表。
// 少于两个非空字段的行被静默忽略；重复的旧名称保留第一次出现的值，
// 之后的每次重复都会产生一条校验错误。
func Build(rows [][]string) (*Table, []ValidationError) {
	return BuildFrom(rows, 1)
}

// BuildFrom 同 Build，rows[0] 对应源文件的第 firstRow 行，用于跳过表头后保持行号一致
func BuildFrom(rows [][]string, firstRow int) (*Table, []ValidationError) {
	if firstRow < 1 {
		firstRow = 1
	}
	table := &Table{
		entries: make(map[string]Entry, len(rows)),
	}
	var errs []ValidationError

	for i, row := range rows {
		rowNum := firstRow + i
		if len(row) < 2 {
			continue
		}
		oldKey := strings.TrimSpace(row[0])
		newBase := strings.TrimSpace(row[1])
		if oldKey == "" || newBase == "" {
			continue
		}

		if _, exists := table.entries[oldKey]; exists {
			errs = append(errs, ValidationError{Row: rowNum, Key: oldKey, Reason: ReasonDuplicateKey})
			continue
		}

		if reason := checkNewBase(newBase); reason != "" {
			errs = append(errs, ValidationError{Row: rowNum, Key: newBase, Reason: reason})
			continue
		}

		if utf8.RuneCountInString(oldKey) > maxNameLength {
			table.warnings = append(table.warnings, ValidationError{Row: rowNum, Key: oldKey, Reason: ReasonNameTooLong})
		}
		if utf8.RuneCountInString(newBase) > maxNameLength {
			table.warnings = append(table.warnings, ValidationError{Row: rowNum, Key: newBase, Reason: ReasonNameTooLong})
		}

		table.entries[oldKey] = Entry{OldKey: oldKey, NewBase: newBase, Row: rowNum}
		table.order = append(table.order, oldKey)
	}

	return table, errs
}

// checkNewBase 检查新名称能否安全地作为文件名使用
func checkNewBase(name string) string {
	if name == "." || name == ".." {
		return ReasonReservedName
	}
	if strings.ContainsAny(name, illegalNameChars) {
		return ReasonIllegalName
	}
	return ""
}

// Lookup 按旧名称查找新主文件名，查询键会先去除首尾空白，大小写敏感
func (t *Table) Lookup(key string) (string, bool) {
	if t == nil {
		return "", false
	}
	entry, ok := t.entries[strings.TrimSpace(key)]
	if !ok {
		return "", false
	}
	return entry.NewBase, true
}

// Len 映射条目数量
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Entries 按插入顺序返回所有条目
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	entries := make([]Entry, 0, len(t.order))
	for _, key := range t.order {
		entries = append(entries, t.entries[key])
	}
	return entries
}

// Warnings 不影响使用的提示信息（如名称过长）
func (t *Table) Warnings() []ValidationError {
	if t == nil {
		return nil
	}
	return t.warnings
}
