package naming

import (
	"regexp"
	"strconv"
	"strings"
)

// 文件名匹配规则，按优先级排列
var (
	// numberedPattern 带编号的文件名: filename (1).ext
	numberedPattern = regexp.MustCompile(`^(.+?)\s*\((\d+)\)(\.[^.]+)$`)
	// simplePattern 不带编号的文件名: filename.ext
	simplePattern = regexp.MustCompile(`^(.+?)(\.[^.]+)$`)
)

// ParsedName 文件名解析结果
type ParsedName struct {
	// Base 主文件名（编号和扩展名之前的部分）
	Base string `json:"base"`
	// Sequence 括号中的编号，保留原始数字串；为空表示没有编号
	Sequence string `json:"sequence,omitempty"`
	// Extension 扩展名，包含前导点；无扩展名时为空
	Extension string `json:"extension"`
}

// HasSequence 是否带有编号
func (p ParsedName) HasSequence() bool {
	return p.Sequence != ""
}

// SequenceNumber 返回编号的数值，用于排序比较
func (p ParsedName) SequenceNumber() (int, bool) {
	if p.Sequence == "" {
		return 0, false
	}
	n, err := strconv.Atoi(p.Sequence)
	if err != nil {
		// 超长数字串无法转换，仍视为有编号
		return 0, true
	}
	return n, true
}

// Reconstruct 按规范形式重建文件名: base + " (seq)" + ext
func (p ParsedName) Reconstruct() string {
	return p.WithBase(p.Base)
}

// WithBase 用新的主文件名替换，保留编号和扩展名
func (p ParsedName) WithBase(base string) string {
	var builder strings.Builder
	builder.Grow(len(base) + len(p.Sequence) + len(p.Extension) + 3)
	builder.WriteString(base)
	if p.Sequence != "" {
		builder.WriteString(" (")
		builder.WriteString(p.Sequence)
		builder.WriteString(")")
	}
	builder.WriteString(p.Extension)
	return builder.String()
}

// ParseFileName 将文件名拆分为主名、编号和扩展名。
// 该函数对任何输入都返回结果：无法识别的名称整体作为主名。
// 多个点时以最后一个点作为扩展名边界。
func ParseFileName(fileName string) ParsedName {
	if m := numberedPattern.FindStringSubmatch(fileName); m != nil {
		return ParsedName{
			Base:      strings.TrimSpace(m[1]),
			Sequence:  m[2],
			Extension: m[3],
		}
	}

	if m := simplePattern.FindStringSubmatch(fileName); m != nil {
		return ParsedName{
			Base:      strings.TrimSpace(m[1]),
			Extension: m[2],
		}
	}

	// 无扩展名
	return ParsedName{Base: fileName}
}
