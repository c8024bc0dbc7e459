// Package compress 图片压缩引擎：按尺寸或按文件大小重新编码，任何失败都回退为原样复制
package compress

import (
	"fmt"
	"strings"
)

// Mode 压缩模式
type Mode string

const (
	// ModeDimension 按最长边像素限制压缩
	ModeDimension Mode = "dimension"
	// ModeFileSize 按文件大小上限压缩
	ModeFileSize Mode = "filesize"
	// ModeNone 不压缩，直接复制
	ModeNone Mode = "none"
)

// ParseMode 解析压缩模式名称
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDimension:
		return ModeDimension, nil
	case ModeFileSize, "size":
		return ModeFileSize, nil
	case ModeNone, "":
		return ModeNone, nil
	}
	return "", fmt.Errorf("未知的压缩模式: %q (可选: dimension, filesize, none)", s)
}

// Constraint 压缩约束
type Constraint struct {
	Kind Mode `json:"kind"`
	// Value 尺寸模式下为最长边像素，大小模式下为字节数
	Value int64 `json:"value"`
}

// DimensionConstraint 最长边不超过 maxDimension 像素
func DimensionConstraint(maxDimension int) Constraint {
	return Constraint{Kind: ModeDimension, Value: int64(maxDimension)}
}

// FileSizeConstraint 文件不超过 maxBytes 字节
func FileSizeConstraint(maxBytes int64) Constraint {
	return Constraint{Kind: ModeFileSize, Value: maxBytes}
}

// String 约束的可读形式
func (c Constraint) String() string {
	switch c.Kind {
	case ModeDimension:
		return fmt.Sprintf("最长边 %dpx", c.Value)
	case ModeFileSize:
		return fmt.Sprintf("不超过 %dKB", c.Value/1024)
	}
	return "不压缩"
}

// Size 图片尺寸与文件大小
type Size struct {
	Width  int   `json:"width"`
	Height int   `json:"height"`
	Bytes  int64 `json:"bytes"`
}

// KB 文件大小（KB，四舍五入）
func (s Size) KB() int64 {
	return (s.Bytes + 512) / 1024
}

// Result 单个文件的压缩结果
type Result struct {
	InputPath    string `json:"input_path"`
	OutputPath   string `json:"output_path"`
	Compressed   bool   `json:"compressed"`
	OriginalSize Size   `json:"original_size"`
	NewSize      Size   `json:"new_size"`
	// Quality 最终使用的编码质量，未重新编码时为0
	Quality int    `json:"quality,omitempty"`
	Message string `json:"message"`
	// Err 仅当回退复制也失败、输出文件不存在时设置
	Err error `json:"-"`
}

// OK 输出文件已生成
func (r Result) OK() bool {
	return r.Err == nil
}

// Settings 压缩参数
type Settings struct {
	// DimensionQuality 尺寸模式的固定编码质量
	DimensionQuality int `json:"dimension_quality"`
	// StartQuality 大小模式的起始质量
	StartQuality int `json:"start_quality"`
	// QualityStep 每轮降低的质量
	QualityStep int `json:"quality_step"`
	// QualityFloor 质量下限，到达后停止迭代
	QualityFloor int `json:"quality_floor"`
	// ResizeQualityThreshold 质量降到该值后开始同时缩小尺寸
	ResizeQualityThreshold int `json:"resize_quality_threshold"`
	// ResizeFactor 每轮尺寸缩放比例
	ResizeFactor float64 `json:"resize_factor"`
	// MinDimension 缩小后任一边低于该值即停止
	MinDimension int `json:"min_dimension"`
}

// DefaultSettings 默认压缩参数
func DefaultSettings() Settings {
	return Settings{
		DimensionQuality:       90,
		StartQuality:           85,
		QualityStep:            5,
		QualityFloor:           10,
		ResizeQualityThreshold: 30,
		ResizeFactor:           0.9,
		MinDimension:           100,
	}
}

// normalized 将越界参数替换为默认值
func (s Settings) normalized() Settings {
	def := DefaultSettings()
	if s.DimensionQuality < 1 || s.DimensionQuality > 100 {
		s.DimensionQuality = def.DimensionQuality
	}
	if s.StartQuality < 1 || s.StartQuality > 100 {
		s.StartQuality = def.StartQuality
	}
	if s.QualityStep < 1 {
		s.QualityStep = def.QualityStep
	}
	if s.QualityFloor < 1 || s.QualityFloor >= s.StartQuality {
		s.QualityFloor = min(def.QualityFloor, s.StartQuality-1)
	}
	if s.ResizeQualityThreshold <= 0 {
		s.ResizeQualityThreshold = def.ResizeQualityThreshold
	}
	if s.ResizeQualityThreshold < s.QualityFloor {
		s.ResizeQualityThreshold = s.QualityFloor
	}
	if s.ResizeFactor <= 0 || s.ResizeFactor >= 1 {
		s.ResizeFactor = def.ResizeFactor
	}
	if s.MinDimension < 1 {
		s.MinDimension = def.MinDimension
	}
	return s
}
