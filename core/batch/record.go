package batch

import (
	"time"

	"iwms/core/naming"
)

// Status 单个文件的处理状态
type Status string

const (
	StatusSuccess  Status = "success"
	StatusSkipped  Status = "skipped"
	StatusConflict Status = "conflict"
	StatusError    Status = "error"
	// statusPending 等待压缩结果的占位状态，不会出现在最终结果中
	statusPending Status = "pending"
)

// Label 状态的中文名称
func (s Status) Label() string {
	switch s {
	case StatusSuccess:
		return "成功"
	case StatusSkipped:
		return "跳过"
	case StatusConflict:
		return "冲突"
	case StatusError:
		return "错误"
	case statusPending:
		return "等待中"
	}
	return string(s)
}

// 结果消息
const (
	MsgNotInMapping    = "未命中映射表"
	MsgTargetExists    = "目标文件已存在"
	MsgPending         = "等待压缩处理"
	MsgUnsafeTarget    = "目标路径超出输出目录"
	MsgResultMissing   = "未收到压缩结果"
	MsgDuplicateSource = "重复的输入文件，已跳过"
)

// FileTask 单个输入文件，编排开始时创建，之后不再修改
type FileTask struct {
	SourcePath string            `json:"source_path"`
	FileName   string            `json:"file_name"`
	Parsed     naming.ParsedName `json:"parsed"`
}

// ResultRecord 单个输入文件的最终处理记录
type ResultRecord struct {
	SourcePath   string `json:"source_path"`
	OriginalName string `json:"original_name"`
	NewName      string `json:"new_name"`
	OutputPath   string `json:"output_path,omitempty"`
	Status       Status `json:"status"`
	Message      string `json:"message"`
	// Conflict 候选目标路径已被占用（跳过、覆盖或追加后缀）
	Conflict bool `json:"conflict,omitempty"`
	// Compressed 图片被重新编码
	Compressed bool `json:"compressed,omitempty"`
}

// Summary 由结果记录汇总的统计，不单独持久化
type Summary struct {
	Processed          int           `json:"processed"`
	Skipped            int           `json:"skipped"`
	Conflicts          int           `json:"conflicts"`
	Errors             int           `json:"errors"`
	Compressed         int           `json:"compressed"`
	CompressionElapsed time.Duration `json:"compression_elapsed"`
	WorkerCount        int           `json:"worker_count"`
	Total              int           `json:"total"`
}

// Summarize 从结果记录计算统计
func Summarize(records []ResultRecord, compressionElapsed time.Duration, workerCount int) Summary {
	s := Summary{
		CompressionElapsed: compressionElapsed,
		WorkerCount:        workerCount,
		Total:              len(records),
	}
	for _, r := range records {
		switch r.Status {
		case StatusSuccess:
			s.Processed++
		case StatusSkipped:
			s.Skipped++
		case StatusError:
			s.Errors++
		}
		if r.Conflict || r.Status == StatusConflict {
			s.Conflicts++
		}
		if r.Compressed {
			s.Compressed++
		}
	}
	return s
}
