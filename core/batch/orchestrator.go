// Package batch 批量重命名与图片压缩的编排流程
package batch

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"iwms/core/compress"
	"iwms/core/conflict"
	"iwms/core/fsutil"
	"iwms/core/mapping"
	"iwms/core/naming"
	"iwms/core/pool"
)

// DefaultImageExtensions 需要经过压缩引擎的图片扩展名
var DefaultImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp"}

// Options 单次批处理参数
type Options struct {
	// OutputRoot 输出目录，不存在时自动创建
	OutputRoot string              `json:"output_root"`
	Policy     conflict.Policy     `json:"policy"`
	Constraint compress.Constraint `json:"constraint"`
}

// Report 批处理结果
type Report struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Options    Options        `json:"options"`
	Results    []ResultRecord `json:"results"`
	Summary    Summary        `json:"summary"`
}

// Compressor 编排器使用的压缩引擎，*compress.Engine 实现此接口
type Compressor interface {
	Compress(inputPath, outputPath string, c compress.Constraint) compress.Result
	Copy(inputPath, outputPath, message string) compress.Result
}

// Orchestrator 批处理编排器
type Orchestrator struct {
	fs        afero.Fs
	engine    Compressor
	poolCfg   pool.Config
	imageExts map[string]bool
	logger    *zap.Logger
}

// Option 编排器选项
type Option func(*Orchestrator)

// WithImageExtensions 覆盖图片扩展名列表
func WithImageExtensions(exts []string) Option {
	return func(o *Orchestrator) {
		o.imageExts = extensionSet(exts)
	}
}

// NewOrchestrator 创建编排器
func NewOrchestrator(fs afero.Fs, engine Compressor, poolCfg pool.Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		fs:        fs,
		engine:    engine,
		poolCfg:   poolCfg,
		imageExts: extensionSet(DefaultImageExtensions),
		logger:    logger.Named("batch"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func extensionSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}

// IsImage 按扩展名判断是否为图片（大小写不敏感）
func (o *Orchestrator) IsImage(ext string) bool {
	return o.imageExts[strings.ToLower(ext)]
}

// NewFileTask 解析输入文件名
func NewFileTask(sourcePath string) FileTask {
	name := filepath.Base(sourcePath)
	return FileTask{
		SourcePath: sourcePath,
		FileName:   name,
		Parsed:     naming.ParseFileName(name),
	}
}

// target 根据映射表计算新文件名；未命中时返回false
func target(task FileTask, table *mapping.Table) (string, bool) {
	newBase, ok := table.Lookup(task.Parsed.Base)
	if !ok {
		return "", false
	}
	return task.Parsed.WithBase(newBase), true
}

// Preview 预览批处理结果，不写入磁盘。
// 目标已存在于磁盘或已被本批次前面的文件占用时标记为冲突。
func (o *Orchestrator) Preview(files []string, table *mapping.Table, outputRoot string) []ResultRecord {
	records := make([]ResultRecord, 0, len(files))
	claimed := make(map[string]bool, len(files))
	seen := make(map[string]bool, len(files))

	for _, path := range files {
		task := NewFileTask(path)
		record := ResultRecord{SourcePath: path, OriginalName: task.FileName}
		if duplicateSource(seen, path) {
			record.Status = StatusSkipped
			record.Message = MsgDuplicateSource
			records = append(records, record)
			continue
		}

		newName, ok := target(task, table)
		if !ok {
			record.Status = StatusSkipped
			record.Message = MsgNotInMapping
			records = append(records, record)
			continue
		}

		candidate := filepath.Join(outputRoot, newName)
		record.NewName = newName
		record.OutputPath = candidate

		switch {
		case !fsutil.IsWithin(outputRoot, candidate):
			record.Status = StatusError
			record.Message = MsgUnsafeTarget
		case claimed[candidate] || fsutil.Exists(o.fs, candidate):
			record.Status = StatusConflict
			record.Message = MsgTargetExists
			record.Conflict = true
		default:
			record.Status = StatusSuccess
		}
		claimed[candidate] = true
		records = append(records, record)
	}
	return records
}

// compressionTask 派发给工作池的压缩任务，按值传递
type compressionTask struct {
	Index      int
	InputPath  string
	OutputPath string
	Constraint compress.Constraint
}

// compressionOutcome 工作池返回的压缩结果，携带来源记录的索引
type compressionOutcome struct {
	Index  int
	Result compress.Result
}

// Run 执行批处理。
// 第一阶段顺序完成解析、映射、冲突处理与非图片复制，并为图片生成压缩任务；
// 第二阶段把压缩任务作为一个批次交给工作池；最后按记录索引合并结果。
// 单个文件的失败记录为错误状态，只有输出目录无法创建时返回error。
func (o *Orchestrator) Run(files []string, table *mapping.Table, opts Options) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Options:   opts,
	}

	if err := o.fs.MkdirAll(opts.OutputRoot, 0o755); err != nil {
		return nil, fmt.Errorf("无法创建输出目录 %s: %w", opts.OutputRoot, err)
	}

	logger := o.logger.With(zap.String("run_id", report.RunID))
	logger.Info("开始批处理",
		zap.Int("files", len(files)),
		zap.String("output", opts.OutputRoot),
		zap.String("policy", string(opts.Policy)),
		zap.Stringer("constraint", opts.Constraint))

	resolver := conflict.NewResolver(o.fs, opts.Policy)
	records := make([]ResultRecord, len(files))
	seen := make(map[string]bool, len(files))
	var pending []compressionTask

	for i, path := range files {
		if duplicateSource(seen, path) {
			task := NewFileTask(path)
			records[i] = ResultRecord{SourcePath: path, OriginalName: task.FileName, Status: StatusSkipped, Message: MsgDuplicateSource}
			continue
		}
		record, task, queued := o.classify(NewFileTask(path), table, resolver, opts)
		records[i] = record
		if queued {
			task.Index = i
			pending = append(pending, task)
		}
	}

	logger.Debug("分类完成",
		zap.Int("pending_compression", len(pending)),
		zap.Int("claimed_paths", resolver.Claimed()))

	var (
		elapsed time.Duration
		workers int
	)
	if len(pending) > 0 {
		outcome := pool.RunBatch(pending, o.executor(), o.poolCfg, logger)
		records = merge(records, outcome.Results)
		elapsed, workers = outcome.Elapsed, outcome.WorkerCount
		if outcome.Recovered > 0 {
			logger.Warn("部分压缩任务异常，已降级为直接复制", zap.Int64("count", outcome.Recovered))
		}
	}

	report.Results = records
	report.Summary = Summarize(records, elapsed, workers)
	report.FinishedAt = time.Now()

	logger.Info("批处理完成",
		zap.Int("processed", report.Summary.Processed),
		zap.Int("skipped", report.Summary.Skipped),
		zap.Int("conflicts", report.Summary.Conflicts),
		zap.Int("errors", report.Summary.Errors),
		zap.Int("compressed", report.Summary.Compressed),
		zap.Duration("compression_elapsed", elapsed),
		zap.Int("workers", workers))
	return report, nil
}

// duplicateSource 同一源文件在本批次中再次出现时返回true
func duplicateSource(seen map[string]bool, path string) bool {
	key := filepath.Clean(path)
	if seen[key] {
		return true
	}
	seen[key] = true
	return false
}

// classify 处理单个文件的第一阶段，返回最终记录或压缩占位记录
func (o *Orchestrator) classify(task FileTask, table *mapping.Table, resolver *conflict.Resolver, opts Options) (ResultRecord, compressionTask, bool) {
	record := ResultRecord{SourcePath: task.SourcePath, OriginalName: task.FileName}

	newName, ok := target(task, table)
	if !ok {
		record.Status = StatusSkipped
		record.Message = MsgNotInMapping
		return record, compressionTask{}, false
	}

	candidate := filepath.Join(opts.OutputRoot, newName)
	record.NewName = newName
	if !fsutil.IsWithin(opts.OutputRoot, candidate) {
		record.Status = StatusError
		record.Message = MsgUnsafeTarget
		return record, compressionTask{}, false
	}

	resolved := resolver.Resolve(task.SourcePath, candidate)
	record.Conflict = resolved.Conflict
	if resolved.Skip {
		record.Status = StatusSkipped
		record.Message = MsgTargetExists
		return record, compressionTask{}, false
	}
	record.NewName = filepath.Base(resolved.Path)
	record.OutputPath = resolved.Path

	info, err := o.fs.Stat(task.SourcePath)
	if err == nil && info.IsDir() {
		err = fmt.Errorf("%s 是目录", task.SourcePath)
	}
	if err != nil {
		record.Status = StatusError
		record.Message = "处理失败: " + err.Error()
		return record, compressionTask{}, false
	}

	if o.IsImage(task.Parsed.Extension) {
		record.Status = statusPending
		record.Message = MsgPending
		return record, compressionTask{
			InputPath:  task.SourcePath,
			OutputPath: resolved.Path,
			Constraint: opts.Constraint,
		}, true
	}

	if err := fsutil.CopyFile(o.fs, task.SourcePath, resolved.Path); err != nil {
		record.Status = StatusError
		record.Message = "处理失败: " + err.Error()
		o.logger.Warn("复制文件失败", zap.String("source", task.SourcePath), zap.Error(err))
		return record, compressionTask{}, false
	}
	record.Status = StatusSuccess
	return record, compressionTask{}, false
}

// executor 压缩任务执行器；崩溃时回退为直接复制
func (o *Orchestrator) executor() pool.Executor[compressionTask, compressionOutcome] {
	return pool.Funcs[compressionTask, compressionOutcome]{
		Exec: func(t compressionTask) compressionOutcome {
			return compressionOutcome{
				Index:  t.Index,
				Result: o.engine.Compress(t.InputPath, t.OutputPath, t.Constraint),
			}
		},
		OnFailure: func(t compressionTask, cause error) compressionOutcome {
			res := o.engine.Copy(t.InputPath, t.OutputPath, "压缩失败: "+cause.Error()+"，已复制原文件")
			return compressionOutcome{Index: t.Index, Result: res}
		},
	}
}

// merge 将压缩结果按索引合并为最终记录列表，输入切片不被修改
func merge(records []ResultRecord, outcomes []compressionOutcome) []ResultRecord {
	final := make([]ResultRecord, len(records))
	copy(final, records)

	for _, out := range outcomes {
		if out.Index < 0 || out.Index >= len(final) {
			continue
		}
		rec := &final[out.Index]
		if rec.Status != statusPending || rec.SourcePath != out.Result.InputPath {
			continue
		}
		rec.Compressed = out.Result.Compressed
		rec.Message = out.Result.Message
		if out.Result.Err != nil {
			rec.Status = StatusError
		} else {
			rec.Status = StatusSuccess
		}
	}

	for i := range final {
		if final[i].Status == statusPending {
			final[i].Status = StatusError
			final[i].Message = MsgResultMissing
		}
	}
	return final
}
