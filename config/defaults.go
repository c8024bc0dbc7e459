package config

import (
	"github.com/spf13/viper"

	"iwms/core/batch"
	"iwms/core/compress"
	"iwms/core/pool"
)

// CurrentVersion 当前配置文件版本
const CurrentVersion = "2.0"

const (
	defaultOutputDirPrefix = "IWMS_重命名结果"
	defaultDebounceMS      = 1500

	defaultMaxFolderNameLength = 100
	minFolderNameLength        = 16
)

// defaultImageExtensions 默认图片扩展名
func defaultImageExtensions() []string {
	return append([]string(nil), batch.DefaultImageExtensions...)
}

// setDefaultValues 设置所有默认配置值
func setDefaultValues(v *viper.Viper) {
	v.SetDefault("version", CurrentVersion)

	setRenameDefaults(v)
	setCompressionDefaults(v)
	setConcurrencyDefaults(v)

	// 映射表
	v.SetDefault("mapping.sheet", "")
	v.SetDefault("mapping.skip_header", false)

	// 扫描
	v.SetDefault("scan.recursive", true)
	v.SetDefault("scan.file_types", "image")
	v.SetDefault("scan.include_hidden", false)
	v.SetDefault("scan.exclude", []string{})

	v.SetDefault("image_extensions", defaultImageExtensions())

	// 日志
	v.SetDefault("logging.level", "error")
	v.SetDefault("logging.enable_file", true)
	v.SetDefault("logging.enable_console", true)
	v.SetDefault("logging.log_dir", "")

	// 运行历史
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.db_path", "")
	v.SetDefault("history.max_runs", 200)

	// 报告
	v.SetDefault("report.enabled", true)
	v.SetDefault("report.format", "csv")

	v.SetDefault("watch.debounce_ms", defaultDebounceMS)

	// 目录整理
	v.SetDefault("organize.mode", "a")
	v.SetDefault("organize.case_sensitive", false)
	v.SetDefault("organize.sanitize", true)
	v.SetDefault("organize.max_folder_name_length", defaultMaxFolderNameLength)
	v.SetDefault("organize.move_log", true)

	v.SetDefault("advanced.enable_hot_reload", false)
}

// setRenameDefaults 设置重命名默认值
func setRenameDefaults(v *viper.Viper) {
	v.SetDefault("rename.conflict_policy", "skip")
	v.SetDefault("rename.timestamped_output", true)
	v.SetDefault("rename.output_dir_prefix", defaultOutputDirPrefix)
}

// setCompressionDefaults 设置压缩默认值
func setCompressionDefaults(v *viper.Viper) {
	s := compress.DefaultSettings()

	v.SetDefault("compression.mode", "dimension")
	v.SetDefault("compression.max_dimension", 1920)
	v.SetDefault("compression.max_file_size_kb", 500)
	v.SetDefault("compression.dimension_quality", s.DimensionQuality)
	v.SetDefault("compression.start_quality", s.StartQuality)
	v.SetDefault("compression.quality_step", s.QualityStep)
	v.SetDefault("compression.quality_floor", s.QualityFloor)
	v.SetDefault("compression.resize_quality_threshold", s.ResizeQualityThreshold)
	v.SetDefault("compression.resize_factor", s.ResizeFactor)
	v.SetDefault("compression.min_dimension", s.MinDimension)
}

// setConcurrencyDefaults 设置并发默认值
func setConcurrencyDefaults(v *viper.Viper) {
	c := pool.DefaultConfig()

	v.SetDefault("concurrency.enable_multi_thread", c.EnableMultiThread)
	v.SetDefault("concurrency.max_threads", c.MaxThreads)
	v.SetDefault("concurrency.small_batch_threshold", c.SmallBatchThreshold)
	v.SetDefault("concurrency.memory_threshold", c.MemoryThreshold)
}
