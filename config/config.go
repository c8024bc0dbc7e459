package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"iwms/core/compress"
	"iwms/core/conflict"
	"iwms/core/organize"
	"iwms/core/pool"
	"iwms/core/report"
	"iwms/core/scan"
)

// 配置文件名与环境变量前缀
const (
	configName = ".iwms"
	envPrefix  = "IWMS"
)

// Config 应用配置结构
type Config struct {
	// 配置文件版本
	Version string `mapstructure:"version"`

	// 重命名设置
	Rename RenameConfig `mapstructure:"rename"`

	// 映射表读取设置
	Mapping MappingConfig `mapstructure:"mapping"`

	// 压缩设置
	Compression CompressionConfig `mapstructure:"compression"`

	// 并发设置
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`

	// 扫描设置
	Scan ScanConfig `mapstructure:"scan"`

	// 视为图片并送入压缩的扩展名
	ImageExtensions []string `mapstructure:"image_extensions"`

	// 日志设置
	Logging LoggingConfig `mapstructure:"logging"`

	// 运行历史设置
	History HistoryConfig `mapstructure:"history"`

	// 报告设置
	Report ReportConfig `mapstructure:"report"`

	// 监听目录设置
	Watch WatchConfig `mapstructure:"watch"`

	// 目录整理设置
	Organize OrganizeConfig `mapstructure:"organize"`

	// 高级设置
	Advanced AdvancedConfig `mapstructure:"advanced"`
}

// RenameConfig 重命名配置
type RenameConfig struct {
	// 冲突处理策略 (skip, overwrite, append)
	ConflictPolicy string `mapstructure:"conflict_policy"`

	// 是否在输出目录下创建带时间戳的子目录
	TimestampedOutput bool `mapstructure:"timestamped_output"`

	// 时间戳子目录前缀
	OutputDirPrefix string `mapstructure:"output_dir_prefix"`
}

// MappingConfig 映射表配置
type MappingConfig struct {
	// 工作表名称，为空时使用第一个
	Sheet string `mapstructure:"sheet"`

	// 是否跳过第一行表头
	SkipHeader bool `mapstructure:"skip_header"`
}

// CompressionConfig 压缩配置
type CompressionConfig struct {
	// 压缩模式 (dimension, filesize, none)
	Mode string `mapstructure:"mode"`

	// 最大边长（像素）
	MaxDimension int `mapstructure:"max_dimension"`

	// 最大文件大小（KB）
	MaxFileSizeKB int `mapstructure:"max_file_size_kb"`

	DimensionQuality       int     `mapstructure:"dimension_quality"`
	StartQuality           int     `mapstructure:"start_quality"`
	QualityStep            int     `mapstructure:"quality_step"`
	QualityFloor           int     `mapstructure:"quality_floor"`
	ResizeQualityThreshold int     `mapstructure:"resize_quality_threshold"`
	ResizeFactor           float64 `mapstructure:"resize_factor"`
	MinDimension           int     `mapstructure:"min_dimension"`
}

// ConcurrencyConfig 并发配置
type ConcurrencyConfig struct {
	// 是否启用多线程压缩
	EnableMultiThread bool `mapstructure:"enable_multi_thread"`

	// 最大线程数
	MaxThreads int `mapstructure:"max_threads"`

	// 任务数不超过该值时单线程执行
	SmallBatchThreshold int `mapstructure:"small_batch_threshold"`

	// 内存使用阈值 (%)
	MemoryThreshold float64 `mapstructure:"memory_threshold"`
}

// OrganizeConfig 目录整理配置（organize 与 group 命令）
type OrganizeConfig struct {
	// 重新编号模式 (a: 主图不带编号, b: 全部编号)
	Mode string `mapstructure:"mode"`

	// 按前缀分组时是否区分大小写
	CaseSensitive bool `mapstructure:"case_sensitive"`

	// 是否清理目录名中的非法字符
	Sanitize bool `mapstructure:"sanitize"`

	// 目录名最大长度
	MaxFolderNameLength int `mapstructure:"max_folder_name_length"`

	// 是否在根目录写出移动日志CSV
	MoveLog bool `mapstructure:"move_log"`
}

// ScanConfig 扫描配置
type ScanConfig struct {
	// 是否递归扫描子目录
	Recursive bool `mapstructure:"recursive"`

	// 文件类型过滤 (image, all)
	FileTypes string `mapstructure:"file_types"`

	// 是否包含隐藏文件
	IncludeHidden bool `mapstructure:"include_hidden"`

	// 排除的目录名
	Exclude []string `mapstructure:"exclude"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	// 日志级别 (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// 是否启用文件日志
	EnableFile bool `mapstructure:"enable_file"`

	// 是否启用控制台日志
	EnableConsole bool `mapstructure:"enable_console"`

	// 日志目录
	LogDir string `mapstructure:"log_dir"`
}

// HistoryConfig 运行历史配置
type HistoryConfig struct {
	// 是否记录运行历史
	Enabled bool `mapstructure:"enabled"`

	// 数据库路径，为空时使用 ~/.iwms/history.db
	DBPath string `mapstructure:"db_path"`

	// 保留的最大运行次数，0表示不限制
	MaxRuns int `mapstructure:"max_runs"`
}

// ReportConfig 报告配置
type ReportConfig struct {
	// 是否在处理完成后导出报告
	Enabled bool `mapstructure:"enabled"`

	// 报告格式 (csv, xlsx, json)
	Format string `mapstructure:"format"`
}

// WatchConfig 监听目录配置
type WatchConfig struct {
	// 新文件出现后等待的毫秒数，期间的新文件合并为一批
	DebounceMS int `mapstructure:"debounce_ms"`
}

// AdvancedConfig 高级配置
type AdvancedConfig struct {
	// 是否启用配置热重载
	EnableHotReload bool `mapstructure:"enable_hot_reload"`
}

// ConfigWatcher 配置变更监听器
type ConfigWatcher interface {
	OnConfigChange(oldConfig, newConfig *Config) error
}

// WatcherFunc 函数形式的配置监听器
type WatcherFunc func(oldConfig, newConfig *Config) error

// OnConfigChange 实现ConfigWatcher
func (f WatcherFunc) OnConfigChange(oldConfig, newConfig *Config) error {
	return f(oldConfig, newConfig)
}

// ValidationError 配置验证错误
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	var builder strings.Builder
	builder.WriteString("配置验证失败 [")
	builder.WriteString(e.Field)
	builder.WriteString("]: ")
	builder.WriteString(e.Message)
	builder.WriteString(" (当前值: ")
	builder.WriteString(fmt.Sprint(e.Value))
	builder.WriteString(")")
	return builder.String()
}

// ConfigManager 配置管理器
type ConfigManager struct {
	config     *Config
	viper      *viper.Viper
	logger     *zap.Logger
	mutex      sync.RWMutex
	watchers   []ConfigWatcher
	ctx        context.Context
	cancel     context.CancelFunc
	configFile string
}

// NewConfigManager 创建配置管理器
func NewConfigManager(configFile string, logger *zap.Logger) (*ConfigManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	cm := &ConfigManager{
		viper:      viper.New(),
		logger:     logger.Named("config"),
		ctx:        ctx,
		cancel:     cancel,
		configFile: configFile,
	}

	if err := setupViper(cm.viper, configFile); err != nil {
		cancel()
		return nil, err
	}
	if err := cm.loadConfig(); err != nil {
		cancel()
		return nil, err
	}

	return cm, nil
}

// loadConfig 读取并验证配置，成功后替换当前配置
func (cm *ConfigManager) loadConfig() error {
	config, err := readConfig(cm.viper)
	if err != nil {
		return err
	}

	cm.mutex.Lock()
	oldConfig := cm.config
	cm.config = config
	watchers := append([]ConfigWatcher(nil), cm.watchers...)
	cm.mutex.Unlock()

	if oldConfig != nil {
		cm.notify(watchers, oldConfig, config)
	}
	return nil
}

// notify 通知监听器
func (cm *ConfigManager) notify(watchers []ConfigWatcher, oldConfig, newConfig *Config) {
	for _, watcher := range watchers {
		if err := watcher.OnConfigChange(oldConfig, newConfig); err != nil {
			cm.logger.Error("配置变更通知失败", zap.Error(err))
		}
	}
}

// GetConfig 获取当前配置
func (cm *ConfigManager) GetConfig() *Config {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.config
}

// ConfigFile 实际使用的配置文件，未找到时为空
func (cm *ConfigManager) ConfigFile() string {
	return cm.viper.ConfigFileUsed()
}

// UpdateConfig 更新单个配置项，验证失败时保持原配置
func (cm *ConfigManager) UpdateConfig(key string, value interface{}) error {
	cm.mutex.Lock()
	oldConfig := cm.config
	previous := cm.viper.Get(key)
	cm.viper.Set(key, value)

	newConfig, err := unmarshal(cm.viper)
	if err != nil {
		cm.viper.Set(key, previous)
		cm.mutex.Unlock()
		return err
	}
	cm.config = newConfig
	watchers := append([]ConfigWatcher(nil), cm.watchers...)
	cm.mutex.Unlock()

	cm.notify(watchers, oldConfig, newConfig)
	return nil
}

// AllSettings 当前生效的全部配置项
func (cm *ConfigManager) AllSettings() map[string]interface{} {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.viper.AllSettings()
}

// SaveConfig 保存配置到文件
func (cm *ConfigManager) SaveConfig() error {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	if cm.viper.ConfigFileUsed() == "" {
		return errors.New("没有可写入的配置文件")
	}
	return cm.viper.WriteConfig()
}

// AddWatcher 添加配置监听器
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

// EnableHotReload 启用配置热重载，配置文件变更后重新加载并通知监听器
func (cm *ConfigManager) EnableHotReload() error {
	if !cm.GetConfig().Advanced.EnableHotReload {
		return nil
	}
	if cm.viper.ConfigFileUsed() == "" {
		cm.logger.Debug("未找到配置文件，跳过热重载")
		return nil
	}

	cm.viper.OnConfigChange(func(e fsnotify.Event) {
		if cm.ctx.Err() != nil {
			return
		}
		cm.logger.Info("检测到配置文件变更", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		if err := cm.loadConfig(); err != nil {
			cm.logger.Error("重新加载配置失败", zap.Error(err))
		}
	})

	cm.viper.WatchConfig()
	return nil
}

// Close 关闭配置管理器，之后的文件变更不再生效
func (cm *ConfigManager) Close() error {
	cm.cancel()
	return nil
}

// NewConfig 创建新的配置实例
func NewConfig(configFile string, logger *zap.Logger) (*Config, error) {
	v := viper.New()
	if err := setupViper(v, configFile); err != nil {
		return nil, err
	}
	config, err := readConfig(v)
	if err != nil {
		return nil, err
	}
	if logger != nil && v.ConfigFileUsed() != "" {
		logger.Debug("已加载配置文件", zap.String("file", v.ConfigFileUsed()))
	}
	return config, nil
}

// setupViper 设置默认值、配置文件查找路径与环境变量
func setupViper(v *viper.Viper, configFile string) error {
	setDefaultValues(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		v.AddConfigPath(home)
		v.AddConfigPath(".")
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return nil
}

// readConfig 读取配置文件（不存在时使用默认值）并解析
func readConfig(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}
	return unmarshal(v)
}

// unmarshal 解析并验证配置
func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// validateConfig 验证配置：枚举值非法时报错，数值越界时回退到默认值
func validateConfig(config *Config) error {
	if _, err := conflict.ParsePolicy(config.Rename.ConflictPolicy); err != nil {
		return &ValidationError{Field: "rename.conflict_policy", Value: config.Rename.ConflictPolicy, Message: "必须是 skip, overwrite 或 append"}
	}
	if _, err := compress.ParseMode(config.Compression.Mode); err != nil {
		return &ValidationError{Field: "compression.mode", Value: config.Compression.Mode, Message: "必须是 dimension, filesize 或 none"}
	}
	if _, err := scan.ParseFilter(config.Scan.FileTypes); err != nil {
		return &ValidationError{Field: "scan.file_types", Value: config.Scan.FileTypes, Message: "必须是 image 或 all"}
	}
	if _, err := report.ParseFormat(config.Report.Format); err != nil {
		return &ValidationError{Field: "report.format", Value: config.Report.Format, Message: "必须是 csv, xlsx 或 json"}
	}
	if err := validateLoggingConfig(&config.Logging); err != nil {
		return err
	}

	validateCompressionConfig(&config.Compression)
	validateConcurrencyConfig(&config.Concurrency)

	if strings.TrimSpace(config.Rename.OutputDirPrefix) == "" {
		config.Rename.OutputDirPrefix = defaultOutputDirPrefix
	}
	if strings.ContainsAny(config.Rename.OutputDirPrefix, `<>:"/\|?*`) {
		return &ValidationError{Field: "rename.output_dir_prefix", Value: config.Rename.OutputDirPrefix, Message: "包含非法字符"}
	}
	if len(config.ImageExtensions) == 0 {
		config.ImageExtensions = defaultImageExtensions()
	}
	if config.History.MaxRuns < 0 {
		config.History.MaxRuns = 0
	}
	if config.Watch.DebounceMS <= 0 {
		config.Watch.DebounceMS = defaultDebounceMS
	}
	if _, err := organize.ParseMode(config.Organize.Mode); err != nil {
		return &ValidationError{Field: "organize.mode", Value: config.Organize.Mode, Message: "必须是 a 或 b"}
	}
	if config.Organize.MaxFolderNameLength < minFolderNameLength {
		config.Organize.MaxFolderNameLength = defaultMaxFolderNameLength
	}
	return nil
}

// validateLoggingConfig 验证日志配置
func validateLoggingConfig(config *LoggingConfig) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	config.Level = strings.ToLower(strings.TrimSpace(config.Level))
	if !validLevels[config.Level] {
		return &ValidationError{Field: "logging.level", Value: config.Level, Message: "必须是 debug, info, warn 或 error"}
	}
	return nil
}

// validateCompressionConfig 数值越界时回退到默认值
func validateCompressionConfig(config *CompressionConfig) {
	defaults := compress.DefaultSettings()

	if config.MaxDimension < 0 {
		config.MaxDimension = 0
	}
	if config.MaxFileSizeKB < 0 {
		config.MaxFileSizeKB = 0
	}
	if config.DimensionQuality < 1 || config.DimensionQuality > 100 {
		config.DimensionQuality = defaults.DimensionQuality
	}
	if config.StartQuality < 1 || config.StartQuality > 100 {
		config.StartQuality = defaults.StartQuality
	}
	if config.QualityStep < 1 || config.QualityStep > 50 {
		config.QualityStep = defaults.QualityStep
	}
	if config.QualityFloor < 1 || config.QualityFloor >= config.StartQuality {
		config.QualityFloor = defaults.QualityFloor
	}
	if config.ResizeQualityThreshold < config.QualityFloor || config.ResizeQualityThreshold > 100 {
		config.ResizeQualityThreshold = defaults.ResizeQualityThreshold
	}
	if config.ResizeFactor <= 0 || config.ResizeFactor >= 1 {
		config.ResizeFactor = defaults.ResizeFactor
	}
	if config.MinDimension < 1 {
		config.MinDimension = defaults.MinDimension
	}
}

// validateConcurrencyConfig 数值越界时回退到默认值
func validateConcurrencyConfig(config *ConcurrencyConfig) {
	defaults := pool.DefaultConfig()

	if config.MaxThreads <= 0 {
		config.MaxThreads = defaults.MaxThreads
	}
	if config.SmallBatchThreshold < 0 {
		config.SmallBatchThreshold = defaults.SmallBatchThreshold
	}
	if config.MemoryThreshold < 0 || config.MemoryThreshold > 100 {
		config.MemoryThreshold = defaults.MemoryThreshold
	}
}

// PoolConfig 构建工作池配置
func (c *Config) PoolConfig() pool.Config {
	return pool.Config{
		EnableMultiThread:   c.Concurrency.EnableMultiThread,
		MaxThreads:          c.Concurrency.MaxThreads,
		SmallBatchThreshold: c.Concurrency.SmallBatchThreshold,
		MemoryThreshold:     c.Concurrency.MemoryThreshold,
	}
}

// CompressSettings 构建压缩参数
func (c *Config) CompressSettings() compress.Settings {
	cc := c.Compression
	return compress.Settings{
		DimensionQuality:       cc.DimensionQuality,
		StartQuality:           cc.StartQuality,
		QualityStep:            cc.QualityStep,
		QualityFloor:           cc.QualityFloor,
		ResizeQualityThreshold: cc.ResizeQualityThreshold,
		ResizeFactor:           cc.ResizeFactor,
		MinDimension:           cc.MinDimension,
	}
}

// Constraint 按压缩模式构建压缩约束
func (c *Config) Constraint() compress.Constraint {
	mode, _ := compress.ParseMode(c.Compression.Mode)
	switch mode {
	case compress.ModeDimension:
		return compress.DimensionConstraint(c.Compression.MaxDimension)
	case compress.ModeFileSize:
		return compress.FileSizeConstraint(int64(c.Compression.MaxFileSizeKB) * 1024)
	default:
		return compress.Constraint{Kind: compress.ModeNone}
	}
}

// Policy 冲突处理策略
func (c *Config) Policy() conflict.Policy {
	policy, err := conflict.ParsePolicy(c.Rename.ConflictPolicy)
	if err != nil {
		return conflict.PolicyAppend
	}
	return policy
}

// ScanOptions 构建扫描选项
func (c *Config) ScanOptions() scan.Options {
	filter, err := scan.ParseFilter(c.Scan.FileTypes)
	if err != nil {
		filter = scan.FilterImage
	}
	return scan.Options{
		Recursive:     c.Scan.Recursive,
		Filter:        filter,
		IncludeHidden: c.Scan.IncludeHidden,
		Exclude:       c.Scan.Exclude,
	}
}

// GroupOptions 按前缀分目录的选项
func (c *Config) GroupOptions() organize.GroupOptions {
	policy, err := conflict.ParsePolicy(c.Rename.ConflictPolicy)
	if err != nil {
		policy = conflict.PolicySkip
	}
	return organize.GroupOptions{
		CaseSensitive:       c.Organize.CaseSensitive,
		Sanitize:            c.Organize.Sanitize,
		MaxFolderNameLength: c.Organize.MaxFolderNameLength,
		Policy:              policy,
	}
}

// ReportFormat 报告格式
func (c *Config) ReportFormat() report.Format {
	format, err := report.ParseFormat(c.Report.Format)
	if err != nil {
		return report.FormatCSV
	}
	return format
}

// HistoryPath 运行历史数据库路径
func (c *Config) HistoryPath() string {
	if c.History.DBPath != "" {
		return c.History.DBPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".iwms", "history.db")
	}
	return filepath.Join(home, ".iwms", "history.db")
}

// LogDir 日志目录
func (c *Config) LogDir() string {
	if c.Logging.LogDir != "" {
		return c.Logging.LogDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".iwms", "logs")
	}
	return filepath.Join(home, ".iwms", "logs")
}
