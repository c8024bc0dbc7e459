package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// legacyKeys 桌面版 settings.json 字段到当前配置项的映射。
// viper 读取时键名已转为小写。
var legacyKeys = map[string]string{
	"defaultoutputpath":       "",
	"defaultcompressionmode":  "compression.mode",
	"defaultmaxdimension":     "compression.max_dimension",
	"defaultmaxfilesize":      "compression.max_file_size_kb",
	"defaultfiletypes":        "scan.file_types",
	"defaultrecursive":        "scan.recursive",
	"defaultconflictstrategy": "rename.conflict_policy",
	"maxthreads":              "concurrency.max_threads",
	"usemultithread":          "concurrency.enable_multi_thread",
}

// ConfigMigrator 配置迁移器
type ConfigMigrator struct {
	logger *zap.Logger
}

// NewConfigMigrator 创建配置迁移器
func NewConfigMigrator(logger *zap.Logger) *ConfigMigrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigMigrator{logger: logger.Named("migrate")}
}

// LegacySettingsPath 桌面版设置文件的默认位置
func LegacySettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("无法获取用户主目录: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "IWMS", "settings.json"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "IWMS", "settings.json"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "IWMS", "settings.json"), nil
	default:
		return filepath.Join(home, ".config", "iwms", "settings.json"), nil
	}
}

// DefaultConfigPath 默认配置文件路径
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("无法获取用户主目录: %w", err)
	}
	return filepath.Join(home, configName+".yaml"), nil
}

// ImportLegacySettings 将桌面版 settings.json 转换为配置文件，返回已导入的配置项。
// 目标文件已存在时保留其中的其他配置，只覆盖导入的项。
func (cm *ConfigMigrator) ImportLegacySettings(settingsFile, configFile string) ([]string, error) {
	legacy := viper.New()
	legacy.SetConfigFile(settingsFile)
	legacy.SetConfigType("json")
	if err := legacy.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取旧版设置失败: %w", err)
	}

	v := viper.New()
	setDefaultValues(v)
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	if _, err := os.Stat(configFile); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var imported []string
	for _, key := range legacy.AllKeys() {
		target, known := legacyKeys[key]
		if !known {
			continue
		}
		if target == "" {
			cm.logger.Debug("忽略旧版设置项", zap.String("key", key))
			continue
		}
		v.Set(target, legacy.Get(key))
		imported = append(imported, target)
	}
	sort.Strings(imported)
	v.Set("version", CurrentVersion)

	// 写入前先验证，避免生成无法加载的配置
	if _, err := unmarshal(v); err != nil {
		return nil, err
	}
	if err := writeConfig(v, configFile); err != nil {
		return nil, err
	}

	cm.logger.Info("已导入旧版设置",
		zap.String("from", settingsFile),
		zap.String("to", configFile),
		zap.Strings("keys", imported))
	return imported, nil
}

// CreateDefaultConfig 创建包含全部默认值的配置文件，文件已存在且 force 为 false 时报错
func (cm *ConfigMigrator) CreateDefaultConfig(configFile string, force bool) error {
	if _, err := os.Stat(configFile); err == nil && !force {
		return fmt.Errorf("配置文件已存在: %s", configFile)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	v := viper.New()
	setDefaultValues(v)
	v.SetConfigType("yaml")
	return writeConfig(v, configFile)
}

// writeConfig 写入配置文件，必要时创建目录
func writeConfig(v *viper.Viper, configFile string) error {
	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}
	if err := v.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}
