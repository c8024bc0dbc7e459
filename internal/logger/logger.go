package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig 日志配置
type LoggerConfig struct {
	Verbose       bool
	EnableFile    bool
	EnableConsole bool
	// LogLevel 控制台日志级别，nil 时按 Verbose 决定
	LogLevel  *zapcore.Level
	LogDir    string
	Component string
	// Console 控制台输出目标，默认 os.Stderr
	Console io.Writer
}

// DefaultLoggerConfig 默认日志配置
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Verbose:       false,
		EnableFile:    true,
		EnableConsole: true,
		LogDir:        filepath.Join(".", "logs"),
		Component:     "iwms",
	}
}

// ParseLevel 解析日志级别名称
func ParseLevel(name string) (*zapcore.Level, error) {
	level, err := zapcore.ParseLevel(name)
	if err != nil {
		return nil, err
	}
	return &level, nil
}

// NewLoggerWithConfig 使用配置创建日志实例
func NewLoggerWithConfig(config *LoggerConfig) (*zap.Logger, error) {
	// 非verbose模式控制台只显示ERROR级别，减少对进度与表格输出的干扰
	consoleLevel := zapcore.ErrorLevel
	if config.Verbose {
		consoleLevel = zapcore.DebugLevel
	} else if config.LogLevel != nil {
		consoleLevel = *config.LogLevel
	}

	var cores []zapcore.Core

	if config.EnableConsole {
		console := config.Console
		if console == nil {
			console = os.Stderr
		}
		consoleConfig := encoderConfig()
		consoleConfig.EncodeLevel = colorLevelEncoder
		consoleConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), zapcore.AddSync(console), consoleLevel))
	}

	if config.EnableFile {
		file, err := os.OpenFile(getLogFilePathWithConfig(config), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		fileConfig := encoderConfig()
		fileConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		fileConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		// 文件记录所有级别
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileConfig), zapcore.AddSync(file), zapcore.DebugLevel))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// encoderConfig 控制台与文件共用的字段名
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// levelColors 控制台级别标签
var levelColors = map[zapcore.Level]func(format string, a ...interface{}) string{
	zapcore.DebugLevel:  color.CyanString,
	zapcore.InfoLevel:   color.GreenString,
	zapcore.WarnLevel:   color.YellowString,
	zapcore.ErrorLevel:  color.RedString,
	zapcore.DPanicLevel: color.MagentaString,
	zapcore.PanicLevel:  color.MagentaString,
	zapcore.FatalLevel:  color.RedString,
}

func colorLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	label := "[" + level.CapitalString() + "]"
	if paint, ok := levelColors[level]; ok {
		label = paint("%-7s", label)
	}
	enc.AppendString(label)
}

// getLogFilePathWithConfig 日志文件路径: <log_dir>/<component>_YYYYMMDD.log
func getLogFilePathWithConfig(config *LoggerConfig) string {
	logDir := config.LogDir
	if logDir == "" {
		logDir = filepath.Join(".", "logs")
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		// 无法创建目录时写到当前目录
		logDir = "."
	}

	component := config.Component
	if component == "" {
		component = "iwms"
	}
	return filepath.Join(logDir, component+"_"+time.Now().Format("20060102")+".log")
}
