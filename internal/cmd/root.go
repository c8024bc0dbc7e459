package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"iwms/config"
	"iwms/internal/logger"
	"iwms/internal/ui"
	"iwms/internal/version"
)

// app 命令共享的运行环境，由根命令的 PersistentPreRunE 初始化
type app struct {
	cfgFile string
	verbose bool
	quiet   bool

	fs  afero.Fs
	log *zap.Logger
	cfg *config.Config
	now func() time.Time
}

// Execute 执行根命令
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd 创建完整的命令树
func NewRootCmd() *cobra.Command {
	a := &app{
		fs:  afero.NewOsFs(),
		log: zap.NewNop(),
		now: time.Now,
	}

	rootCmd := &cobra.Command{
		Use:   "iwms",
		Short: "IWMS - 按映射表批量重命名文件并压缩图片",
		Long: `IWMS 根据 Excel/CSV 映射表批量重命名文件，并可按尺寸或文件大小压缩图片。

映射表第一列为原文件名（不含扩展名和编号），第二列为新文件名。
"photo (3).jpg" 按 "photo" 查找映射，输出为 "<新名称> (3).jpg"。

示例：
  iwms preview ./photos --mapping 映射表.xlsx
  iwms run ./photos --mapping 映射表.xlsx --output ./out --mode dimension --max-dimension 1920
  iwms history list`,
		Version:           version.GetVersionWithPrefix(),
		SilenceUsage:      true,
		PersistentPreRunE: a.initConfig,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.log.Sync()
		},
	}

	// 统一输出流到stderr，避免与表格输出混合
	rootCmd.SetErr(os.Stderr)

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "配置文件 (默认: $HOME/.iwms.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "在控制台输出调试日志")
	rootCmd.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "不输出界面内容，仅写日志和报告")

	rootCmd.AddCommand(
		a.newRunCmd(),
		a.newPreviewCmd(),
		a.newCompressCmd(),
		a.newParseCmd(),
		a.newMappingCmd(),
		a.newAnalyzeCmd(),
		a.newHistoryCmd(),
		a.newWatchCmd(),
		a.newOrganizeCmd(),
		a.newGroupCmd(),
		a.newPoolCmd(),
		a.newConfigCmd(),
		newVersionCmd(),
		newCompletionCmd(),
	)
	return rootCmd
}

// initConfig 加载配置并初始化日志
func (a *app) initConfig(cmd *cobra.Command, args []string) error {
	ui.SetQuiet(a.quiet)

	cfg, err := config.NewConfig(a.cfgFile, nil)
	if err != nil {
		return err
	}
	a.cfg = cfg

	loggerConfig := logger.DefaultLoggerConfig()
	loggerConfig.Verbose = a.verbose
	loggerConfig.EnableFile = cfg.Logging.EnableFile
	loggerConfig.EnableConsole = cfg.Logging.EnableConsole
	if dir := cfg.LogDir(); dir != "" {
		loggerConfig.LogDir = dir
	}
	if level, err := logger.ParseLevel(cfg.Logging.Level); err == nil {
		loggerConfig.LogLevel = level
	}
	log, err := logger.NewLoggerWithConfig(loggerConfig)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	a.log = log

	a.log.Debug("IWMS initialized",
		zap.String("version", version.GetVersion()),
		zap.String("command", cmd.CommandPath()))
	return nil
}
