package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"iwms/config"
	"iwms/core/fsutil"
	"iwms/internal/ui"
)

func (a *app) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "管理配置文件",
		Long: `配置文件默认位于 $HOME/.iwms.yaml，所有配置项也可以通过 IWMS_ 前缀的环境变量覆盖，
例如 IWMS_RENAME_CONFLICT_POLICY=append。`,
	}
	cmd.AddCommand(
		a.newConfigInitCmd(),
		a.newConfigShowCmd(),
		a.newConfigSetCmd(),
		a.newConfigImportCmd(),
	)
	return cmd
}

// configTarget 写入的配置文件：--config 或默认路径
func (a *app) configTarget() (string, error) {
	if a.cfgFile != "" {
		return fsutil.NormalizePath(a.cfgFile)
	}
	return config.DefaultConfigPath()
}

func (a *app) newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "生成默认配置文件",
		Args:  cobra.NoArgs,
		// 目标文件可能尚不存在，不能先加载配置
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.SetQuiet(a.quiet)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := a.configTarget()
			if err != nil {
				return err
			}
			if err := config.NewConfigMigrator(a.log).CreateDefaultConfig(target, force); err != nil {
				return err
			}
			ui.DisplaySuccess("配置文件已生成: " + target)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "覆盖已存在的配置文件")
	return cmd
}

func (a *app) newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "显示当前生效的配置（含默认值和环境变量）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, err := config.NewConfigManager(a.cfgFile, a.log)
			if err != nil {
				return err
			}
			defer cm.Close()

			if file := cm.ConfigFile(); file != "" {
				ui.DisplayInfo("配置文件: " + file)
			} else {
				ui.DisplayInfo("未找到配置文件，使用默认值")
			}
			return printJSON(cmd, cm.AllSettings())
		},
	}
}

func (a *app) newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <配置项> <值>",
		Short: "修改配置项并写回配置文件",
		Long: `修改单个配置项，校验通过后写回配置文件。

示例：
  iwms config set rename.conflict_policy append
  iwms config set compression.max_dimension 1280`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, err := config.NewConfigManager(a.cfgFile, a.log)
			if err != nil {
				return err
			}
			defer cm.Close()

			if cm.ConfigFile() == "" {
				return fmt.Errorf("没有找到配置文件，请先运行 iwms config init")
			}
			if err := cm.UpdateConfig(args[0], args[1]); err != nil {
				return err
			}
			if err := cm.SaveConfig(); err != nil {
				return fmt.Errorf("保存配置失败: %w", err)
			}
			a.log.Info("配置已更新", zap.String("key", args[0]), zap.String("value", args[1]))
			ui.DisplaySuccess(fmt.Sprintf("%s = %s", args[0], args[1]))
			return nil
		},
	}
}

func (a *app) newConfigImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-legacy [settings.json]",
		Short: "导入桌面版的 settings.json",
		Long: `把桌面版保存的默认设置（压缩模式、尺寸、文件大小、冲突策略、线程数等）写入配置文件。
未指定文件时从桌面版的默认位置读取。`,
		Args: cobra.MaximumNArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.SetQuiet(a.quiet)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				settings string
				err      error
			)
			if len(args) == 1 {
				settings, err = fsutil.NormalizePath(args[0])
			} else {
				settings, err = config.LegacySettingsPath()
			}
			if err != nil {
				return err
			}
			target, err := a.configTarget()
			if err != nil {
				return err
			}

			imported, err := config.NewConfigMigrator(a.log).ImportLegacySettings(settings, target)
			if err != nil {
				return err
			}
			for _, key := range imported {
				ui.DisplayInfo("已导入 " + key)
			}
			ui.DisplaySuccess(fmt.Sprintf("已从 %s 导入 %d 项到 %s", settings, len(imported), target))
			return nil
		},
	}
	return cmd
}
