package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"iwms/core/conflict"
	"iwms/core/fsutil"
	"iwms/core/organize"
	"iwms/core/scan"
	"iwms/internal/ui"
)

// organizeOptions organize 命令参数
type organizeOptions struct {
	mode      string
	recursive bool
	dryRun    bool
	assumeYes bool
	json      bool
}

func (a *app) newOrganizeCmd() *cobra.Command {
	opts := &organizeOptions{}
	cmd := &cobra.Command{
		Use:   "organize <目录>",
		Short: "按主文件名在原目录内重新编号",
		Long: `同一目录下主文件名相同的图片视为一组，按编号顺序重新编号，消除编号空缺。

模式 a：主图为 "名称.jpg"，其余依次为 "名称 (1).jpg"、"名称 (2).jpg"……
        没有主图时编号最小的文件提升为主图。
模式 b：组内全部编号，主图为 "名称 (1).jpg"。

示例：
  iwms organize ./photos --dry-run
  iwms organize ./photos --mode b -r --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOrganize(cmd, args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.mode, "mode", "", "编号模式: a, b (默认取配置 organize.mode)")
	flags.BoolVarP(&opts.recursive, "recursive", "r", false, "包含子目录，各目录分别编号")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "只显示计划，不修改文件")
	flags.BoolVarP(&opts.assumeYes, "yes", "y", false, "不询问直接执行")
	flags.BoolVar(&opts.json, "json", false, "以JSON输出")
	return cmd
}

func (a *app) runOrganize(cmd *cobra.Command, input string, opts *organizeOptions) error {
	modeValue := a.cfg.Organize.Mode
	if cmd.Flags().Changed("mode") {
		modeValue = opts.mode
	}
	mode, err := organize.ParseMode(modeValue)
	if err != nil {
		return err
	}
	dir, err := a.inputDir(input)
	if err != nil {
		return err
	}
	files, err := a.listFiles(cmd.Context(), dir, opts.recursive)
	if err != nil {
		return err
	}

	plan := organize.PlanRenumber(files, mode, nil)
	a.log.Info("重新编号计划",
		zap.String("dir", dir),
		zap.String("mode", string(mode)),
		zap.Int("groups", len(plan.Groups)),
		zap.Int("renames", plan.WillRename()))

	if opts.dryRun || plan.WillRename() == 0 {
		if opts.json {
			return printJSON(cmd, plan)
		}
		return ui.RenderRenamePlan(plan)
	}

	if !opts.json {
		if err := ui.RenderRenamePlan(plan); err != nil {
			return err
		}
	}
	if ok, err := a.confirm(opts.assumeYes, fmt.Sprintf("重命名 %d 个文件", plan.WillRename())); err != nil || !ok {
		return err
	}

	rep := organize.ApplyRenumber(a.fs, plan, a.log)
	if opts.json {
		return printJSON(cmd, rep)
	}
	ui.DisplaySuccess(fmt.Sprintf("重新编号完成: 重命名 %d, 未变 %d, 失败 %d", rep.Renamed, rep.Unchanged, rep.Failed))
	if rep.Failed > 0 {
		return fmt.Errorf("%d 个文件重命名失败", rep.Failed)
	}
	return nil
}

// groupOptions group 命令参数
type groupOptions struct {
	recursive       bool
	policy          string
	caseSensitive   bool
	noSanitize      bool
	maxFolderLength int
	moveLog         string
	noMoveLog       bool
	dryRun          bool
	assumeYes       bool
	limit           int
	json            bool
}

func (a *app) newGroupCmd() *cobra.Command {
	opts := &groupOptions{}
	cmd := &cobra.Command{
		Use:   "group <目录>",
		Short: "按文件名前缀把图片移动到同名子目录",
		Long: `"photo (3).jpg" 的前缀为 "photo"，移动到 <目录>/photo/ 下。
前缀默认不区分大小写；目录名中的非法字符替换为下划线，超长时截断并附加短哈希。
目标文件已存在时按冲突策略处理，移动记录写入 CSV 日志。

示例：
  iwms group ./photos --dry-run
  iwms group ./photos -r -p append --move-log ./moves.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runGroup(cmd, args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.recursive, "recursive", "r", false, "包含子目录中的文件")
	flags.StringVarP(&opts.policy, "policy", "p", "", "冲突策略: skip, overwrite, append")
	flags.BoolVar(&opts.caseSensitive, "case-sensitive", false, "前缀区分大小写")
	flags.BoolVar(&opts.noSanitize, "no-sanitize", false, "不清理目录名")
	flags.IntVar(&opts.maxFolderLength, "max-folder-length", 0, "目录名最大长度")
	flags.StringVar(&opts.moveLog, "move-log", "", "移动日志CSV路径 (默认写到目录下)")
	flags.BoolVar(&opts.noMoveLog, "no-move-log", false, "不写移动日志")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "只显示计划，不移动文件")
	flags.BoolVarP(&opts.assumeYes, "yes", "y", false, "不询问直接执行")
	flags.IntVar(&opts.limit, "limit", 50, "表格最多显示的行数，0表示全部")
	flags.BoolVar(&opts.json, "json", false, "以JSON输出")
	return cmd
}

// groupOptionsFor 配置值被显式指定的命令行参数覆盖
func (a *app) groupOptionsFor(cmd *cobra.Command, opts *groupOptions) (organize.GroupOptions, error) {
	gopts := a.cfg.GroupOptions()
	flags := cmd.Flags()
	if flags.Changed("policy") {
		policy, err := conflict.ParsePolicy(opts.policy)
		if err != nil {
			return gopts, err
		}
		gopts.Policy = policy
	}
	if flags.Changed("case-sensitive") {
		gopts.CaseSensitive = opts.caseSensitive
	}
	if flags.Changed("no-sanitize") {
		gopts.Sanitize = !opts.noSanitize
	}
	if flags.Changed("max-folder-length") {
		gopts.MaxFolderNameLength = opts.maxFolderLength
	}
	return gopts, nil
}

func (a *app) runGroup(cmd *cobra.Command, input string, opts *groupOptions) error {
	gopts, err := a.groupOptionsFor(cmd, opts)
	if err != nil {
		return err
	}
	dir, err := a.inputDir(input)
	if err != nil {
		return err
	}
	files, err := a.listFiles(cmd.Context(), dir, opts.recursive)
	if err != nil {
		return err
	}

	moves := organize.PlanGroups(dir, files, gopts)
	if opts.dryRun {
		if opts.json {
			return printJSON(cmd, moves)
		}
		return ui.RenderMoves(moves, opts.limit)
	}
	if len(moves) == 0 {
		ui.DisplayInfo("没有需要分组的文件")
		return nil
	}
	if ok, err := a.confirm(opts.assumeYes, fmt.Sprintf("移动 %d 个文件到前缀目录", len(moves))); err != nil || !ok {
		return err
	}

	rep := organize.ApplyGroups(a.fs, moves, gopts.Policy, a.log)

	if !opts.noMoveLog && (a.cfg.Organize.MoveLog || opts.moveLog != "") {
		logPath := opts.moveLog
		if logPath == "" {
			logPath = filepath.Join(dir, "iwms_move_log_"+a.now().Format("20060102_150405")+".csv")
		}
		if err := fsutil.WriteFileAtomic(a.fs, logPath, func(w io.Writer) error {
			return organize.WriteMoveLog(w, rep.Moves)
		}); err != nil {
			a.log.Warn("写入移动日志失败", zap.String("path", logPath), zap.Error(err))
		} else {
			a.log.Info("移动日志已保存", zap.String("path", logPath))
		}
	}

	if opts.json {
		return printJSON(cmd, rep)
	}
	if err := ui.RenderMoves(rep.Moves, opts.limit); err != nil {
		return err
	}
	ui.DisplaySuccess(fmt.Sprintf("分组完成: 移动 %d, 跳过 %d, 失败 %d, 目录 %d",
		rep.Moved, rep.Skipped, rep.Failed, len(rep.Folders)))
	if rep.Failed > 0 {
		return fmt.Errorf("%d 个文件移动失败", rep.Failed)
	}
	return nil
}

// listFiles 列出目录中的全部文件，扩展名由调用方过滤
func (a *app) listFiles(ctx context.Context, dir string, recursive bool) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := scan.Scan(ctx, a.fs, dir, scan.Options{
		Recursive:     recursive,
		Filter:        scan.FilterAll,
		IncludeHidden: a.cfg.Scan.IncludeHidden,
		Exclude:       a.cfg.Scan.Exclude,
	})
	if err != nil {
		return nil, err
	}
	return result.Paths(), nil
}

// confirm 非交互终端或 --yes 时直接执行
func (a *app) confirm(assumeYes bool, label string) (bool, error) {
	if assumeYes || !ui.IsInteractive() {
		return true, nil
	}
	ok, err := ui.Confirm(label)
	if err != nil {
		return false, fmt.Errorf("确认失败: %w", err)
	}
	if !ok {
		ui.DisplayWarning("已取消")
	}
	return ok, nil
}
