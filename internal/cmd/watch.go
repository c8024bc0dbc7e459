package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"iwms/config"
	"iwms/core/fsutil"
	"iwms/core/scan"
	"iwms/internal/ui"
)

// batcher 合并短时间内出现的文件，静默 delay 后作为一批送出
type batcher struct {
	ctx     context.Context
	delay   time.Duration
	out     chan<- []string
	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
}

func newBatcher(ctx context.Context, delay time.Duration, out chan<- []string) *batcher {
	return &batcher{
		ctx:     ctx,
		delay:   delay,
		out:     out,
		pending: make(map[string]struct{}),
	}
}

// Add 加入文件并重新计时
func (b *batcher) Add(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[path] = struct{}{}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.delay, b.flush)
		return
	}
	b.timer.Reset(b.delay)
}

// flush 送出当前批次，按路径排序
func (b *batcher) flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	files := make([]string, 0, len(b.pending))
	for path := range b.pending {
		files = append(files, path)
	}
	b.pending = make(map[string]struct{})
	b.mu.Unlock()

	sort.Strings(files)
	select {
	case b.out <- files:
	case <-b.ctx.Done():
	}
}

// Stop 停止计时，未送出的文件被丢弃
func (b *batcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
}

// signalContext 收到中断或终止信号时结束的 context
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// watchOptions watch 命令参数
type watchOptions struct {
	pipelineFlags
	debounce    time.Duration
	initial     bool
	noReport    bool
	noHistory   bool
	noTimestamp bool
}

func (a *app) newWatchCmd() *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch <输入目录>",
		Short: "监听目录，新文件出现后自动按映射表处理",
		Long: `监听输入目录中新建的文件，静默一段时间后把这段时间内出现的文件作为一批处理。
每一批都会重新读取映射表；开启 advanced.enable_hot_reload 时，配置文件的修改在下一批生效。
按 Ctrl+C 退出，正在处理的批次会先完成。

示例：
  iwms watch ./inbox -m 映射表.xlsx -o ./out --debounce 3s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd, args[0], opts)
		},
	}

	opts.bind(cmd, true)
	flags := cmd.Flags()
	flags.DurationVar(&opts.debounce, "debounce", 0, "新文件静默多久后开始处理 (默认取 watch.debounce_ms)")
	flags.BoolVar(&opts.initial, "initial", false, "启动时先处理目录中已有的文件")
	flags.BoolVar(&opts.noReport, "no-report", false, "不导出报告")
	flags.BoolVar(&opts.noHistory, "no-history", false, "不记录运行历史")
	flags.BoolVar(&opts.noTimestamp, "no-timestamp", false, "直接写入输出目录，不创建时间戳子目录")
	_ = cmd.MarkFlagRequired("mapping")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// hotFolder 一次 watch 会话的状态
type hotFolder struct {
	app        *app
	cmd        *cobra.Command
	opts       *watchOptions
	manager    *config.ConfigManager
	initial    *config.Config
	dir        string
	outputBase string
	watcher    *fsnotify.Watcher
}

func (a *app) runWatch(cmd *cobra.Command, input string, opts *watchOptions) error {
	manager, err := config.NewConfigManager(a.cfgFile, a.log)
	if err != nil {
		return err
	}
	defer manager.Close()
	manager.AddWatcher(config.WatcherFunc(func(_, newConfig *config.Config) error {
		a.log.Info("配置已重新加载，下一批次生效",
			zap.String("policy", newConfig.Rename.ConflictPolicy),
			zap.String("mode", newConfig.Compression.Mode))
		return nil
	}))
	if err := manager.EnableHotReload(); err != nil {
		return err
	}

	cfg, err := opts.apply(cmd, manager.GetConfig())
	if err != nil {
		return err
	}
	dir, err := a.inputDir(input)
	if err != nil {
		return err
	}
	outputBase, err := a.outputRoot(opts.output, cfg, false)
	if err != nil {
		return err
	}
	if outputBase == dir {
		return fmt.Errorf("输出目录不能与输入目录相同: %s", dir)
	}
	// 启动前检查映射表，避免等到第一批文件才报错
	if _, err := a.loadMapping(opts.mapping, cfg); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建目录监听失败: %w", err)
	}
	defer watcher.Close()

	h := &hotFolder{
		app:        a,
		cmd:        cmd,
		opts:       opts,
		manager:    manager,
		initial:    cfg,
		dir:        dir,
		outputBase: outputBase,
		watcher:    watcher,
	}
	if err := h.addTree(dir, cfg.Scan.Recursive, nil); err != nil {
		return err
	}

	delay := time.Duration(cfg.Watch.DebounceMS) * time.Millisecond
	if opts.debounce > 0 {
		delay = opts.debounce
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	batches := make(chan []string)
	b := newBatcher(ctx, delay, batches)
	defer b.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case files := <-batches:
				h.process(files)
			}
		}
	}()

	if opts.initial {
		scanned, err := a.collectFiles(ctx, dir, cfg, outputBase)
		if err != nil {
			return err
		}
		for _, path := range scanned.Paths() {
			b.Add(path)
		}
	}

	ui.DisplayInfo(fmt.Sprintf("正在监听 %s，按 Ctrl+C 退出", dir))
	a.log.Info("开始监听目录", zap.String("dir", dir), zap.Duration("debounce", delay))

	err = h.loop(ctx, b)
	wg.Wait()
	ui.DisplayInfo("已停止监听")
	return err
}

// loop 分发文件系统事件，直到 ctx 结束
func (h *hotFolder) loop(ctx context.Context, b *batcher) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return nil
			}
			h.app.log.Warn("目录监听错误", zap.Error(err))
		case event, ok := <-h.watcher.Events:
			if !ok {
				return nil
			}
			h.handle(event, b)
		}
	}
}

// handle 处理单个事件：新目录加入监听，符合条件的文件加入批次
func (h *hotFolder) handle(event fsnotify.Event, b *batcher) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	path := filepath.Clean(event.Name)
	if fsutil.IsWithin(h.outputBase, path) {
		return
	}

	cfg := h.current()
	info, err := h.app.fs.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) && cfg.Scan.Recursive {
			if err := h.addTree(path, true, b); err != nil {
				h.app.log.Warn("监听子目录失败", zap.String("dir", path), zap.Error(err))
			}
		}
		return
	}
	if h.accept(cfg, info.Name()) {
		b.Add(path)
	}
}

// current 当前配置叠加命令行参数，参数无效时沿用启动时的配置
func (h *hotFolder) current() *config.Config {
	cfg, err := h.opts.apply(h.cmd, h.manager.GetConfig())
	if err != nil {
		return h.initial
	}
	return cfg
}

// accept 按扫描设置判断文件是否需要处理
func (h *hotFolder) accept(cfg *config.Config, name string) bool {
	if !cfg.Scan.IncludeHidden && strings.HasPrefix(name, ".") {
		return false
	}
	if cfg.ScanOptions().Filter == scan.FilterAll {
		return true
	}
	ext := filepath.Ext(name)
	for _, imageExt := range cfg.ImageExtensions {
		if strings.EqualFold(ext, imageExt) {
			return true
		}
	}
	return false
}

// addTree 监听目录；recursive 时包含所有子目录。b 不为空时已有文件加入批次
func (h *hotFolder) addTree(root string, recursive bool, b *batcher) error {
	if !recursive {
		return h.watcher.Add(root)
	}
	return afero.Walk(h.app.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if path == h.outputBase {
				return filepath.SkipDir
			}
			return h.watcher.Add(path)
		}
		if b != nil && h.accept(h.current(), info.Name()) {
			b.Add(path)
		}
		return nil
	})
}

// process 处理一批文件，使用最新配置并重新读取映射表
func (h *hotFolder) process(files []string) {
	a := h.app
	existing := files[:0]
	for _, path := range files {
		if fsutil.Exists(a.fs, path) {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return
	}

	cfg := h.current()
	table, err := a.loadMapping(h.opts.mapping, cfg)
	if err != nil {
		ui.DisplayError(err)
		a.log.Error("读取映射表失败，跳过本批次", zap.Int("files", len(existing)), zap.Error(err))
		return
	}
	root, err := a.outputRoot(h.opts.output, cfg, cfg.Rename.TimestampedOutput && !h.opts.noTimestamp)
	if err != nil {
		a.log.Error("输出目录无效", zap.Error(err))
		return
	}

	a.log.Info("开始处理新文件", zap.Int("files", len(existing)), zap.String("output", root))
	_, err = a.executeBatch(cfg, table, existing, root, batchOutput{
		report:  cfg.Report.Enabled && !h.opts.noReport,
		format:  cfg.ReportFormat(),
		history: !h.opts.noHistory,
		limit:   20,
	})
	if err != nil {
		ui.DisplayError(err)
		a.log.Error("批处理失败", zap.Error(err))
	}
}
