// Package scan 扫描输入目录，返回候选文件及其元数据
package scan

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Filter 文件类型过滤
type Filter string

const (
	FilterImage Filter = "image"
	FilterAll   Filter = "all"
)

// ParseFilter 解析过滤类型
func ParseFilter(s string) (Filter, error) {
	switch Filter(strings.ToLower(strings.TrimSpace(s))) {
	case FilterImage, "":
		return FilterImage, nil
	case FilterAll:
		return FilterAll, nil
	}
	return "", fmt.Errorf("未知的文件类型过滤: %q (可选: image, all)", s)
}

// DefaultImageExtensions 扫描时视为图片的扩展名
var DefaultImageExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".bmp",
	".tiff", ".tif", ".webp", ".svg", ".ico", ".tga",
}

// Options 扫描选项
type Options struct {
	Recursive bool
	Filter    Filter
	// ImageExtensions 为空时使用 DefaultImageExtensions
	ImageExtensions []string
	// IncludeHidden 包含以点开头的文件和目录
	IncludeHidden bool
	// Exclude 跳过的目录（例如位于输入目录内的输出目录）
	Exclude []string
	// Concurrency 并发读取目录数，0表示CPU数
	Concurrency int
}

// Entry 扫描到的文件
type Entry struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Ext     string    `json:"ext"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// ExtStats 单个扩展名的统计
type ExtStats struct {
	Count int   `json:"count"`
	Size  int64 `json:"size"`
}

// Stats 扫描统计
type Stats struct {
	TotalFiles  int                 `json:"total_files"`
	TotalSize   int64               `json:"total_size"`
	AverageSize int64               `json:"average_size"`
	ByExtension map[string]ExtStats `json:"by_extension"`
}

// Result 扫描结果，文件按路径排序
type Result struct {
	Root  string  `json:"root"`
	Files []Entry `json:"files"`
	Stats Stats   `json:"stats"`
}

// Paths 文件路径列表
func (r *Result) Paths() []string {
	paths := make([]string, len(r.Files))
	for i, f := range r.Files {
		paths[i] = f.Path
	}
	return paths
}

// scanner 单次扫描的状态
type scanner struct {
	fs      afero.Fs
	opts    Options
	exts    map[string]bool
	exclude map[string]bool

	mu    sync.Mutex
	files []Entry
}

// Scan 扫描目录。递归模式下子目录由errgroup并发读取。
func Scan(ctx context.Context, fs afero.Fs, root string, opts Options) (*Result, error) {
	info, err := fs.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("扫描目录失败: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("扫描目录失败: %s 不是目录", root)
	}

	exts := opts.ImageExtensions
	if len(exts) == 0 {
		exts = DefaultImageExtensions
	}
	s := &scanner{
		fs:      fs,
		opts:    opts,
		exts:    make(map[string]bool, len(exts)),
		exclude: make(map[string]bool, len(opts.Exclude)),
	}
	for _, ext := range exts {
		s.exts[strings.ToLower(ext)] = true
	}
	for _, dir := range opts.Exclude {
		s.exclude[filepath.Clean(dir)] = true
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	g.Go(func() error { return s.readDir(gctx, g, root) })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("扫描目录失败: %w", err)
	}

	sort.Slice(s.files, func(i, j int) bool { return s.files[i].Path < s.files[j].Path })
	return &Result{Root: root, Files: s.files, Stats: Summarize(s.files)}, nil
}

// readDir 读取单个目录；子目录优先交给空闲的goroutine，没有空闲时在当前goroutine中处理
func (s *scanner) readDir(ctx context.Context, g *errgroup.Group, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return err
	}

	var local []Entry
	for _, info := range infos {
		name := info.Name()
		if !s.opts.IncludeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(dir, name)

		if info.IsDir() {
			if !s.opts.Recursive || s.exclude[filepath.Clean(path)] {
				continue
			}
			if !g.TryGo(func() error { return s.readDir(ctx, g, path) }) {
				if err := s.readDir(ctx, g, path); err != nil {
					return err
				}
			}
			continue
		}

		if !info.Mode().IsRegular() || !s.include(name) {
			continue
		}
		local = append(local, Entry{
			Path:    path,
			Name:    name,
			Ext:     strings.ToLower(filepath.Ext(name)),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	s.mu.Lock()
	s.files = append(s.files, local...)
	s.mu.Unlock()
	return nil
}

// include 按过滤类型判断文件是否纳入
func (s *scanner) include(name string) bool {
	if s.opts.Filter == FilterAll {
		return true
	}
	return s.exts[strings.ToLower(filepath.Ext(name))]
}

// Summarize 统计文件总数、总大小与各扩展名分布
func Summarize(files []Entry) Stats {
	stats := Stats{
		TotalFiles:  len(files),
		ByExtension: make(map[string]ExtStats),
	}
	for _, f := range files {
		stats.TotalSize += f.Size
		ext := stats.ByExtension[f.Ext]
		ext.Count++
		ext.Size += f.Size
		stats.ByExtension[f.Ext] = ext
	}
	if stats.TotalFiles > 0 {
		stats.AverageSize = stats.TotalSize / int64(stats.TotalFiles)
	}
	return stats
}

// SortedExtensions 按文件数降序返回扩展名，数量相同时按名称排序
func (s Stats) SortedExtensions() []string {
	exts := make([]string, 0, len(s.ByExtension))
	for ext := range s.ByExtension {
		exts = append(exts, ext)
	}
	sort.Slice(exts, func(i, j int) bool {
		ci, cj := s.ByExtension[exts[i]].Count, s.ByExtension[exts[j]].Count
		if ci != cj {
			return ci > cj
		}
		return exts[i] < exts[j]
	})
	return exts
}
