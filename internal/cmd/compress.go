package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"iwms/core/compress"
	"iwms/core/fsutil"
	"iwms/internal/ui"
)

// compressOptions compress 命令参数
type compressOptions struct {
	mode         string
	maxDimension int
	maxSizeKB    int
	force        bool
	json         bool
}

func (a *app) newCompressCmd() *cobra.Command {
	opts := &compressOptions{}
	cmd := &cobra.Command{
		Use:   "compress <输入文件> [输出文件]",
		Short: "压缩单个图片，用于试验压缩参数",
		Long: `按配置或参数压缩单个图片。未指定输出文件时写到 <原名>_compressed<扩展名>。
压缩失败时输出文件为源文件的副本。

示例：
  iwms compress photo.jpg --mode dimension --max-dimension 1280
  iwms compress photo.png small.png --mode filesize --max-size 200`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCompress(cmd, args, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.mode, "mode", "", "压缩模式: dimension, filesize, none")
	flags.IntVar(&opts.maxDimension, "max-dimension", 0, "尺寸模式下的最长边像素")
	flags.IntVar(&opts.maxSizeKB, "max-size", 0, "大小模式下的文件上限 (KB)")
	flags.BoolVarP(&opts.force, "force", "f", false, "覆盖已存在的输出文件")
	flags.BoolVar(&opts.json, "json", false, "以JSON输出压缩结果")
	return cmd
}

// constraint 参数覆盖配置后的压缩约束
func (o *compressOptions) constraint(cmd *cobra.Command, a *app) (compress.Constraint, error) {
	cfg := *a.cfg
	flags := cmd.Flags()
	if flags.Changed("mode") {
		mode, err := compress.ParseMode(o.mode)
		if err != nil {
			return compress.Constraint{}, err
		}
		cfg.Compression.Mode = string(mode)
	}
	if flags.Changed("max-dimension") {
		cfg.Compression.MaxDimension = o.maxDimension
	}
	if flags.Changed("max-size") {
		cfg.Compression.MaxFileSizeKB = o.maxSizeKB
	}
	return cfg.Constraint(), nil
}

// defaultCompressOutput 默认输出路径 <dir>/<name>_compressed<ext>
func defaultCompressOutput(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_compressed" + ext
}

func (a *app) runCompress(cmd *cobra.Command, args []string, opts *compressOptions) error {
	input, err := fsutil.NormalizePath(args[0])
	if err != nil {
		return err
	}
	if info, err := a.fs.Stat(input); err != nil || info.IsDir() {
		return fmt.Errorf("输入文件不存在: %s", input)
	}

	output := defaultCompressOutput(input)
	if len(args) == 2 {
		if output, err = fsutil.NormalizePath(args[1]); err != nil {
			return err
		}
	}
	if output == input {
		return fmt.Errorf("输出文件不能与输入文件相同")
	}
	if fsutil.Exists(a.fs, output) && !opts.force {
		return fmt.Errorf("输出文件已存在: %s (使用 --force 覆盖)", output)
	}
	if err := a.fs.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}

	constraint, err := opts.constraint(cmd, a)
	if err != nil {
		return err
	}

	engine := compress.NewEngine(a.fs, a.cfg.CompressSettings(), a.log.Named("compress"))
	res := engine.Compress(input, output, constraint)
	a.log.Info("单文件压缩完成",
		zap.String("input", input),
		zap.String("output", output),
		zap.Stringer("constraint", constraint),
		zap.Bool("compressed", res.Compressed),
		zap.String("message", res.Message))

	if opts.json {
		if err := printJSON(cmd, res); err != nil {
			return err
		}
	} else {
		ui.RenderCompression(res, constraint)
	}
	if !res.OK() {
		return fmt.Errorf("压缩失败: %w", res.Err)
	}
	return nil
}
