package compress

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"iwms/core/fsutil"
)

// 结果消息
const (
	MsgCopied            = "未压缩，直接复制"
	MsgDimensionFits     = "尺寸已足够小，无需压缩"
	MsgUnsupportedFormat = "该格式不支持重新编码，直接复制"
	MsgAnimated          = "动图不重新编码，直接复制"
	MsgNotSmaller        = "压缩后体积未减小，保留原文件"
)

// Engine 图片压缩引擎，可被多个goroutine同时使用
type Engine struct {
	fs       afero.Fs
	settings Settings
	logger   *zap.Logger
}

// NewEngine 创建压缩引擎
func NewEngine(fs afero.Fs, settings Settings, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		fs:       fs,
		settings: settings.normalized(),
		logger:   logger.Named("compress"),
	}
}

// Settings 生效的压缩参数
func (e *Engine) Settings() Settings {
	return e.settings
}

// Compress 按约束压缩单个文件。
// 成功时输出路径一定存在：要么是有效图片，要么是源文件的逐字节副本。
func (e *Engine) Compress(inputPath, outputPath string, c Constraint) Result {
	switch c.Kind {
	case ModeDimension:
		return e.CompressByDimension(inputPath, outputPath, int(c.Value))
	case ModeFileSize:
		return e.CompressByFileSize(inputPath, outputPath, c.Value)
	default:
		return e.Copy(inputPath, outputPath, MsgCopied)
	}
}

// Copy 原样复制，不做任何压缩
func (e *Engine) Copy(inputPath, outputPath, message string) Result {
	res := Result{InputPath: inputPath, OutputPath: outputPath, Message: message}
	if size, err := fsutil.FileSize(e.fs, inputPath); err == nil {
		res.OriginalSize.Bytes = size
		res.NewSize.Bytes = size
	}
	if err := fsutil.CopyFile(e.fs, inputPath, outputPath); err != nil {
		res.Err = err
		res.Message = "复制失败: " + err.Error()
	}
	return res
}

// CompressByDimension 缩放到最长边不超过 maxDimension，已满足时原样复制
func (e *Engine) CompressByDimension(inputPath, outputPath string, maxDimension int) Result {
	res := Result{InputPath: inputPath, OutputPath: outputPath}
	if maxDimension <= 0 {
		return e.Copy(inputPath, outputPath, MsgCopied)
	}

	data, err := afero.ReadFile(e.fs, inputPath)
	if err != nil {
		return e.fallback(res, err)
	}
	res.OriginalSize.Bytes = int64(len(data))

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return e.fallback(res, err)
	}
	res.OriginalSize.Width, res.OriginalSize.Height = cfg.Width, cfg.Height

	if cfg.Width <= maxDimension && cfg.Height <= maxDimension {
		return e.copyWith(res, MsgDimensionFits)
	}
	if msg, ok := e.reencodable(data, format); !ok {
		return e.copyWith(res, msg)
	}

	img, err := e.decode(data, format)
	if err != nil {
		return e.fallback(res, err)
	}

	b := img.Bounds()
	width, height := fitWithin(b.Dx(), b.Dy(), maxDimension)
	out, err := encodeToBytes(resize(img, width, height), format, e.settings.DimensionQuality)
	if err != nil {
		return e.fallback(res, err)
	}
	if err := e.write(outputPath, out); err != nil {
		return e.fallback(res, err)
	}

	res.Compressed = true
	res.Quality = e.settings.DimensionQuality
	res.NewSize = Size{Width: width, Height: height, Bytes: int64(len(out))}
	res.Message = fmt.Sprintf("尺寸压缩: %dx%d → %dx%d", b.Dx(), b.Dy(), width, height)
	e.logger.Debug("尺寸压缩完成",
		zap.String("input", inputPath),
		zap.Int("width", width),
		zap.Int("height", height))
	return res
}

// CompressByFileSize 迭代降低质量（必要时同时缩小尺寸），直到文件不超过 maxBytes。
// 到达质量下限或最小尺寸仍未满足时，采用最后一次的结果。
func (e *Engine) CompressByFileSize(inputPath, outputPath string, maxBytes int64) Result {
	res := Result{InputPath: inputPath, OutputPath: outputPath}
	if maxBytes <= 0 {
		return e.Copy(inputPath, outputPath, MsgCopied)
	}

	data, err := afero.ReadFile(e.fs, inputPath)
	if err != nil {
		return e.fallback(res, err)
	}
	res.OriginalSize.Bytes = int64(len(data))

	if res.OriginalSize.Bytes <= maxBytes {
		return e.copyWith(res, fmt.Sprintf("文件已小于目标大小(%dKB)，无需压缩", maxBytes/1024))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return e.fallback(res, err)
	}
	res.OriginalSize.Width, res.OriginalSize.Height = cfg.Width, cfg.Height

	if msg, ok := e.reencodable(data, format); !ok {
		return e.copyWith(res, msg)
	}

	img, err := e.decode(data, format)
	if err != nil {
		return e.fallback(res, err)
	}

	out, width, height, quality, err := e.shrink(img, format, maxBytes)
	if err != nil {
		return e.fallback(res, err)
	}
	if int64(len(out)) >= res.OriginalSize.Bytes {
		return e.copyWith(res, MsgNotSmaller)
	}
	if err := e.write(outputPath, out); err != nil {
		return e.fallback(res, err)
	}

	res.Compressed = true
	res.Quality = quality
	res.NewSize = Size{Width: width, Height: height, Bytes: int64(len(out))}

	var msg strings.Builder
	if res.NewSize.Bytes <= maxBytes {
		msg.WriteString("压缩完成: ")
	} else {
		msg.WriteString("使用最低质量压缩: ")
	}
	fmt.Fprintf(&msg, "%dKB → %dKB (%dx%d", res.OriginalSize.KB(), res.NewSize.KB(), width, height)
	if supportsQuality(format) {
		fmt.Fprintf(&msg, ", 质量:%d%%", quality)
	}
	msg.WriteString(")")
	res.Message = msg.String()

	e.logger.Debug("大小压缩完成",
		zap.String("input", inputPath),
		zap.Int64("original_bytes", res.OriginalSize.Bytes),
		zap.Int64("new_bytes", res.NewSize.Bytes),
		zap.Int("quality", quality))
	return res
}

// shrink 大小模式的迭代主循环。
// 质量每轮降低 QualityStep；质量降到 ResizeQualityThreshold 以下（或格式没有质量参数）时，
// 每轮同时按 ResizeFactor 缩小尺寸。缩小会使任一边低于 MinDimension 时只停止缩小，
// 质量继续下降。循环结束仍超出预算时，按 QualityFloor 在最后的尺寸上再编码一次。
func (e *Engine) shrink(img image.Image, format string, maxBytes int64) ([]byte, int, int, int, error) {
	s := e.settings
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	hasQuality := supportsQuality(format)

	var (
		best       []byte
		bestWidth  = width
		bestHeight = height
		bestQ      = s.StartQuality
	)
	fits := func() bool { return best != nil && int64(len(best)) <= maxBytes }

	canResize := true
	for quality := s.StartQuality; quality > s.QualityFloor; quality -= s.QualityStep {
		if canResize && (quality <= s.ResizeQualityThreshold || !hasQuality) {
			if w, h := scale(width, height, s.ResizeFactor); w >= s.MinDimension && h >= s.MinDimension {
				width, height = w, h
			} else {
				canResize = false
			}
		}
		// 没有质量参数的格式只能靠缩小尺寸
		if !canResize && !hasQuality {
			break
		}

		out, err := encodeToBytes(resize(img, width, height), format, quality)
		if err != nil {
			return nil, 0, 0, 0, err
		}
		best, bestWidth, bestHeight, bestQ = out, width, height, quality
		if fits() {
			return best, bestWidth, bestHeight, bestQ, nil
		}
	}

	if best == nil || (hasQuality && !fits()) {
		out, err := encodeToBytes(resize(img, width, height), format, s.QualityFloor)
		if err != nil {
			return nil, 0, 0, 0, err
		}
		best, bestWidth, bestHeight, bestQ = out, width, height, s.QualityFloor
	}
	return best, bestWidth, bestHeight, bestQ, nil
}

// reencodable 检查格式能否安全地重新编码
func (e *Engine) reencodable(data []byte, format string) (string, bool) {
	if !canEncode(format) {
		return MsgUnsupportedFormat, false
	}
	if format == formatGIF && isAnimatedGIF(data) {
		return MsgAnimated, false
	}
	return "", true
}

// decode 解码图片，JPEG按EXIF方向转正
func (e *Engine) decode(data []byte, format string) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if format == formatJPEG {
		img = applyOrientation(img, readOrientation(data))
	}
	return img, nil
}

// write 原子写入输出文件
func (e *Engine) write(path string, data []byte) error {
	return fsutil.WriteFileAtomic(e.fs, path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// copyWith 原样复制并保留已知的原始尺寸信息
func (e *Engine) copyWith(res Result, message string) Result {
	copied := e.Copy(res.InputPath, res.OutputPath, message)
	copied.OriginalSize.Width, copied.OriginalSize.Height = res.OriginalSize.Width, res.OriginalSize.Height
	copied.NewSize = copied.OriginalSize
	return copied
}

// fallback 压缩失败时回退为原样复制，源文件永不丢失
func (e *Engine) fallback(res Result, cause error) Result {
	e.logger.Warn("压缩失败，回退为直接复制",
		zap.String("input", res.InputPath),
		zap.Error(cause))

	copied := e.copyWith(res, "")
	if copied.Err != nil {
		copied.Message = "压缩失败: " + cause.Error() + "；" + copied.Message
		return copied
	}
	copied.Message = "压缩失败: " + cause.Error() + "，已复制原文件"
	return copied
}
