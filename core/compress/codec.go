package compress

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// 解码器返回的格式名称
const (
	formatJPEG = "jpeg"
	formatPNG  = "png"
	formatGIF  = "gif"
	formatBMP  = "bmp"
	formatTIFF = "tiff"
	formatWEBP = "webp"
)

// canEncode 是否可以用同一格式重新编码
func canEncode(format string) bool {
	switch format {
	case formatJPEG, formatPNG, formatGIF, formatBMP, formatTIFF:
		return true
	}
	return false
}

// supportsQuality 编码质量是否对该格式有效
func supportsQuality(format string) bool {
	return format == formatJPEG
}

// isAnimatedGIF 多帧GIF重新编码会丢失动画
func isAnimatedGIF(data []byte) bool {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return len(g.Image) > 1
}

// encode 按格式编码图片
func encode(w io.Writer, img image.Image, format string, quality int) error {
	switch format {
	case formatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case formatPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		return enc.Encode(w, img)
	case formatGIF:
		return gif.Encode(w, img, nil)
	case formatBMP:
		return bmp.Encode(w, img)
	case formatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	}
	return fmt.Errorf("不支持编码格式: %s", format)
}

// encodeToBytes 编码到内存，用于反复测量输出大小
func encodeToBytes(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, img, format, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// resize 缩放到指定尺寸；尺寸不变时返回原图
func resize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// fitWithin 等比缩放使最长边等于 maxDimension，从不放大
func fitWithin(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}
	if width >= height {
		h := int(math.Round(float64(height) * float64(maxDimension) / float64(width)))
		return maxDimension, max(h, 1)
	}
	w := int(math.Round(float64(width) * float64(maxDimension) / float64(height)))
	return max(w, 1), maxDimension
}

// scale 按比例缩放尺寸
func scale(width, height int, factor float64) (int, int) {
	return int(math.Round(float64(width) * factor)), int(math.Round(float64(height) * factor))
}
