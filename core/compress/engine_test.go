package compress

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// noiseImage 生成随机噪点图片，JPEG几乎无法压缩，便于测试大小模式
func noiseImage(w, h int, seed int64) *image.RGBA {
	r := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(r.Intn(256))
	}
	return img
}

func writeJPEG(t *testing.T, fs afero.Fs, path string, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("编码测试图片失败: %v", err)
	}
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("写入测试图片失败: %v", err)
	}
	return buf.Bytes()
}

func newTestEngine(t *testing.T) (*Engine, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	logger, _ := zap.NewDevelopment()
	return NewEngine(fs, DefaultSettings(), logger), fs
}

func decodeOutput(t *testing.T, fs afero.Fs, path string) (image.Config, string) {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("读取输出失败: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("输出不是有效图片: %v", err)
	}
	return cfg, format
}

// TestCompressByDimensionResizes 测试超出尺寸的图片按最长边等比缩放
func TestCompressByDimensionResizes(t *testing.T) {
	engine, fs := newTestEngine(t)
	writeJPEG(t, fs, "/in/wide.jpg", noiseImage(400, 200, 1), 90)

	res := engine.CompressByDimension("/in/wide.jpg", "/out/wide.jpg", 100)
	if !res.OK() || !res.Compressed {
		t.Fatalf("unexpected result: %+v", res)
	}
	cfg, format := decodeOutput(t, fs, "/out/wide.jpg")
	if cfg.Width != 100 || cfg.Height != 50 || format != "jpeg" {
		t.Errorf("output = %dx%d %s, want 100x50 jpeg", cfg.Width, cfg.Height, format)
	}
	if res.NewSize.Width != 100 || res.OriginalSize.Width != 400 {
		t.Errorf("sizes not recorded: %+v", res)
	}
}

// TestCompressByDimensionPortraitPNG 测试竖图与PNG格式保持
func TestCompressByDimensionPortraitPNG(t *testing.T) {
	engine, fs := newTestEngine(t)
	var buf bytes.Buffer
	if err := png.Encode(&buf, noiseImage(60, 300, 2)); err != nil {
		t.Fatal(err)
	}
	_ = afero.WriteFile(fs, "/in/tall.png", buf.Bytes(), 0o644)

	res := engine.CompressByDimension("/in/tall.png", "/out/tall.png", 150)
	if !res.Compressed {
		t.Fatalf("expected compression: %+v", res)
	}
	cfg, format := decodeOutput(t, fs, "/out/tall.png")
	if cfg.Width != 30 || cfg.Height != 150 || format != "png" {
		t.Errorf("output = %dx%d %s, want 30x150 png", cfg.Width, cfg.Height, format)
	}
}

// TestCompressByDimensionCopiesSmallImage 测试尺寸已满足时逐字节复制
func TestCompressByDimensionCopiesSmallImage(t *testing.T) {
	engine, fs := newTestEngine(t)
	original := writeJPEG(t, fs, "/in/small.jpg", noiseImage(80, 60, 3), 90)

	res := engine.CompressByDimension("/in/small.jpg", "/out/small.jpg", 100)
	if res.Compressed || res.Message != MsgDimensionFits {
		t.Fatalf("unexpected result: %+v", res)
	}
	got, _ := afero.ReadFile(fs, "/out/small.jpg")
	if !bytes.Equal(got, original) {
		t.Error("output should be a byte-identical copy")
	}
}

// TestCompressByFileSizeWithinBudget 测试文件已小于预算时原样复制
func TestCompressByFileSizeWithinBudget(t *testing.T) {
	engine, fs := newTestEngine(t)
	original := writeJPEG(t, fs, "/in/a.jpg", noiseImage(64, 64, 4), 80)

	res := engine.CompressByFileSize("/in/a.jpg", "/out/a.jpg", int64(len(original))+1024)
	if res.Compressed {
		t.Fatalf("expected copy: %+v", res)
	}
	got, _ := afero.ReadFile(fs, "/out/a.jpg")
	if !bytes.Equal(got, original) {
		t.Error("output should equal input")
	}
}

// TestCompressByFileSizeTinyBudgetTerminates 测试极小预算时迭代会终止并产生输出
func TestCompressByFileSizeTinyBudgetTerminates(t *testing.T) {
	engine, fs := newTestEngine(t)
	original := writeJPEG(t, fs, "/in/big.jpg", noiseImage(600, 400, 5), 95)

	res := engine.CompressByFileSize("/in/big.jpg", "/out/big.jpg", 1024)
	if !res.OK() {
		t.Fatalf("unexpected error: %v", res.Err)
	}

	got, err := afero.ReadFile(fs, "/out/big.jpg")
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if !res.Compressed {
		t.Fatalf("expected a compressed result: %+v", res)
	}
	if int64(len(got)) >= int64(len(original)) {
		t.Errorf("compressed output not smaller: %d >= %d", len(got), len(original))
	}
	// 预算无法满足时最后一次编码使用质量下限
	if res.Quality != DefaultSettings().QualityFloor {
		t.Errorf("quality = %d, want floor %d", res.Quality, DefaultSettings().QualityFloor)
	}
	if !strings.HasPrefix(res.Message, "使用最低质量压缩") {
		t.Errorf("message = %q", res.Message)
	}
	cfg, _ := decodeOutput(t, fs, "/out/big.jpg")
	if cfg.Width < DefaultSettings().MinDimension || cfg.Height < DefaultSettings().MinDimension {
		t.Errorf("output shrunk below the minimum dimension: %dx%d", cfg.Width, cfg.Height)
	}
}

// TestCompressByFileSizeSmallImageKeepsLoweringQuality 测试尺寸到达下限后继续降低质量直到满足预算
func TestCompressByFileSizeSmallImageKeepsLoweringQuality(t *testing.T) {
	engine, fs := newTestEngine(t)
	original := writeJPEG(t, fs, "/in/small.jpg", noiseImage(120, 120, 7), 95)

	decoded, err := jpeg.Decode(bytes.NewReader(original))
	if err != nil {
		t.Fatalf("解码测试图片失败: %v", err)
	}
	s := DefaultSettings()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, decoded, &jpeg.Options{Quality: s.QualityFloor + s.QualityStep}); err != nil {
		t.Fatalf("编码失败: %v", err)
	}
	// 原尺寸在低质量下即可满足的预算
	budget := int64(buf.Len()) + 64

	res := engine.CompressByFileSize("/in/small.jpg", "/out/small.jpg", budget)
	if !res.Compressed {
		t.Fatalf("expected compression: %+v", res)
	}
	if res.NewSize.Bytes > budget {
		t.Errorf("new size %d exceeds budget %d (quality %d, %dx%d)",
			res.NewSize.Bytes, budget, res.Quality, res.NewSize.Width, res.NewSize.Height)
	}
	if res.Quality > s.ResizeQualityThreshold {
		t.Errorf("quality = %d, want at most %d", res.Quality, s.ResizeQualityThreshold)
	}
	if res.NewSize.Width < s.MinDimension || res.NewSize.Height < s.MinDimension {
		t.Errorf("output shrunk below the minimum dimension: %dx%d", res.NewSize.Width, res.NewSize.Height)
	}
	if !strings.HasPrefix(res.Message, "压缩完成") {
		t.Errorf("message = %q", res.Message)
	}
}

// TestCompressByFileSizeMeetsReachableBudget 测试可达预算能被满足
func TestCompressByFileSizeMeetsReachableBudget(t *testing.T) {
	engine, fs := newTestEngine(t)
	original := writeJPEG(t, fs, "/in/big.jpg", noiseImage(300, 300, 6), 100)
	budget := int64(len(original)) / 2

	res := engine.CompressByFileSize("/in/big.jpg", "/out/big.jpg", budget)
	if !res.Compressed {
		t.Fatalf("expected compression: %+v", res)
	}
	if res.NewSize.Bytes > budget {
		t.Errorf("new size %d exceeds budget %d", res.NewSize.Bytes, budget)
	}
	if !strings.HasPrefix(res.Message, "压缩完成") {
		t.Errorf("message = %q", res.Message)
	}
}

// TestCorruptImageFallsBackToCopy 测试损坏的图片回退为原样复制
func TestCorruptImageFallsBackToCopy(t *testing.T) {
	engine, fs := newTestEngine(t)
	garbage := []byte("definitely not a jpeg")
	_ = afero.WriteFile(fs, "/in/broken.jpg", garbage, 0o644)

	for name, c := range map[string]Constraint{
		"dimension": DimensionConstraint(100),
		"filesize":  FileSizeConstraint(4),
	} {
		t.Run(name, func(t *testing.T) {
			out := "/out/" + name + ".jpg"
			res := engine.Compress("/in/broken.jpg", out, c)
			if res.Compressed || !res.OK() {
				t.Fatalf("unexpected result: %+v", res)
			}
			if !strings.HasPrefix(res.Message, "压缩失败") {
				t.Errorf("message = %q", res.Message)
			}
			got, _ := afero.ReadFile(fs, out)
			if !bytes.Equal(got, garbage) {
				t.Error("fallback copy differs from source")
			}
		})
	}
}

// TestMissingInputReportsError 测试源文件不存在时结果携带错误
func TestMissingInputReportsError(t *testing.T) {
	engine, fs := newTestEngine(t)
	res := engine.CompressByDimension("/in/missing.jpg", "/out/missing.jpg", 100)
	if res.OK() {
		t.Fatal("expected error for missing input")
	}
	if ok, _ := afero.Exists(fs, "/out/missing.jpg"); ok {
		t.Error("no output should exist")
	}
}

// TestNonPositiveConstraintCopies 测试参数不大于0时不压缩
func TestNonPositiveConstraintCopies(t *testing.T) {
	engine, fs := newTestEngine(t)
	original := writeJPEG(t, fs, "/in/a.jpg", noiseImage(500, 500, 7), 90)

	for _, c := range []Constraint{DimensionConstraint(0), FileSizeConstraint(-1), {Kind: ModeNone}} {
		res := engine.Compress("/in/a.jpg", "/out/a.jpg", c)
		if res.Compressed || res.Message != MsgCopied {
			t.Errorf("%v: unexpected result %+v", c, res)
		}
		got, _ := afero.ReadFile(fs, "/out/a.jpg")
		if !bytes.Equal(got, original) {
			t.Errorf("%v: output should equal input", c)
		}
	}
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{400, 200, 100, 100, 50},
		{200, 400, 100, 50, 100},
		{100, 100, 100, 100, 100},
		{50, 20, 100, 50, 20},
		{1000, 1, 100, 100, 1},
	}
	for _, tt := range tests {
		w, h := fitWithin(tt.w, tt.h, tt.max)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("fitWithin(%d,%d,%d) = %d,%d want %d,%d", tt.w, tt.h, tt.max, w, h, tt.wantW, tt.wantH)
		}
	}
}

// TestApplyOrientation 测试EXIF方向变换
func TestApplyOrientation(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	red := color.NRGBA{R: 255, A: 255}
	blue := color.NRGBA{B: 255, A: 255}
	src.Set(0, 0, red)
	src.Set(1, 0, blue)

	rotated := applyOrientation(src, 6)
	if b := rotated.Bounds(); b.Dx() != 1 || b.Dy() != 2 {
		t.Fatalf("bounds = %v, want 1x2", b)
	}
	// 顺时针旋转90°后，左侧像素移到顶部
	if got := color.NRGBAModel.Convert(rotated.At(0, 0)); got != red {
		t.Errorf("top pixel = %v, want red", got)
	}

	flipped := applyOrientation(src, 2)
	if got := color.NRGBAModel.Convert(flipped.At(0, 0)); got != blue {
		t.Errorf("flipped left pixel = %v, want blue", got)
	}

	// 方向8为逆时针90°，右侧像素移到顶部
	ccw := applyOrientation(src, 8)
	if got := color.NRGBAModel.Convert(ccw.At(0, 0)); got != blue {
		t.Errorf("orientation 8 top pixel = %v, want blue", got)
	}

	for _, o := range []int{0, 1, 9} {
		if applyOrientation(src, o) != image.Image(src) {
			t.Errorf("orientation %d should return the input unchanged", o)
		}
	}
}

func TestSettingsNormalized(t *testing.T) {
	s := Settings{StartQuality: 200, QualityStep: -1, ResizeFactor: 2}.normalized()
	def := DefaultSettings()
	if s != def {
		t.Errorf("normalized = %+v, want defaults %+v", s, def)
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"dimension": ModeDimension, "FileSize": ModeFileSize, "": ModeNone, "none": ModeNone}
	for in, want := range cases {
		if got, err := ParseMode(in); err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("lossless"); err == nil {
		t.Error("expected error")
	}
}
