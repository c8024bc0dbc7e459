package compress

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	exif "github.com/dsoprea/go-exif/v3"
)

// readOrientation 读取JPEG的EXIF方向标记，缺失或无法解析时返回1
func readOrientation(data []byte) int {
	tags, _, err := exif.GetFlatExifDataUniversalSearchWithReadSeeker(bytes.NewReader(data), nil, true)
	if err != nil {
		return 1
	}

	for _, tag := range tags {
		if tag.TagName != "Orientation" {
			continue
		}
		var v int
		switch value := tag.Value.(type) {
		case []uint16:
			if len(value) > 0 {
				v = int(value[0])
			}
		case uint16:
			v = int(value)
		case []uint32:
			if len(value) > 0 {
				v = int(value[0])
			}
		}
		if v >= 1 && v <= 8 {
			return v
		}
	}
	return 1
}

// orientationTransforms EXIF方向标记对应的像素变换
var orientationTransforms = map[int]func(image.Image) *image.NRGBA{
	2: imaging.FlipH,
	3: imaging.Rotate180,
	4: imaging.FlipV,
	5: imaging.Transpose,
	6: imaging.Rotate270,
	7: imaging.Transverse,
	8: imaging.Rotate90,
}

// applyOrientation 按EXIF方向标记变换像素。
// 重新编码时不会写回EXIF，像素必须先转正。
func applyOrientation(img image.Image, orientation int) image.Image {
	transform, ok := orientationTransforms[orientation]
	if !ok {
		return img
	}
	return transform(img)
}
