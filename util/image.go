package util

import (
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

// SupportedExtensions 允许上传的图片类型
var SupportedExtensions = []string{"png", "jpg", "jpeg", "webp"}

const outputPrefix = "bg_removed_"

// IsSupported 按扩展名判断，大小写不敏感
func IsSupported(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// DecodeImage 解码上传的图片，不处理 EXIF 方向，输出尺寸与像素数据一致
func DecodeImage(r io.Reader, name string) (image.Image, error) {
	if !IsSupported(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
	return Decode(r)
}

func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func EncodePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}

// OutputFileName 下载文件名：bg_removed_<第一个点之前的文件名>.png
func OutputFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	stem, _, _ := strings.Cut(base, ".")
	return outputPrefix + stem + ".png"
}

// ResizeWithinMax 缩放（最长边 <= maxSize），maxSize <= 0 不缩放
func ResizeWithinMax(img image.Image, maxSize int) image.Image {
	if maxSize <= 0 {
		return img
	}
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)

	if longest <= maxSize {
		return img
	}

	scale := float64(maxSize) / float64(longest)
	newW := max(int(float64(w)*scale), 1)
	newH := max(int(float64(h)*scale), 1)

	return resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)
}
