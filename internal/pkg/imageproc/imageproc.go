package imageproc

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"regexp"

	// 注册解码器
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultMaxPixels 未配置时解码前允许的最大像素数
const DefaultMaxPixels = 40_000_000

var (
	ErrEmptyImage   = errors.New("empty image data")
	ErrImageTooBig  = errors.New("image exceeds size limit")
	ErrInvalidImage = errors.New("invalid base64 image data")
)

var dataURIPrefix = regexp.MustCompile(`^data:image/\w+;base64,`)

// Options 压缩参数
type Options struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
	MaxBytes  int64
	MaxPixels int64 // 宽 x 高上限，<= 0 时使用 DefaultMaxPixels
}

// StripDataURI 去掉 data:image/...;base64, 前缀，没有前缀时原样返回
func StripDataURI(s string) string {
	return dataURIPrefix.ReplaceAllString(s, "")
}

// DecodeBase64Image 解码 data URI 或裸 base64
func DecodeBase64Image(s string) ([]byte, error) {
	raw := StripDataURI(s)
	if raw == "" {
		return nil, ErrEmptyImage
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
	}
	return data, nil
}

// EncodeDataURI 按给定 mime 编码为 data URI
func EncodeDataURI(data []byte, mime string) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// FitWithin 等比缩放到 maxW x maxH 以内，不放大
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if maxW > 0 && w > maxW {
		h = int(float64(h)*float64(maxW)/float64(w) + 0.5)
		w = maxW
	}
	if maxH > 0 && h > maxH {
		w = int(float64(w)*float64(maxH)/float64(h) + 0.5)
		h = maxH
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// Process 解码、按需缩放并重新编码为 JPEG。已是 JPEG 且尺寸合规时原样返回。
func Process(data []byte, opts Options) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if opts.MaxBytes > 0 && int64(len(data)) > opts.MaxBytes {
		return nil, ErrImageTooBig
	}

	// 先读头部尺寸，避免按伪造的宽高分配整幅像素缓冲
	header, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	maxPixels := opts.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if int64(header.Width)*int64(header.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooBig, header.Width, header.Height)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	w, h := FitWithin(b.Dx(), b.Dy(), opts.MaxWidth, opts.MaxHeight)
	if format == "jpeg" && w == b.Dx() && h == b.Dy() {
		return data, nil
	}

	var out image.Image = src
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		out = dst
	}

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// ProcessDataURI 输入 data URI / base64，输出 JPEG data URI
func ProcessDataURI(s string, opts Options) (string, error) {
	data, err := DecodeBase64Image(s)
	if err != nil {
		return "", err
	}
	out, err := Process(data, opts)
	if err != nil {
		return "", err
	}
	return EncodeDataURI(out, "image/jpeg"), nil
}
