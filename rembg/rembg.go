package rembg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"strconv"
)

var (
	ErrInvalidOptions = errors.New("invalid remove options")
	ErrBackend        = errors.New("background removal backend failed")
	ErrUnknownModel   = errors.New("unknown model")
)

type Remover interface {
	Remove(ctx context.Context, img image.Image, opts Options) (image.Image, error)
}

// Pinger 由可探测可用性的后端实现
type Pinger interface {
	Ping(ctx context.Context) error
}

// Range 一个整数参数的取值范围
type Range struct {
	Min     int `json:"min"`
	Max     int `json:"max"`
	Default int `json:"default"`
}

var (
	ForegroundThresholdRange = Range{Min: 0, Max: 255, Default: 240}
	BackgroundThresholdRange = Range{Min: 0, Max: 255, Default: 10}
	ErodeSizeRange           = Range{Min: 0, Max: 30, Default: 10}
)

func (r Range) contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// Options 透传给 rembg 的调参
// 三个整数只在 AlphaMatting 打开时生效
type Options struct {
	AlphaMatting        bool `json:"alpha_matting" form:"alpha_matting"`
	ForegroundThreshold int  `json:"foreground_threshold" form:"foreground_threshold"`
	BackgroundThreshold int  `json:"background_threshold" form:"background_threshold"`
	ErodeSize           int  `json:"erode_size" form:"erode_size"`
}

func DefaultOptions() Options {
	return Options{
		AlphaMatting:        true,
		ForegroundThreshold: ForegroundThresholdRange.Default,
		BackgroundThreshold: BackgroundThresholdRange.Default,
		ErodeSize:           ErodeSizeRange.Default,
	}
}

// Validate 关闭 alpha matting 时不检查阈值，它们不会被发送
func (o Options) Validate() error {
	if !o.AlphaMatting {
		return nil
	}
	if !ForegroundThresholdRange.contains(o.ForegroundThreshold) {
		return fmt.Errorf("%w: foreground threshold %d out of [%d, %d]", ErrInvalidOptions,
			o.ForegroundThreshold, ForegroundThresholdRange.Min, ForegroundThresholdRange.Max)
	}
	if !BackgroundThresholdRange.contains(o.BackgroundThreshold) {
		return fmt.Errorf("%w: background threshold %d out of [%d, %d]", ErrInvalidOptions,
			o.BackgroundThreshold, BackgroundThresholdRange.Min, BackgroundThresholdRange.Max)
	}
	if !ErodeSizeRange.contains(o.ErodeSize) {
		return fmt.Errorf("%w: erode size %d out of [%d, %d]", ErrInvalidOptions,
			o.ErodeSize, ErodeSizeRange.Min, ErodeSizeRange.Max)
	}
	return nil
}

// Params 返回真正发给 rembg server 的表单字段
func (o Options) Params() map[string]string {
	if !o.AlphaMatting {
		return map[string]string{"a": "false"}
	}
	return map[string]string{
		"a":  "true",
		"af": strconv.Itoa(o.ForegroundThreshold),
		"ab": strconv.Itoa(o.BackgroundThreshold),
		"ae": strconv.Itoa(o.ErodeSize),
	}
}

// DefaultRemBG 本地直通实现：不去背景，只补上 alpha 通道
type DefaultRemBG struct{}

func NewDefaultRemBG() *DefaultRemBG {
	return &DefaultRemBG{}
}

func (d *DefaultRemBG) Remove(ctx context.Context, img image.Image, opts Options) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ToNRGBA(img), nil
}

func (d *DefaultRemBG) Ping(ctx context.Context) error {
	return nil
}

func ToNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}
