package util

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"os"
	"path"
)

// DownloadImage 下载图片，返回图片和 URL 中的文件名
func DownloadImage(ctx context.Context, url string) (image.Image, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download %s: status code %d", url, resp.StatusCode)
	}

	name := path.Base(req.URL.Path)
	img, err := DecodeImage(resp.Body, name)
	return img, name, err
}

// OpenImage 打开本地图片
func OpenImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	return DecodeImage(file, file.Name())
}

// SavePNG 保存为 PNG 文件
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodePNG(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("png encode: %w", err)
	}
	return f.Close()
}
