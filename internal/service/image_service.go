package service

import (
	"github.com/qs3c/style_go_server/config"
	"github.com/qs3c/style_go_server/internal/pkg/imageproc"
)

type ImageService struct {
	opts imageproc.Options
}

func NewImageService(cfg config.UploadConfig) *ImageService {
	return &ImageService{
		opts: imageproc.Options{
			MaxWidth:  cfg.MaxWidth,
			MaxHeight: cfg.MaxHeight,
			Quality:   cfg.JPEGQuality,
			MaxBytes:  cfg.MaxImageBytes,
			MaxPixels: cfg.MaxPixels,
		},
	}
}

// DecodeUpload 解码上传的 data URI，返回原始字节
func (s *ImageService) DecodeUpload(dataURI string) ([]byte, error) {
	data, err := imageproc.DecodeBase64Image(dataURI)
	if err != nil {
		return nil, err
	}
	if s.opts.MaxBytes > 0 && int64(len(data)) > s.opts.MaxBytes {
		return nil, imageproc.ErrImageTooBig
	}
	return data, nil
}

// Process 压缩为 JPEG data URI
func (s *ImageService) Process(dataURI string) (string, error) {
	return imageproc.ProcessDataURI(dataURI, s.opts)
}
