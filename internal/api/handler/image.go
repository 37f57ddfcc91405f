package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/style_go_server/internal/model/dto"
	"github.com/qs3c/style_go_server/internal/pkg/response"
	"github.com/qs3c/style_go_server/internal/service"
)

type ImageHandler struct {
	imageService *service.ImageService
}

func NewImageHandler(imageService *service.ImageService) *ImageHandler {
	return &ImageHandler{
		imageService: imageService,
	}
}

// Process 压缩图片，处理失败时原样返回
// POST /api/image/process
func (h *ImageHandler) Process(c *gin.Context) {
	var req dto.ProcessImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	src := req.Source()
	if src == "" {
		response.ParamError(c, "image is required")
		return
	}

	processed, err := h.imageService.Process(src)
	if err != nil {
		logrus.WithError(err).Warn("image processing failed, echoing original")
		response.Success(c, dto.ProcessImageResponse{
			Success:        true,
			ProcessedImage: src,
			Warning:        "Processing failed, original image returned",
		})
		return
	}

	response.Success(c, dto.ProcessImageResponse{
		Success:        true,
		ProcessedImage: processed,
	})
}
