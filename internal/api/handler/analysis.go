package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/style_go_server/internal/api/middleware"
	"github.com/qs3c/style_go_server/internal/model/dto"
	"github.com/qs3c/style_go_server/internal/pkg/response"
	"github.com/qs3c/style_go_server/internal/service"
)

type AnalysisHandler struct {
	analysisService *service.AnalysisService
}

func NewAnalysisHandler(analysisService *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
	}
}

// WearSuitPictures 获取穿搭建议图片，按次扣积分
// POST /api/analysis/wear-suit-pictures
func (h *AnalysisHandler) WearSuitPictures(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.JobIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "jobId is required")
		return
	}

	data, err := h.analysisService.WearSuitPictures(c.Request.Context(), userID, req.JobID)
	if err != nil {
		writeServiceError(c, err, "Failed to get wear-suit pictures")
		return
	}

	response.Success(c, dto.WearSuitResponse{
		Status: "success",
		JobID:  req.JobID,
		Data:   data,
	})
}

// Health 分析服务可用性
// GET /api/analysis/health
func (h *AnalysisHandler) Health(c *gin.Context) {
	if !h.analysisService.Available(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"available": false})
		return
	}
	response.Success(c, gin.H{"available": true})
}
