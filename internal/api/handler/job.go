package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/style_go_server/internal/api/middleware"
	"github.com/qs3c/style_go_server/internal/model"
	"github.com/qs3c/style_go_server/internal/model/dto"
	"github.com/qs3c/style_go_server/internal/pkg/imageproc"
	"github.com/qs3c/style_go_server/internal/pkg/response"
	"github.com/qs3c/style_go_server/internal/service"
)

type JobHandler struct {
	jobService      *service.JobService
	analysisService *service.AnalysisService
	imageService    *service.ImageService
	identity        *service.IdentityChain
}

func NewJobHandler(
	jobService *service.JobService,
	analysisService *service.AnalysisService,
	imageService *service.ImageService,
	identity *service.IdentityChain,
) *JobHandler {
	return &JobHandler{
		jobService:      jobService,
		analysisService: analysisService,
		imageService:    imageService,
		identity:        identity,
	}
}

// Create 创建任务
// POST /api/jobs/create
func (h *JobHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// 请求体解析失败时按没有上传图片处理
		logrus.WithError(err).Warn("create job: failed to parse body, creating job without image")
	}

	claims, _ := middleware.GetClaims(c)
	owner := h.identity.Resolve(ctx, &service.IdentityRequest{
		ExplicitUserID: req.DBUserID,
		Claims:         claims,
	})

	var image []byte
	if req.UploadedImage != "" {
		data, err := h.imageService.DecodeUpload(req.UploadedImage)
		if err != nil {
			// 过大或无法解码的图片都按无图任务处理
			logrus.WithError(err).WithField("too_big", errors.Is(err, imageproc.ErrImageTooBig)).
				Warn("create job: unusable image, creating job without image")
		} else {
			image = data
		}
	}

	job, err := h.jobService.Create(ctx, owner, image)
	if err != nil {
		logrus.WithError(err).Error("create job failed")
		response.ServerError(c, "Failed to create job", err.Error())
		return
	}

	if err := h.jobService.Enqueue(ctx, job); err != nil {
		logrus.WithError(err).WithField("job_id", job.ID).Warn("enqueue job failed")
	}

	response.Success(c, dto.CreateJobResponse{
		Success: true,
		Message: "Job created",
		JobID:   job.ID,
	})
}

// BestFit 获取任务的最佳搭配图片，生成中返回 202
// POST /api/jobs/best-fit
func (h *JobHandler) BestFit(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.JobIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "jobId is required")
		return
	}

	var callerID int64
	if claims, ok := middleware.GetClaims(c); ok {
		caller := h.identity.Resolve(ctx, &service.IdentityRequest{Claims: claims})
		callerID, _ = caller.UserID()
	}

	result, err := h.analysisService.BestFit(ctx, req.JobID, callerID)
	if err != nil {
		if errors.Is(err, service.ErrNoBestFit) {
			response.NotFoundError(c, err.Error())
			return
		}
		writeServiceError(c, err, "Failed to get best-fit image")
		return
	}

	if result.InProgress {
		response.Accepted(c, dto.BestFitResponse{
			Status:    "pending",
			JobID:     result.JobID,
			JobStatus: result.Status,
		})
		return
	}

	response.Success(c, dto.BestFitResponse{
		Status:    "success",
		JobID:     result.JobID,
		ImageData: result.ImageData,
		Cached:    result.Cached,
		JobStatus: result.Status,
	})
}

// History 当前用户的任务记录
// GET /api/jobs/history?limit=20
func (h *JobHandler) History(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	jobs, err := h.jobService.ListByOwner(c.Request.Context(), model.ResolvedOwner(userID), limit)
	if err != nil {
		writeServiceError(c, err, "Failed to list jobs")
		return
	}

	items := make([]dto.JobHistoryItem, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, dto.JobHistoryItem{
			JobID:         job.ID,
			Status:        job.Status,
			UploadedImage: dataURI(job.UploadedImage),
			BestFitImage:  dataURI(job.BestFit),
			CreatedAt:     job.CreatedAt.Format(time.RFC3339),
		})
	}

	response.Success(c, gin.H{"jobs": items})
}

func dataURI(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return imageproc.EncodeDataURI(data, http.DetectContentType(data))
}
