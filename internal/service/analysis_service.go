package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/style_go_server/config"
	"github.com/qs3c/style_go_server/internal/model"
	"github.com/qs3c/style_go_server/internal/pkg/analysis"
	"github.com/qs3c/style_go_server/internal/pkg/imageproc"
)

// AnalysisClient 远程分析服务
type AnalysisClient interface {
	FetchWearSuitPictures(ctx context.Context, jobID string) (json.RawMessage, error)
	FetchBestFitImage(ctx context.Context, jobID string) (*analysis.Envelope, error)
	CheckAvailability(ctx context.Context) bool
}

// BestFitResult imageData 为裸 base64；InProgress 时只有 Status
type BestFitResult struct {
	JobID      string
	ImageData  string
	Cached     bool
	InProgress bool
	Status     string
}

type AnalysisService struct {
	client  AnalysisClient
	jobs    *JobService
	credits *CreditService
	costs   config.CostConfig
}

func NewAnalysisService(client AnalysisClient, jobs *JobService, credits *CreditService, cfg *config.Config) *AnalysisService {
	return &AnalysisService{
		client:  client,
		jobs:    jobs,
		credits: credits,
		costs:   cfg.Credits.Costs,
	}
}

// WearSuitPictures 先扣积分再调用远程服务，失败时退还
func (s *AnalysisService) WearSuitPictures(ctx context.Context, userID int64, jobID string) (json.RawMessage, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	// 他人的任务按不存在处理；占位归属的任务允许登录后继续使用
	if ownerID, ok := job.Owner().UserID(); ok && ownerID != userID {
		return nil, ErrJobNotFound
	}

	cost := s.costs.WearSuitPictures
	if err := s.charge(ctx, userID, cost, model.ReasonWearSuit); err != nil {
		return nil, err
	}

	data, err := s.client.FetchWearSuitPictures(ctx, jobID)
	if err != nil {
		s.refund(ctx, userID, cost, jobID)
		return nil, err
	}
	return data, nil
}

// BestFit 已缓存的结果任何人可取；否则只有任务归属者本人可以扣费生成。
// callerID 为 0 表示未登录。
func (s *AnalysisService) BestFit(ctx context.Context, jobID string, callerID int64) (*BestFitResult, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if len(job.BestFit) > 0 {
		return &BestFitResult{
			JobID:     job.ID,
			ImageData: base64.StdEncoding.EncodeToString(job.BestFit),
			Cached:    true,
			Status:    job.Status,
		}, nil
	}

	// 没有上传图片的任务无法生成
	if len(job.UploadedImage) == 0 {
		return nil, ErrNoBestFit
	}

	// 占位归属没有积分账户
	ownerID, ok := job.Owner().UserID()
	if !ok {
		return nil, ErrInsufficientCredits
	}
	if callerID <= 0 {
		return nil, ErrLoginRequired
	}
	if callerID != ownerID {
		return nil, ErrJobNotFound
	}

	// worker 或另一个请求正在生成
	claimed, err := s.jobs.Claim(ctx, job.ID, model.JobStatusCreated, model.JobStatusFailed)
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, err := s.jobs.GetByID(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		return &BestFitResult{JobID: job.ID, InProgress: true, Status: current.Status}, nil
	}

	cost := s.costs.BestFitImage
	if err := s.charge(ctx, ownerID, cost, model.ReasonBestFit); err != nil {
		s.release(ctx, job.ID, job.Status, job.ErrorMessage)
		return nil, err
	}

	image, err := s.FetchAndStoreBestFit(ctx, job.ID)
	if err != nil {
		s.refund(ctx, ownerID, cost, job.ID)
		s.release(ctx, job.ID, model.JobStatusFailed, err.Error())
		return nil, err
	}

	return &BestFitResult{
		JobID:     job.ID,
		ImageData: base64.StdEncoding.EncodeToString(image),
		Status:    model.JobStatusCompleted,
	}, nil
}

// FetchAndStoreBestFit 远程生成最佳搭配并写入任务，不涉及积分
func (s *AnalysisService) FetchAndStoreBestFit(ctx context.Context, jobID string) ([]byte, error) {
	env, err := s.client.FetchBestFitImage(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if env.ImageData == "" {
		return nil, &analysis.ExternalServiceError{
			Message: "analysis service returned no image",
		}
	}
	image, err := imageproc.DecodeBase64Image(env.ImageData)
	if err != nil {
		return nil, &analysis.ExternalServiceError{
			Message: "analysis service returned an undecodable image",
			Err:     err,
		}
	}

	if err := s.jobs.SaveBestFit(ctx, jobID, image); err != nil {
		return nil, err
	}
	return image, nil
}

func (s *AnalysisService) Available(ctx context.Context) bool {
	return s.client.CheckAvailability(ctx)
}

func (s *AnalysisService) charge(ctx context.Context, userID int64, cost int, reason string) error {
	if cost <= 0 {
		return nil
	}
	_, err := s.credits.Debit(ctx, userID, cost, reason)
	return err
}

func (s *AnalysisService) refund(ctx context.Context, userID int64, cost int, jobID string) {
	if cost <= 0 {
		return
	}
	// 请求可能已被取消，退款不能跟着失败
	if _, err := s.credits.Refund(context.WithoutCancel(ctx), userID, cost); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"job_id":  jobID,
		}).Error("failed to refund credits after analysis failure")
	}
}

// release 放弃生成后恢复任务状态
func (s *AnalysisService) release(ctx context.Context, jobID, status, errMsg string) {
	if err := s.jobs.MarkStatus(context.WithoutCancel(ctx), jobID, status, errMsg); err != nil {
		logrus.WithError(err).WithField("job_id", jobID).Error("failed to restore job status")
	}
}

// IsExternalFailure 远程分析服务导致的失败
func IsExternalFailure(err error) bool {
	var extErr *analysis.ExternalServiceError
	return errors.As(err, &extErr)
}
