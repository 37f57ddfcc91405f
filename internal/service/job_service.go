package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/qs3c/style_go_server/internal/model"
	"github.com/qs3c/style_go_server/internal/pkg/metrics"
	"github.com/qs3c/style_go_server/internal/pkg/queue"
	"github.com/qs3c/style_go_server/internal/repository"
)

// JobQueue 最佳搭配生成队列，未配置 Redis 时为 nil
type JobQueue interface {
	Push(ctx context.Context, msg *queue.JobMessage) error
}

type JobService struct {
	jobRepo *repository.JobRepository
	queue   JobQueue
}

func NewJobService(jobRepo *repository.JobRepository, q JobQueue) *JobService {
	return &JobService{
		jobRepo: jobRepo,
		queue:   q,
	}
}

// Create 新建任务，状态为 created。持久化失败统一返回 ErrStorageUnavailable。
func (s *JobService) Create(ctx context.Context, owner model.JobOwner, image []byte) (*model.Job, error) {
	job := &model.Job{
		ID:        uuid.New().String(),
		OwnerKind: owner.Kind,
		OwnerRef:  owner.Ref,
		Status:    model.JobStatusCreated,
	}
	if len(image) > 0 {
		job.UploadedImage = image
	}

	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, storageError("create job", err)
	}

	metrics.RecordJobCreated(owner.Kind)
	logrus.WithFields(logrus.Fields{
		"job_id":     job.ID,
		"owner_kind": owner.Kind,
		"has_image":  len(image) > 0,
	}).Info("job created")
	return job, nil
}

// Enqueue 已解析归属且带图片的任务交给 worker 预生成最佳搭配
func (s *JobService) Enqueue(ctx context.Context, job *model.Job) error {
	if s.queue == nil || job.Owner().IsPending() || len(job.UploadedImage) == 0 {
		return nil
	}

	if err := s.queue.Push(ctx, &queue.JobMessage{
		JobID:     job.ID,
		OwnerKind: job.OwnerKind,
		OwnerRef:  job.OwnerRef,
	}); err != nil {
		return err
	}

	if err := s.jobRepo.UpdateStatus(ctx, job.ID, model.JobStatusQueued, ""); err != nil {
		return storageError("mark job queued", err)
	}
	job.Status = model.JobStatusQueued
	return nil
}

func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if id == "" {
		return nil, ErrJobNotFound
	}
	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, storageError("get job", err)
	}
	return job, nil
}

// ListByOwner 历史记录，最新的在前
func (s *JobService) ListByOwner(ctx context.Context, owner model.JobOwner, limit int) ([]*model.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	jobs, err := s.jobRepo.ListByOwner(ctx, owner, limit)
	if err != nil {
		return nil, storageError("list jobs", err)
	}
	return jobs, nil
}

func (s *JobService) SaveBestFit(ctx context.Context, id string, image []byte) error {
	if err := s.jobRepo.SaveBestFit(ctx, id, image); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		return storageError("save best fit", err)
	}
	return nil
}

func (s *JobService) MarkStatus(ctx context.Context, id, status, errMsg string) error {
	if err := s.jobRepo.UpdateStatus(ctx, id, status, errMsg); err != nil {
		return storageError("update job status", err)
	}
	return nil
}

// Claim 将任务从 from 中的某个状态原子地切到 processing，同一时刻只有一方能拿到
func (s *JobService) Claim(ctx context.Context, id string, from ...string) (bool, error) {
	ok, err := s.jobRepo.TransitionStatus(ctx, id, from, model.JobStatusProcessing)
	if err != nil {
		return false, storageError("claim job", err)
	}
	return ok, nil
}

// PurgeStalePending 删除超过 olderThan 仍未解析到用户的占位任务。dryRun 只统计不删除。
func (s *JobService) PurgeStalePending(ctx context.Context, olderThan time.Duration, dryRun bool) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	if dryRun {
		n, err := s.jobRepo.CountPendingBefore(ctx, cutoff)
		if err != nil {
			return 0, storageError("count stale pending jobs", err)
		}
		return n, nil
	}

	n, err := s.jobRepo.DeletePendingBefore(ctx, cutoff)
	if err != nil {
		return 0, storageError("purge stale pending jobs", err)
	}
	return n, nil
}
