package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/style_go_server/internal/model"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *model.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListByOwner 按创建时间倒序列出某归属者的任务
func (r *JobRepository) ListByOwner(ctx context.Context, owner model.JobOwner, limit int) ([]*model.Job, error) {
	var jobs []*model.Job
	err := r.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_ref = ?", owner.Kind, owner.Ref).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// TransitionStatus 仅当当前状态在 from 中时改为 to，返回是否成功
func (r *JobRepository) TransitionStatus(ctx context.Context, id string, from []string, to string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *JobRepository) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	fields := map[string]interface{}{
		"status":        status,
		"error_message": errMsg,
	}
	if status == model.JobStatusCompleted || status == model.JobStatusFailed {
		fields["completed_at"] = time.Now()
	}
	return r.db.WithContext(ctx).Model(&model.Job{}).Where("id = ?", id).Updates(fields).Error
}

// SaveBestFit 写入最佳搭配图片并标记完成
func (r *JobRepository) SaveBestFit(ctx context.Context, id string, image []byte) error {
	res := r.db.WithContext(ctx).Model(&model.Job{}).Where("id = ?", id).Updates(map[string]interface{}{
		"best_fit":      image,
		"status":        model.JobStatusCompleted,
		"error_message": "",
		"completed_at":  time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountPendingBefore 统计早于 cutoff 的占位归属任务
func (r *JobRepository) CountPendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Job{}).
		Where("owner_kind = ? AND created_at < ?", model.OwnerPending, cutoff).
		Count(&count).Error
	return count, err
}

// DeletePendingBefore 删除早于 cutoff 的占位归属任务
func (r *JobRepository) DeletePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("owner_kind = ? AND created_at < ?", model.OwnerPending, cutoff).
		Delete(&model.Job{})
	return res.RowsAffected, res.Error
}
