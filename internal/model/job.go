package model

import (
	"strconv"
	"time"
)

// 任务归属：已解析到用户，或仅持有临时令牌
const (
	OwnerResolved = "resolved"
	OwnerPending  = "pending"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// JobOwner 任务归属者。Pending 表示身份解析失败时的占位令牌，不对应 users 表中的记录。
type JobOwner struct {
	Kind string
	Ref  string
}

func ResolvedOwner(userID int64) JobOwner {
	return JobOwner{Kind: OwnerResolved, Ref: strconv.FormatInt(userID, 10)}
}

func PendingOwner(token string) JobOwner {
	return JobOwner{Kind: OwnerPending, Ref: token}
}

func (o JobOwner) IsPending() bool {
	return o.Kind == OwnerPending
}

// UserID 仅对已解析的归属有效
func (o JobOwner) UserID() (int64, bool) {
	if o.Kind != OwnerResolved {
		return 0, false
	}
	id, err := strconv.ParseInt(o.Ref, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type Job struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	OwnerKind     string     `gorm:"size:20;not null;index:idx_jobs_owner" json:"owner_kind"`
	OwnerRef      string     `gorm:"size:64;not null;index:idx_jobs_owner" json:"owner_ref"`
	UploadedImage []byte     `json:"-"`
	BestFit       []byte     `json:"-"`
	Status        string     `gorm:"size:20;default:created;index" json:"status"`
	ErrorMessage  string     `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func (Job) TableName() string {
	return "jobs"
}

func (j *Job) Owner() JobOwner {
	return JobOwner{Kind: j.OwnerKind, Ref: j.OwnerRef}
}
