package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qs3c/style_go_server/internal/model"
)

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	email := fmt.Sprintf("test_%d@example.com", time.Now().UnixNano())
	user := &model.User{
		Username: fmt.Sprintf("testuser_%d", time.Now().UnixNano()%10000),
		Name:     "Test User",
		Email:    &email,
		Credits:  0,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithUsername 设置用户名
func WithUsername(username string) func(*model.User) {
	return func(u *model.User) {
		u.Username = username
	}
}

// WithEmail 设置邮箱
func WithEmail(email string) func(*model.User) {
	return func(u *model.User) {
		u.Email = &email
	}
}

// WithCredits 设置积分余额
func WithCredits(credits int) func(*model.User) {
	return func(u *model.User) {
		u.Credits = credits
	}
}

// WithProvider 设置第三方身份
func WithProvider(provider, providerID string) func(*model.User) {
	return func(u *model.User) {
		u.Provider = &provider
		u.ProviderID = &providerID
	}
}

// WithPasswordHash 设置密码哈希
func WithPasswordHash(hash string) func(*model.User) {
	return func(u *model.User) {
		u.PasswordHash = &hash
	}
}

// WithStripeCustomer 设置 Stripe 客户 ID
func WithStripeCustomer(customerID string) func(*model.User) {
	return func(u *model.User) {
		u.StripeCustomerID = &customerID
	}
}

// TestJob 创建测试任务
func TestJob(t *testing.T, db *gorm.DB, owner model.JobOwner, opts ...func(*model.Job)) *model.Job {
	t.Helper()

	job := &model.Job{
		ID:            uuid.NewString(),
		OwnerKind:     owner.Kind,
		OwnerRef:      owner.Ref,
		UploadedImage: []byte("fake-image"),
		Status:        model.JobStatusCreated,
	}

	for _, opt := range opts {
		opt(job)
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}

	return job
}

// WithJobStatus 设置任务状态
func WithJobStatus(status string) func(*model.Job) {
	return func(j *model.Job) {
		j.Status = status
	}
}

// WithCreatedAt 设置创建时间
func WithCreatedAt(ts time.Time) func(*model.Job) {
	return func(j *model.Job) {
		j.CreatedAt = ts
	}
}

// WithBestFit 设置最佳搭配图片
func WithBestFit(image []byte) func(*model.Job) {
	return func(j *model.Job) {
		j.BestFit = image
		j.Status = model.JobStatusCompleted
	}
}

// WithoutImage 不带上传图片
func WithoutImage() func(*model.Job) {
	return func(j *model.Job) {
		j.UploadedImage = nil
	}
}
