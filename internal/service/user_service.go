package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/qs3c/style_go_server/config"
	"github.com/qs3c/style_go_server/internal/model"
	"github.com/qs3c/style_go_server/internal/model/dto"
	"github.com/qs3c/style_go_server/internal/repository"
)

// ExternalProfile 外部身份提供方给出的用户资料
type ExternalProfile struct {
	Provider  string
	Subject   string
	Email     string
	Name      string
	Username  string
	AvatarURL string
	Bio       string
}

// ObjectStore 头像存储，未配置 OSS 时为 nil
type ObjectStore interface {
	UploadAvatar(userID int64, data []byte) (string, error)
	Delete(objectKey string) error
	ExtractObjectKey(url string) string
}

type UserService struct {
	userRepo *repository.UserRepository
	store    ObjectStore
	cfg      *config.Config
}

func NewUserService(userRepo *repository.UserRepository, store ObjectStore, cfg *config.Config) *UserService {
	return &UserService{
		userRepo: userRepo,
		store:    store,
		cfg:      cfg,
	}
}

// Resolve 按 (provider, providerID) 查找用户
func (s *UserService) Resolve(ctx context.Context, provider, providerID string) (*model.User, error) {
	user, err := s.userRepo.GetByProvider(ctx, provider, providerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storageError("resolve user", err)
	}
	return user, nil
}

// AutoProvision 不存在时创建用户，已存在时原样返回。
// 并发创建触发唯一索引冲突时，重新读取已写入的那一行。
func (s *UserService) AutoProvision(ctx context.Context, p *ExternalProfile) (*model.User, error) {
	if p == nil || p.Provider == "" || p.Subject == "" {
		return nil, ErrIdentityRequired
	}

	existing, err := s.Resolve(ctx, p.Provider, p.Subject)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	user := newUserFromProfile(p)
	if err := s.userRepo.Create(ctx, user); err != nil {
		existing, rerr := s.userRepo.GetByProvider(ctx, p.Provider, p.Subject)
		if rerr == nil {
			return existing, nil
		}
		return nil, storageError("provision user", err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"provider": p.Provider,
	}).Info("user provisioned")
	return user, nil
}

// EnsureUser 先查找，找不到再自动创建
func (s *UserService) EnsureUser(ctx context.Context, p *ExternalProfile) (*model.User, error) {
	if p == nil || p.Provider == "" || p.Subject == "" {
		return nil, ErrIdentityRequired
	}

	user, err := s.Resolve(ctx, p.Provider, p.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	logrus.WithField("provider", p.Provider).Info("user not found in database, provisioning")
	return s.AutoProvision(ctx, p)
}

func (s *UserService) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storageError("get user", err)
	}
	return user, nil
}

func (s *UserService) Exists(ctx context.Context, userID int64) (bool, error) {
	ok, err := s.userRepo.ExistsByID(ctx, userID)
	if err != nil {
		return false, storageError("check user", err)
	}
	return ok, nil
}

// GetCreditBalance 当前积分余额
func (s *UserService) GetCreditBalance(ctx context.Context, userID int64) (int, error) {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Credits, nil
}

// Sync 同步外部资料：先按 provider 更新，其次按邮箱关联，都没有则新建
func (s *UserService) Sync(ctx context.Context, p *ExternalProfile) (*model.User, error) {
	if p == nil || p.Provider == "" || p.Subject == "" {
		return nil, ErrIdentityRequired
	}

	username := profileUsername(p)

	user, err := s.userRepo.GetByProvider(ctx, p.Provider, p.Subject)
	if err == nil {
		fields := map[string]interface{}{
			"username":   username,
			"avatar_url": p.AvatarURL,
			"bio":        p.Bio,
		}
		if err := s.userRepo.UpdateFields(ctx, user.ID, fields); err != nil {
			return nil, storageError("sync user", err)
		}
		return s.GetByID(ctx, user.ID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storageError("sync user", err)
	}

	if p.Email != "" {
		user, err = s.userRepo.GetByEmail(ctx, p.Email)
		if err == nil {
			fields := map[string]interface{}{
				"provider":    p.Provider,
				"provider_id": p.Subject,
				"username":    username,
				"avatar_url":  p.AvatarURL,
				"bio":         p.Bio,
			}
			if err := s.userRepo.UpdateFields(ctx, user.ID, fields); err != nil {
				return nil, storageError("link user", err)
			}
			logrus.WithField("user_id", user.ID).Info("linked external identity to existing user by email")
			return s.GetByID(ctx, user.ID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storageError("sync user", err)
		}
	}

	return s.AutoProvision(ctx, p)
}

// AddUser 直接创建用户。password_hash 原样保存，只给明文 password 时用 bcrypt 加密。
func (s *UserService) AddUser(ctx context.Context, req *dto.AddUserRequest) (*model.User, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	user := &model.User{
		Email:      &email,
		Provider:   nonEmpty(req.Provider),
		ProviderID: nonEmpty(req.ProviderID),
	}
	if req.Name != nil {
		user.Name = *req.Name
		user.Username = *req.Name
	}
	if user.Username == "" {
		user.Username = strings.SplitN(email, "@", 2)[0]
	}
	if req.AvatarURL != nil {
		user.AvatarURL = *req.AvatarURL
	}

	switch {
	case req.PasswordHash != nil && *req.PasswordHash != "":
		user.PasswordHash = req.PasswordHash
	case req.Password != nil && *req.Password != "":
		hashed, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hash := string(hashed)
		user.PasswordHash = &hash
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, storageError("create user", err)
	}
	return user, nil
}

// GetProfile 获取用户详情
func (s *UserService) GetProfile(ctx context.Context, userID int64) (*dto.UserInfo, error) {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return BuildUserInfo(user), nil
}

// UploadAvatar 上传头像到 OSS，并删除旧头像
func (s *UserService) UploadAvatar(ctx context.Context, userID int64, data []byte) (string, error) {
	if s.store == nil {
		return "", errors.New("OSS 客户端未配置")
	}

	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}

	avatarURL, err := s.store.UploadAvatar(userID, data)
	if err != nil {
		return "", err
	}

	if err := s.userRepo.UpdateFields(ctx, userID, map[string]interface{}{
		"avatar_url": avatarURL,
	}); err != nil {
		return "", storageError("update avatar", err)
	}

	if key := s.store.ExtractObjectKey(user.AvatarURL); key != "" {
		if err := s.store.Delete(key); err != nil {
			logrus.WithError(err).WithField("user_id", userID).Warn("failed to delete old avatar")
		}
	}

	return avatarURL, nil
}

// SetStripeCustomerID 绑定支付平台客户
func (s *UserService) SetStripeCustomerID(ctx context.Context, userID int64, customerID string) error {
	if err := s.userRepo.UpdateFields(ctx, userID, map[string]interface{}{
		"stripe_customer_id": customerID,
	}); err != nil {
		return storageError("set stripe customer", err)
	}
	return nil
}

// GetByStripeCustomerID 通过支付平台客户反查用户
func (s *UserService) GetByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	user, err := s.userRepo.GetByStripeCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storageError("get user by customer", err)
	}
	return user, nil
}

// BuildUserInfo 返回给前端的用户信息
func BuildUserInfo(user *model.User) *dto.UserInfo {
	info := &dto.UserInfo{
		ID:        user.ID,
		Name:      user.Name,
		Username:  user.Username,
		AvatarURL: user.AvatarURL,
		Bio:       user.Bio,
		Credits:   user.Credits,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	}
	if user.Email != nil {
		info.Email = *user.Email
	}
	if user.Provider != nil {
		info.Provider = *user.Provider
	}
	return info
}

func newUserFromProfile(p *ExternalProfile) *model.User {
	provider := p.Provider
	subject := p.Subject
	user := &model.User{
		Provider:   &provider,
		ProviderID: &subject,
		Name:       p.Name,
		Username:   profileUsername(p),
		AvatarURL:  p.AvatarURL,
		Bio:        p.Bio,
	}
	if p.Email != "" {
		email := p.Email
		user.Email = &email
	}
	return user
}

func profileUsername(p *ExternalProfile) string {
	switch {
	case p.Username != "":
		return p.Username
	case p.Name != "":
		return p.Name
	default:
		return "user"
	}
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
