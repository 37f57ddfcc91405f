package service

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/qs3c/style_go_server/config"
	"github.com/qs3c/style_go_server/internal/model"
	"github.com/qs3c/style_go_server/internal/model/dto"
	"github.com/qs3c/style_go_server/internal/pkg/jwt"
	"github.com/qs3c/style_go_server/internal/pkg/oauth"
	"github.com/qs3c/style_go_server/internal/repository"
)

// GithubAuthenticator GitHub OAuth 授权码换取用户资料
type GithubAuthenticator interface {
	Enabled() bool
	GetAuthURL(state string) string
	Authenticate(ctx context.Context, code string) (*oauth.Profile, error)
}

type AuthService struct {
	userRepo *repository.UserRepository
	users    *UserService
	github   GithubAuthenticator
	cfg      *config.Config
}

func NewAuthService(userRepo *repository.UserRepository, users *UserService, github GithubAuthenticator, cfg *config.Config) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		users:    users,
		github:   github,
		cfg:      cfg,
	}
}

// Login 邮箱密码登录
func (s *AuthService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	user, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, storageError("login", err)
	}

	if user.PasswordHash == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

func (s *AuthService) GithubEnabled() bool {
	return s.github != nil && s.github.Enabled()
}

// GetGithubAuthURL 获取 GitHub 授权 URL
func (s *AuthService) GetGithubAuthURL(state string) string {
	return s.github.GetAuthURL(state)
}

// GithubCallback 处理 GitHub OAuth 回调：换取资料、建档、签发令牌
func (s *AuthService) GithubCallback(ctx context.Context, code string) (*dto.LoginResponse, error) {
	profile, err := s.github.Authenticate(ctx, code)
	if err != nil {
		return nil, err
	}

	user, err := s.users.EnsureUser(ctx, &ExternalProfile{
		Provider:  profile.Provider,
		Subject:   profile.Subject,
		Email:     profile.Email,
		Name:      profile.Name,
		AvatarURL: profile.AvatarURL,
	})
	if err != nil {
		return nil, err
	}

	return s.issue(user)
}

func (s *AuthService) issue(user *model.User) (*dto.LoginResponse, error) {
	identity := jwt.Identity{
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	}
	if user.Provider != nil && user.ProviderID != nil {
		identity.Provider = *user.Provider
		identity.ExternalID = *user.ProviderID
	}
	if user.Email != nil {
		identity.Email = *user.Email
	}

	token, err := jwt.GenerateIdentityToken(user.ID, identity, s.cfg.JWT.Secret, s.cfg.JWT.ExpireHours)
	if err != nil {
		return nil, err
	}

	return &dto.LoginResponse{
		Token: token,
		User:  BuildUserInfo(user),
	}, nil
}
