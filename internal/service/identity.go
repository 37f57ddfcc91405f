package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/style_go_server/internal/model"
	"github.com/qs3c/style_go_server/internal/pkg/jwt"
)

const placeholderPrefix = "temp-"

// IdentityRequest 创建任务时可用的身份线索
type IdentityRequest struct {
	ExplicitUserID string
	Claims         *jwt.Claims
}

// IdentityResolver ok 为 false 表示交给下一个解析器
type IdentityResolver interface {
	ResolveOwner(ctx context.Context, req *IdentityRequest) (owner model.JobOwner, ok bool, err error)
}

// IdentityChain 依次尝试各解析器，出错时记录日志并继续，最终总能给出归属
type IdentityChain struct {
	resolvers []IdentityResolver
}

func NewIdentityChain(resolvers ...IdentityResolver) *IdentityChain {
	return &IdentityChain{resolvers: resolvers}
}

// DefaultIdentityChain 显式 user id → 会话 → 占位令牌
func DefaultIdentityChain(users *UserService) *IdentityChain {
	return NewIdentityChain(
		&ExplicitIDResolver{users: users},
		&SessionResolver{users: users},
		PlaceholderResolver{},
	)
}

func (c *IdentityChain) Resolve(ctx context.Context, req *IdentityRequest) model.JobOwner {
	for _, r := range c.resolvers {
		owner, ok, err := r.ResolveOwner(ctx, req)
		if err != nil {
			logrus.WithError(err).Warn("identity resolver failed, falling back")
			continue
		}
		if ok {
			return owner
		}
	}
	return NewPlaceholderOwner()
}

// ExplicitIDResolver 请求体中的 dbUserId，只有在 users 表中存在时才采用
type ExplicitIDResolver struct {
	users *UserService
}

func (r *ExplicitIDResolver) ResolveOwner(ctx context.Context, req *IdentityRequest) (model.JobOwner, bool, error) {
	raw := strings.TrimSpace(req.ExplicitUserID)
	if raw == "" {
		return model.JobOwner{}, false, nil
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		logrus.WithField("db_user_id", raw).Debug("ignoring malformed dbUserId")
		return model.JobOwner{}, false, nil
	}

	exists, err := r.users.Exists(ctx, id)
	if err != nil {
		return model.JobOwner{}, false, err
	}
	if !exists {
		return model.JobOwner{}, false, nil
	}
	return model.ResolvedOwner(id), true, nil
}

// SessionResolver 会话中的外部身份，必要时自动建档
type SessionResolver struct {
	users *UserService
}

func (r *SessionResolver) ResolveOwner(ctx context.Context, req *IdentityRequest) (model.JobOwner, bool, error) {
	claims := req.Claims
	if claims == nil {
		return model.JobOwner{}, false, nil
	}

	if claims.HasIdentity() {
		user, err := r.users.EnsureUser(ctx, ProfileFromClaims(claims))
		if err != nil {
			return model.JobOwner{}, false, err
		}
		return model.ResolvedOwner(user.ID), true, nil
	}

	if claims.UserID <= 0 {
		return model.JobOwner{}, false, nil
	}
	exists, err := r.users.Exists(ctx, claims.UserID)
	if err != nil {
		return model.JobOwner{}, false, err
	}
	if !exists {
		return model.JobOwner{}, false, nil
	}
	return model.ResolvedOwner(claims.UserID), true, nil
}

// PlaceholderResolver 生成 temp-<uuid> 占位归属
type PlaceholderResolver struct{}

func (PlaceholderResolver) ResolveOwner(context.Context, *IdentityRequest) (model.JobOwner, bool, error) {
	return NewPlaceholderOwner(), true, nil
}

func NewPlaceholderOwner() model.JobOwner {
	return model.PendingOwner(placeholderPrefix + uuid.New().String())
}

// ProfileFromClaims 会话中的外部身份
func ProfileFromClaims(c *jwt.Claims) *ExternalProfile {
	return &ExternalProfile{
		Provider:  c.Provider,
		Subject:   c.ExternalID,
		Email:     c.Email,
		Name:      c.Name,
		AvatarURL: c.AvatarURL,
	}
}
