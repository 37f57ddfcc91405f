package handler

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/style_go_server/internal/api/middleware"
	"github.com/qs3c/style_go_server/internal/model"
	"github.com/qs3c/style_go_server/internal/model/dto"
	"github.com/qs3c/style_go_server/internal/pkg/response"
	"github.com/qs3c/style_go_server/internal/service"
)

const maxAvatarBytes = 5 * 1024 * 1024

type UserHandler struct {
	userService *service.UserService
}

func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// Add 直接创建用户
// POST /api/users/add
func (h *UserHandler) Add(c *gin.Context) {
	var req dto.AddUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	user, err := h.userService.AddUser(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrEmailRequired) {
			response.ParamError(c, err.Error())
			return
		}
		logrus.WithError(err).Error("add user failed")
		response.ServerError(c, "Failed to create user", err.Error())
		return
	}

	response.Created(c, gin.H{"user": service.BuildUserInfo(user)})
}

// Credits 当前用户积分余额
// GET /api/user/credits
func (h *UserHandler) Credits(c *gin.Context) {
	user, ok := sessionUser(c, h.userService)
	if !ok {
		return
	}

	response.Success(c, dto.CreditsResponse{
		Credits: user.Credits,
		UserID:  strconv.FormatInt(user.ID, 10),
	})
}

// Sync 用会话中的外部身份同步用户资料
// POST /api/users/sync
func (h *UserHandler) Sync(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	if !claims.HasIdentity() {
		response.ParamError(c, "Session has no external identity")
		return
	}

	user, err := h.userService.Sync(c.Request.Context(), service.ProfileFromClaims(claims))
	if err != nil {
		writeServiceError(c, err, "Failed to sync user")
		return
	}

	response.Success(c, dto.SyncResponse{
		Success: true,
		UserID:  user.ID,
		Message: "User synced",
	})
}

// GetProfile 获取当前用户信息
// GET /api/user/profile
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, ok := sessionUser(c, h.userService)
	if !ok {
		return
	}
	response.Success(c, service.BuildUserInfo(user))
}

// UploadAvatar 上传头像
// POST /api/user/avatar
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.ParamError(c, "请选择文件")
		return
	}

	if file.Size > maxAvatarBytes {
		response.ParamError(c, "文件大小不能超过5MB")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.ServerError(c, "文件读取失败", err.Error())
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		response.ServerError(c, "文件读取失败", err.Error())
		return
	}

	avatarURL, err := h.userService.UploadAvatar(c.Request.Context(), userID, data)
	if err != nil {
		writeServiceError(c, err, "上传失败")
		return
	}

	response.Success(c, gin.H{"avatar_url": avatarURL})
}

// sessionUser 会话带外部身份时按身份查找（不存在则创建），否则按用户 ID 查找
func sessionUser(c *gin.Context, users *service.UserService) (*model.User, bool) {
	ctx := c.Request.Context()

	if claims, ok := middleware.GetClaims(c); ok && claims.HasIdentity() {
		user, err := users.EnsureUser(ctx, service.ProfileFromClaims(claims))
		if err != nil {
			writeServiceError(c, err, "Failed to sync user")
			return nil, false
		}
		return user, true
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return nil, false
	}

	user, err := users.GetByID(ctx, userID)
	if err != nil {
		writeServiceError(c, err, "Failed to get user")
		return nil, false
	}
	return user, true
}
