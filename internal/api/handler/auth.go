package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/style_go_server/config"
	"github.com/qs3c/style_go_server/internal/api/middleware"
	"github.com/qs3c/style_go_server/internal/model/dto"
	"github.com/qs3c/style_go_server/internal/pkg/oauth"
	"github.com/qs3c/style_go_server/internal/pkg/response"
	"github.com/qs3c/style_go_server/internal/service"
)

type AuthHandler struct {
	authService *service.AuthService
	stateStore  *oauth.StateStore
	cookieName  string
	cookieTTL   int
	secure      bool
}

func NewAuthHandler(authService *service.AuthService, stateStore *oauth.StateStore, cfg *config.Config) *AuthHandler {
	cookieName := cfg.JWT.CookieName
	if cookieName == "" {
		cookieName = middleware.DefaultCookieName
	}
	return &AuthHandler{
		authService: authService,
		stateStore:  stateStore,
		cookieName:  cookieName,
		cookieTTL:   cfg.JWT.ExpireHours * 3600,
		secure:      cfg.Server.Mode == "release",
	}
}

// Login 用户登录
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			response.AuthError(c, err.Error())
		default:
			writeServiceError(c, err, "Login failed")
		}
		return
	}

	h.setSession(c, resp.Token)
	response.Success(c, resp)
}

// GithubAuth 跳转到 GitHub 授权页
// GET /api/auth/github?return_to=/path
func (h *AuthHandler) GithubAuth(c *gin.Context) {
	if !h.authService.GithubEnabled() {
		response.NotFoundError(c, "GitHub login is not enabled")
		return
	}

	state, err := h.stateStore.GenerateState(c.Request.Context(), oauth.StateData{
		Provider: oauth.ProviderGithub,
		ReturnTo: safeReturnTo(c.Query("return_to")),
	})
	if err != nil {
		logrus.WithError(err).Error("generate oauth state failed")
		response.ServerError(c, "", err.Error())
		return
	}

	c.Redirect(http.StatusTemporaryRedirect, h.authService.GetGithubAuthURL(state))
}

// GithubCallback GitHub 回调
// GET /api/auth/github/callback
func (h *AuthHandler) GithubCallback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		response.ParamError(c, "缺少授权码")
		return
	}

	data, err := h.stateStore.ConsumeState(c.Request.Context(), c.Query("state"))
	if err != nil {
		if errors.Is(err, oauth.ErrInvalidState) {
			response.ParamError(c, err.Error())
			return
		}
		response.ServerError(c, "", err.Error())
		return
	}

	resp, err := h.authService.GithubCallback(c.Request.Context(), code)
	if err != nil {
		logrus.WithError(err).Warn("github login failed")
		if errors.Is(err, service.ErrStorageUnavailable) {
			response.StorageError(c, err.Error())
			return
		}
		response.AuthError(c, "GitHub login failed")
		return
	}

	h.setSession(c, resp.Token)
	if data.ReturnTo != "" {
		c.Redirect(http.StatusFound, data.ReturnTo)
		return
	}
	response.Success(c, resp)
}

// Logout 清除会话 cookie
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, "", -1, "/", "", h.secure, true)
	response.Success(c, gin.H{"success": true})
}

func (h *AuthHandler) setSession(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, token, h.cookieTTL, "/", "", h.secure, true)
}

// safeReturnTo 只允许站内相对路径
func safeReturnTo(s string) string {
	if !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") || strings.Contains(s, "\\") {
		return ""
	}
	return s
}
