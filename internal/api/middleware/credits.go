package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/style_go_server/internal/pkg/response"
	"github.com/qs3c/style_go_server/internal/service"
)

// RequireCredits 积分预检中间件，余额不足 cost 时直接返回 402
// 真正的扣费仍在 service 内原子完成，这里只是提前拦截
func RequireCredits(userService *service.UserService, cost int) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			response.AuthError(c, "")
			c.Abort()
			return
		}

		if cost <= 0 {
			c.Next()
			return
		}

		balance, err := userService.GetCreditBalance(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, service.ErrUserNotFound) {
				response.NotFoundError(c, "用户不存在")
			} else {
				response.ServerError(c, "积分检查失败", "")
			}
			c.Abort()
			return
		}

		if balance < cost {
			response.InsufficientCredits(c, "积分不足")
			c.Abort()
			return
		}

		c.Next()
	}
}
