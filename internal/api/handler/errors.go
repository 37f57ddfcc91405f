package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/style_go_server/internal/pkg/response"
	"github.com/qs3c/style_go_server/internal/service"
)

// writeServiceError 按错误类型写出状态码，fallback 为未归类错误使用的消息
func writeServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case service.IsExternalFailure(err):
		response.ServiceUnavailable(c, err.Error())
	case errors.Is(err, service.ErrLoginRequired):
		response.AuthError(c, "")
	case errors.Is(err, service.ErrUserNotFound):
		response.NotFoundError(c, "User not found")
	case errors.Is(err, service.ErrJobNotFound):
		response.NotFoundError(c, "Job not found")
	case errors.Is(err, service.ErrInsufficientCredits):
		response.InsufficientCredits(c, "")
	case errors.Is(err, service.ErrInvalidAmount):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidAmount, "", err.Error())
	case errors.Is(err, service.ErrStorageUnavailable):
		logrus.WithError(err).WithField("path", c.FullPath()).Error("storage unavailable")
		response.StorageError(c, err.Error())
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error(fallback)
		response.ServerError(c, fallback, err.Error())
	}
}
