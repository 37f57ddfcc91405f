package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 错误码定义
const (
	CodeBadRequest          = "bad_request"
	CodeUnauthorized        = "unauthorized"
	CodeNotFound            = "not_found"
	CodeInsufficientCredits = "insufficient_credits"
	CodeInvalidAmount       = "invalid_amount"
	CodeRateLimited         = "rate_limited"
	CodeServiceUnavailable  = "service_unavailable"
	CodeStorageUnavailable  = "storage_unavailable"
	CodeServerError         = "server_error"
)

// 错误码对应的默认消息
var codeMessages = map[string]string{
	CodeBadRequest:          "Invalid request",
	CodeUnauthorized:        "Unauthorized",
	CodeNotFound:            "Not found",
	CodeInsufficientCredits: "Insufficient credits",
	CodeInvalidAmount:       "Invalid amount",
	CodeRateLimited:         "Too many requests",
	CodeServiceUnavailable:  "Analysis service unavailable",
	CodeStorageUnavailable:  "Storage unavailable",
	CodeServerError:         "Internal server error",
}

// ErrorBody 统一错误响应结构
type ErrorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Success 成功响应，body 即 data
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created 201 响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// Accepted 202，请求已受理但结果尚未就绪
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, data)
}

// Error 错误响应
func Error(c *gin.Context, status int, code, message, details string) {
	if message == "" {
		message = codeMessages[code]
	}
	c.JSON(status, ErrorBody{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// Abort 错误响应并终止后续 handler，用于中间件
func Abort(c *gin.Context, status int, code, message string) {
	Error(c, status, code, message, "")
	c.Abort()
}

// ParamError 参数错误
func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeBadRequest, message, "")
}

// AuthError 认证失败
func AuthError(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, CodeUnauthorized, message, "")
}

// NotFoundError 资源不存在
func NotFoundError(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, CodeNotFound, message, "")
}

// InsufficientCredits 积分不足
func InsufficientCredits(c *gin.Context, message string) {
	Error(c, http.StatusPaymentRequired, CodeInsufficientCredits, message, "")
}

// ServiceUnavailable 外部分析服务失败
func ServiceUnavailable(c *gin.Context, details string) {
	Error(c, http.StatusBadGateway, CodeServiceUnavailable, "", details)
}

// StorageError 存储不可用
func StorageError(c *gin.Context, details string) {
	Error(c, http.StatusInternalServerError, CodeStorageUnavailable, "", details)
}

// ServerError 服务器错误
func ServerError(c *gin.Context, message, details string) {
	Error(c, http.StatusInternalServerError, CodeServerError, message, details)
}
