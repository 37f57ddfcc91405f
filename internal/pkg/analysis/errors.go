package analysis

import "fmt"

// ExternalServiceError 远程分析服务调用失败：非 2xx、失败信封、响应无法解析或网络错误
type ExternalServiceError struct {
	Endpoint   string
	StatusCode int // 0 表示未拿到 HTTP 响应
	Message    string
	Err        error
}

func (e *ExternalServiceError) Error() string {
	return e.Message
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// Retryable 网络错误、429 和 5xx 可以重试
func (e *ExternalServiceError) Retryable() bool {
	if e.StatusCode == 0 {
		return e.Err != nil
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func statusError(endpoint string, code int, detail string) *ExternalServiceError {
	msg := fmt.Sprintf("analysis service returned status %d", code)
	if detail != "" {
		msg += ": " + detail
	}
	return &ExternalServiceError{Endpoint: endpoint, StatusCode: code, Message: msg}
}
