package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/qs3c/style_go_server/config"
	"github.com/qs3c/style_go_server/internal/pkg/metrics"
)

const (
	statusSuccess   = "success"
	fallbackMessage = "analysis request failed"
	maxBodyBytes    = 64 << 20
)

// Envelope 分析服务统一响应 {status, data|error}
type Envelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	JobID     string          `json:"jobId,omitempty"`
	ImageData string          `json:"imageData,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type Client struct {
	baseURL    string
	paths      config.AnalysisPaths
	headers    map[string]string
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
}

func NewClient(cfg config.AnalysisConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	backoff := time.Duration(cfg.BackoffMillis) * time.Millisecond
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		paths:      cfg.Paths,
		headers:    cfg.Headers,
		timeout:    timeout,
		maxRetries: maxRetries,
		backoff:    backoff,
		httpClient: &http.Client{},
	}
}

// FetchWearSuitPictures 获取穿搭推荐图片，原样返回信封中的 data
func (c *Client) FetchWearSuitPictures(ctx context.Context, jobID string) (json.RawMessage, error) {
	env, err := c.postJob(ctx, "wear_suit_pictures", c.paths.WearSuitPictures, jobID)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// FetchBestFitImage 获取最佳搭配图片，返回完整信封
func (c *Client) FetchBestFitImage(ctx context.Context, jobID string) (*Envelope, error) {
	return c.postJob(ctx, "best_fit", c.paths.BestFitImage, jobID)
}

// CheckAvailability 健康检查，不返回错误
func (c *Client) CheckAvailability(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.paths.Health, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logrus.WithError(err).Warn("Analysis service health check failed")
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *Client) postJob(ctx context.Context, endpoint, path, jobID string) (*Envelope, error) {
	if jobID == "" {
		return nil, &ExternalServiceError{Endpoint: endpoint, Message: "job id is required"}
	}

	payload, err := json.Marshal(map[string]string{"jobId": jobID})
	if err != nil {
		return nil, &ExternalServiceError{Endpoint: endpoint, Message: fallbackMessage, Err: err}
	}

	start := time.Now()
	env, err := c.do(ctx, endpoint, http.MethodPost, path, payload)
	metrics.RecordAnalysisCall(endpoint, time.Since(start), err)
	return env, err
}

// do 带重试的请求，指数退避，失败信封和其他 4xx 不重试
func (c *Client) do(ctx context.Context, endpoint, method, path string, payload []byte) (*Envelope, error) {
	var lastErr *ExternalServiceError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.backoff
			logrus.WithFields(logrus.Fields{
				"endpoint": endpoint,
				"attempt":  attempt,
				"backoff":  backoff,
			}).Warn("Retrying analysis request")
			select {
			case <-ctx.Done():
				return nil, &ExternalServiceError{Endpoint: endpoint, Message: "analysis request canceled", Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		env, err := c.attempt(ctx, endpoint, method, path, payload)
		if err == nil {
			return env, nil
		}
		lastErr = err

		if !err.Retryable() || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, endpoint, method, path string, payload []byte) (*Envelope, *ExternalServiceError) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &ExternalServiceError{Endpoint: endpoint, Message: fallbackMessage, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ExternalServiceError{
			Endpoint: endpoint,
			Message:  fmt.Sprintf("analysis service unreachable: %v", err),
			Err:      err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &ExternalServiceError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    "failed to read analysis response",
			Err:        err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := ""
		if gjson.ValidBytes(body) {
			detail = gjson.GetBytes(body, "error").String()
		}
		return nil, statusError(endpoint, resp.StatusCode, detail)
	}

	if !gjson.ValidBytes(body) {
		return nil, &ExternalServiceError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    "invalid response from analysis service",
			Err:        fmt.Errorf("malformed json: %.64q", body),
		}
	}

	env := parseEnvelope(body)
	if env.Status != statusSuccess {
		msg := env.Error
		if msg == "" {
			msg = fallbackMessage
		}
		return nil, &ExternalServiceError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: msg}
	}

	return env, nil
}

// parseEnvelope 非字符串的 error 字段按原始 JSON 保留
func parseEnvelope(body []byte) *Envelope {
	fields := gjson.GetManyBytes(body, "status", "jobId", "imageData", "message", "error", "data")
	env := &Envelope{
		Status:    fields[0].String(),
		JobID:     fields[1].String(),
		ImageData: fields[2].String(),
		Message:   fields[3].String(),
		Error:     fields[4].String(),
	}
	if fields[5].Exists() {
		env.Data = json.RawMessage(fields[5].Raw)
	}
	return env
}
