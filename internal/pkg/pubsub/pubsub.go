package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelJobProgress = "style_job_progress"
)

// ProgressMessage 任务进度消息，UserID 为 0 表示占位归属，不推送
type ProgressMessage struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Step     string `json:"step"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// 进度阶段常量
const (
	StepQueued   = "queued"
	StepFetching = "fetching"
	StepSaving   = "saving"
	StepDone     = "done"
	StepFailed   = "failed"
)

// 阶段对应的进度百分比
var StepProgress = map[string]int{
	StepQueued:   10,
	StepFetching: 40,
	StepSaving:   80,
	StepDone:     100,
	StepFailed:   100,
}

// 阶段对应的消息
var StepMessages = map[string]string{
	StepQueued:   "Waiting in queue",
	StepFetching: "Generating best-fit outfit",
	StepSaving:   "Saving result",
	StepDone:     "Best-fit outfit ready",
	StepFailed:   "Generation failed",
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishProgress 发布进度消息，进度和消息按阶段自动填充
func (p *Publisher) PublishProgress(ctx context.Context, msg *ProgressMessage) error {
	msg.Type = "job_progress"

	if msg.Progress == 0 && msg.Step != "" {
		if progress, ok := StepProgress[msg.Step]; ok {
			msg.Progress = progress
		}
	}
	if msg.Message == "" && msg.Step != "" {
		if message, ok := StepMessages[msg.Step]; ok {
			msg.Message = message
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelJobProgress, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度消息，阻塞直到 ctx 结束
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ProgressMessage)) error {
	ps := s.client.Subscribe(ctx, ChannelJobProgress)
	defer ps.Close()

	// 等待订阅确认，保证之后发布的消息不会丢
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}

	ch := ps.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&progressMsg)
		}
	}
}
