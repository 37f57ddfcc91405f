package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Queue struct {
	client    *redis.Client
	queueName string
}

// JobMessage 待生成最佳搭配图片的任务
type JobMessage struct {
	JobID      string    `json:"job_id"`
	OwnerKind  string    `json:"owner_kind"`
	OwnerRef   string    `json:"owner_ref"`
	Attempt    int       `json:"attempt"`
	Charged    bool      `json:"charged,omitempty"` // 已扣费，重试时不再扣
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func NewQueue(client *redis.Client, queueName string) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
	}
}

// Push 将任务加入队列
func (q *Queue) Push(ctx context.Context, msg *JobMessage) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.client.LPush(ctx, q.queueName, data).Err()
}

// Requeue 失败任务重新入队，attempt 加一
func (q *Queue) Requeue(ctx context.Context, msg *JobMessage) error {
	next := *msg
	next.Attempt++
	next.EnqueuedAt = time.Now()
	return q.Push(ctx, &next)
}

// DeadLetter 超过重试次数的任务放入死信队列
func (q *Queue) DeadLetter(ctx context.Context, msg *JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return q.client.LPush(ctx, q.deadLetterName(), data).Err()
}

// Pop 从队列获取任务（阻塞）
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*JobMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 超时，无任务
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var msg JobMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &msg, nil
}

// Length 获取队列长度
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}

func (q *Queue) DeadLetterLength(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.deadLetterName()).Result()
}

func (q *Queue) deadLetterName() string {
	return q.queueName + ":dead"
}
