package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	stateKeyPrefix = "style:oauth:state:"
	stateTTL       = 10 * time.Minute
)

var ErrInvalidState = errors.New("invalid or expired state")

// StateData 登录发起时记录的信息，回调时取回
type StateData struct {
	Provider string `json:"provider"`
	ReturnTo string `json:"return_to"`
}

// StateStore OAuth state 存储，一次性使用
type StateStore struct {
	rdb *redis.Client
}

func NewStateStore(rdb *redis.Client) *StateStore {
	return &StateStore{rdb: rdb}
}

// GenerateState 生成 256 位随机 state 并写入 Redis
func (s *StateStore) GenerateState(ctx context.Context, data StateData) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random state: %w", err)
	}
	state := hex.EncodeToString(buf)

	payload, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, stateKeyPrefix+state, payload, stateTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to store state: %w", err)
	}

	return state, nil
}

// ConsumeState 校验并删除 state，防止重放
func (s *StateStore) ConsumeState(ctx context.Context, state string) (*StateData, error) {
	if state == "" {
		return nil, ErrInvalidState
	}

	raw, err := s.rdb.GetDel(ctx, stateKeyPrefix+state).Result()
	if err == redis.Nil {
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	var data StateData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, ErrInvalidState
	}
	return &data, nil
}
