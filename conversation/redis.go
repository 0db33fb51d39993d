package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aisgo/botrunner/cache/redis"
	"github.com/aisgo/botrunner/errors"
)

const keyPrefix = "conv:"

// RedisStore 基于 Redis 列表的对话历史，多副本共享
type RedisStore struct {
	client redis.Clienter
	limit  int64
	ttl    time.Duration
}

// NewRedisStore 创建 Redis 实现
func NewRedisStore(client redis.Clienter, cfg Config) *RedisStore {
	cfg = cfg.withDefaults()
	return &RedisStore{client: client, limit: int64(cfg.Limit), ttl: cfg.TTL}
}

func (s *RedisStore) Append(ctx context.Context, key string, msg Message) ([]Message, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "encode message", err)
	}

	raw, err := s.client.PushTrim(ctx, keyPrefix+key, s.limit, s.ttl, string(payload))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "append conversation", err)
	}

	history := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			// 跳过无法解析的历史条目
			continue
		}
		history = append(history, m)
	}
	return history, nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "clear conversation", err)
	}
	return nil
}
