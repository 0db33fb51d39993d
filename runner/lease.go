package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/aisgo/botrunner/cache/redis"
	"github.com/aisgo/botrunner/errors"
)

// ErrLeaseHeld 机器人已被其他副本托管
var ErrLeaseHeld = errors.New(errors.ErrCodeAlreadyExists, "bot lease held by another runner")

// Lease 单个机器人的托管租约
type Lease interface {
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}

// Leaser 获取机器人租约
type Leaser interface {
	Acquire(ctx context.Context, botID int64) (Lease, error)
}

// LocalLeaser 单副本部署使用，总是成功
type LocalLeaser struct{}

func (LocalLeaser) Acquire(context.Context, int64) (Lease, error) { return localLease{}, nil }

type localLease struct{}

func (localLease) Extend(context.Context) error  { return nil }
func (localLease) Release(context.Context) error { return nil }

// RedisLeaser 基于 Redis 分布式锁的租约，key 为 lock:bot:{id}
type RedisLeaser struct {
	client redis.Clienter
	ttl    time.Duration
}

// NewRedisLeaser 创建 Redis 租约
func NewRedisLeaser(client redis.Clienter, ttl time.Duration) *RedisLeaser {
	return &RedisLeaser{client: client, ttl: ttl}
}

func (l *RedisLeaser) Acquire(ctx context.Context, botID int64) (Lease, error) {
	lock := l.client.NewLock(fmt.Sprintf("bot:%d", botID), redis.LockOption{TTL: l.ttl, RetryTimes: 1})
	if err := lock.Acquire(ctx); err != nil {
		if errors.Is(err, redis.ErrLockFailed) {
			return nil, ErrLeaseHeld
		}
		return nil, errors.Wrap(errors.ErrCodeUnavailable, "acquire bot lease", err)
	}
	return &redisLease{lock: lock}, nil
}

type redisLease struct {
	lock *redis.Lock
}

func (l *redisLease) Extend(ctx context.Context) error {
	return l.lock.Extend(ctx, 0)
}

func (l *redisLease) Release(ctx context.Context) error {
	return l.lock.Release(ctx)
}
