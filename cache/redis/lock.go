package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

/* ========================================================================
 * 分布式锁 / 租约 - 基于 Redis SET NX + Lua 校验
 * ========================================================================
 * 职责: 保证同一资源同一时刻只有一个持有者
 * 使用场景: 多副本部署时，同一个 bot token 只允许一个副本长轮询
 * 续期: 由持有者周期性调用 Extend，续期失败即视为租约丢失
 * ======================================================================== */

var (
	ErrLockFailed   = errors.New("failed to acquire lock")
	ErrUnlockFailed = errors.New("failed to release lock")
)

// 仅当 value 匹配时删除
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// 仅当 value 匹配时延长过期时间
var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Lock 分布式锁
type Lock struct {
	client *Client
	key    string
	value  string // 唯一标识，防止误删
	ttl    time.Duration
	opt    LockOption
	mu     sync.Mutex
}

// LockOption 锁选项
type LockOption struct {
	TTL        time.Duration // 锁过期时间
	RetryTimes int           // 获取锁的尝试次数
	RetryDelay time.Duration // 重试间隔
}

// DefaultLockOption 默认锁选项
func DefaultLockOption() LockOption {
	return LockOption{
		TTL:        30 * time.Second,
		RetryTimes: 5,
		RetryDelay: 100 * time.Millisecond,
	}
}

// NewLock 创建分布式锁
func (c *Client) NewLock(key string, opts ...LockOption) *Lock {
	opt := DefaultLockOption()
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.RetryTimes <= 0 {
		opt.RetryTimes = 1
	}

	return &Lock{
		client: c,
		key:    "lock:" + key,
		ttl:    opt.TTL,
		opt:    opt,
	}
}

// Key 返回锁在 Redis 中的 key
func (l *Lock) Key() string {
	return l.key
}

// Acquire 获取锁
func (l *Lock) Acquire(ctx context.Context) error {
	value := uuid.New().String()
	for i := 0; i < l.opt.RetryTimes; i++ {
		ok, err := l.client.rdb.SetNX(ctx, l.key, value, l.ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			l.mu.Lock()
			l.value = value
			l.mu.Unlock()
			return nil
		}

		if i == l.opt.RetryTimes-1 {
			break
		}
		// 等待重试
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.opt.RetryDelay):
		}
	}

	return ErrLockFailed
}

// Release 释放锁
// 使用 Lua 脚本保证原子性：只有持有锁的人才能释放
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	value := l.value
	l.mu.Unlock()

	result, err := releaseScript.Run(ctx, l.client.rdb, []string{l.key}, value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrUnlockFailed
	}
	return nil
}

// Extend 延长锁时间，ttl <= 0 时使用创建时的 TTL
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = l.ttl
	}
	l.mu.Lock()
	value := l.value
	l.mu.Unlock()

	result, err := extendScript.Run(ctx, l.client.rdb, []string{l.key}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockFailed
	}
	return nil
}
