package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/aisgo/botrunner/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

/* ========================================================================
 * Redis Client - 缓存 + 分布式锁
 * ========================================================================
 * 职责: 提供 Redis 连接池、有界列表与分布式锁
 * 技术: go-redis/v9
 * ======================================================================== */

// Config Redis 配置
type Config struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"` // 未启用时对话历史使用进程内存，且不做多副本互斥
	Host         string `yaml:"host" mapstructure:"host"`
	Port         int    `yaml:"port" mapstructure:"port"`
	Password     string `yaml:"password" mapstructure:"password"`
	DB           int    `yaml:"db" mapstructure:"db"`
	PoolSize     int    `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
}

// Addr 返回 host:port
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Clienter 对话历史、机器人租约与就绪检查用到的 Redis 能力
type Clienter interface {
	PushTrim(ctx context.Context, key string, limit int64, ttl time.Duration, values ...interface{}) ([]string, error)
	Del(ctx context.Context, keys ...string) error
	NewLock(key string, opts ...LockOption) *Lock
	Ping(ctx context.Context) error
}

// Client Redis 客户端封装
type Client struct {
	rdb *redis.Client
	log *logger.Logger
}

type ClientParams struct {
	fx.In
	Lc     fx.Lifecycle
	Config Config
	Logger *logger.Logger
}

// NewClient 创建 Redis 客户端
func NewClient(p ClientParams) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         p.Config.Addr(),
		Password:     p.Config.Password,
		DB:           p.Config.DB,
		PoolSize:     p.Config.PoolSize,
		MinIdleConns: p.Config.MinIdleConns,
	})

	client := Wrap(rdb, p.Logger)
	if !p.Config.Enabled {
		// 未启用时不建立连接，调用方根据 Enabled 选择内存实现
		return client
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// 测试连接
			if err := rdb.Ping(ctx).Err(); err != nil {
				p.Logger.Error("Redis connection failed", zap.Error(err))
				return err
			}
			p.Logger.Info("Redis connected",
				zap.String("addr", p.Config.Addr()),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Logger.Info("Closing Redis connection")
			return rdb.Close()
		},
	})

	return client
}

// Wrap 基于已有的 go-redis 客户端构造 Client
func Wrap(rdb *redis.Client, log *logger.Logger) *Client {
	return &Client{rdb: rdb, log: log}
}

// Raw 返回底层 Redis 客户端 (限流存储使用)
func (c *Client) Raw() *redis.Client {
	return c.rdb
}

/* ========================================================================
 * List 操作 (对话历史为有界列表)
 * ======================================================================== */

// PushTrim 在一个事务内追加元素、保留最后 limit 个并刷新过期时间，返回裁剪后的列表
// limit <= 0 表示不裁剪，ttl <= 0 表示不设置过期
func (c *Client) PushTrim(ctx context.Context, key string, limit int64, ttl time.Duration, values ...interface{}) ([]string, error) {
	var lrange *redis.StringSliceCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(values) > 0 {
			pipe.RPush(ctx, key, values...)
		}
		if limit > 0 {
			pipe.LTrim(ctx, key, -limit, -1)
		}
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		lrange = pipe.LRange(ctx, key, 0, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lrange.Val(), nil
}

// Del 删除 key
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

/* ========================================================================
 * 健康检查
 * ======================================================================== */

// Ping 健康检查
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
