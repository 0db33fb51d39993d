package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aisgo/botrunner/response"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
)

/* ========================================================================
 * Rate Limit Middleware
 * ========================================================================
 * 职责: 管理接口限流
 * 存储: 启用 Redis 时多副本共享计数，否则进程内计数
 * Key: 已认证时使用 key_id，否则使用客户端 IP
 * ======================================================================== */

const (
	DefaultRateLimit  = 120
	DefaultRatePeriod = time.Minute

	rateLimitPrefix = "ratelimit:admin"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Limit   int64         `yaml:"limit" mapstructure:"limit"`
	Period  time.Duration `yaml:"period" mapstructure:"period"`
}

// NewRateLimiter 创建限流器，client 为 nil 时使用内存存储
func NewRateLimiter(cfg RateLimitConfig, client *redis.Client) (*limiter.Limiter, error) {
	rate := limiter.Rate{Limit: cfg.Limit, Period: cfg.Period}
	if rate.Limit <= 0 {
		rate.Limit = DefaultRateLimit
	}
	if rate.Period <= 0 {
		rate.Period = DefaultRatePeriod
	}

	opts := limiter.StoreOptions{Prefix: rateLimitPrefix, CleanUpInterval: limiter.DefaultCleanUpInterval}
	if client == nil {
		return limiter.New(memory.NewStoreWithOptions(opts), rate), nil
	}
	store, err := redisstore.NewStoreWithOptions(client, opts)
	if err != nil {
		return nil, err
	}
	return limiter.New(store, rate), nil
}

// RateLimit 返回限流中间件，lim 为 nil 时直接放行
func RateLimit(lim *limiter.Limiter) fiber.Handler {
	return func(c fiber.Ctx) error {
		if lim == nil {
			return c.Next()
		}

		key := "ip:" + c.IP()
		if id, ok := KeyIDFromContext(c); ok {
			key = "key:" + id
		}

		ctx, err := lim.Get(c.Context(), key)
		if err != nil {
			return response.ErrorWithCode(c, fiber.StatusInternalServerError, fmt.Errorf("rate limit check failed: %w", err))
		}

		c.Set("X-RateLimit-Limit", strconv.FormatInt(ctx.Limit, 10))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(ctx.Remaining, 10))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(ctx.Reset, 10))

		if ctx.Reached {
			return response.ErrorWithCode(c, fiber.StatusTooManyRequests, fmt.Errorf("too many requests"))
		}
		return c.Next()
	}
}
