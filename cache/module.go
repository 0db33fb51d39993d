package cache

import (
	"github.com/aisgo/botrunner/cache/redis"
	httpserver "github.com/aisgo/botrunner/transport/http"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

/* ========================================================================
 * Cache Module
 * ========================================================================
 * 职责: 装配 Redis 客户端，供对话历史、租约与限流共享
 * 未启用 Redis 时客户端不建立连接，也不加入 /readyz 检查
 * ======================================================================== */

// Module 缓存模块
// 提供: *redis.Client, redis.Clienter, readiness 检查组
var Module = fx.Module("cache",
	fx.Provide(
		redis.NewClient,
		func(c *redis.Client) redis.Clienter { return c },
		fx.Annotate(readinessChecks, fx.ResultTags(`group:"readiness,flatten"`)),
	),
)

func readinessChecks(cfg redis.Config, client redis.Clienter) []httpserver.Check {
	if !cfg.Enabled {
		return nil
	}
	return []httpserver.Check{{Name: "redis", Ping: client}}
}

// SharedClient 返回跨副本共享计数用的底层连接，未启用 Redis 时为 nil
func SharedClient(cfg redis.Config, client *redis.Client) *goredis.Client {
	if !cfg.Enabled || client == nil {
		return nil
	}
	return client.Raw()
}
