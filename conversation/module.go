package conversation

import (
	"github.com/aisgo/botrunner/cache/redis"
	"github.com/aisgo/botrunner/logger"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type StoreParams struct {
	fx.In
	Config      Config
	RedisConfig redis.Config
	Redis       redis.Clienter
	Logger      *logger.Logger
}

// NewStore 根据 redis.enabled 选择实现
func NewStore(p StoreParams) (Store, error) {
	if p.RedisConfig.Enabled {
		p.Logger.Info("conversation history backed by redis", zap.String("addr", p.RedisConfig.Addr()))
		return NewRedisStore(p.Redis, p.Config), nil
	}
	p.Logger.Info("conversation history kept in memory")
	return NewMemoryStore(p.Config)
}

// Module 对话历史模块
// 提供: Store
var Module = fx.Module("conversation",
	fx.Provide(NewStore),
)
