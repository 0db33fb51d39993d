package runner

import (
	"context"

	"github.com/aisgo/botrunner/cache/redis"
	"github.com/aisgo/botrunner/conversation"
	"github.com/aisgo/botrunner/llm"
	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/mail"
	"github.com/aisgo/botrunner/shutdown"
	"github.com/aisgo/botrunner/store"
	"github.com/aisgo/botrunner/telegram"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type SupervisorParams struct {
	fx.In

	Config      Config
	MailConfig  mail.Config
	RedisConfig redis.Config
	Redis       redis.Clienter
	Bots        *store.BotStore
	Documents   *store.DocumentStore
	History     conversation.Store
	Chat        llm.Chatter
	Vision      llm.Extractor
	Mail        mail.Sender
	Dialer      telegram.Dialer
	Logger      *logger.Logger
}

// ProvideSupervisor 组装 Supervisor，redis.enabled 时使用 Redis 租约
func ProvideSupervisor(p SupervisorParams) *Supervisor {
	cfg := p.Config.WithDefaults()

	var leaser Leaser = LocalLeaser{}
	if p.RedisConfig.Enabled {
		leaser = NewRedisLeaser(p.Redis, cfg.LeaseTTL)
		p.Logger.Info("bot leases backed by redis", zap.Duration("ttl", cfg.LeaseTTL))
	}

	deps := Deps{
		Documents: p.Documents,
		History:   p.History,
		Chat:      p.Chat,
		Vision:    p.Vision,
		Mail:      p.Mail,
		Log:       p.Logger,
	}
	return NewSupervisor(cfg, p.Bots, p.Dialer, leaser, deps, p.MailConfig.WithDefaults().Domain, p.Logger)
}

func registerLifecycle(lc fx.Lifecycle, s *Supervisor, m *shutdown.Manager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
	// 收到信号后先于其他组件停止轮询
	m.Register("bot-runner", shutdown.PriorityRunner, s.Stop)
}

// Module 运行器模块
// 提供: *Supervisor
var Module = fx.Module("runner",
	fx.Provide(ProvideSupervisor),
	fx.Invoke(registerLifecycle),
)
