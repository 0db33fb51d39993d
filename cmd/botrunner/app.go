package main

import (
	"context"

	"github.com/aisgo/botrunner/admin"
	"github.com/aisgo/botrunner/cache"
	"github.com/aisgo/botrunner/cache/redis"
	"github.com/aisgo/botrunner/conf"
	"github.com/aisgo/botrunner/conversation"
	"github.com/aisgo/botrunner/database/postgres"
	"github.com/aisgo/botrunner/llm"
	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/mail"
	"github.com/aisgo/botrunner/middleware"
	"github.com/aisgo/botrunner/runner"
	"github.com/aisgo/botrunner/shutdown"
	"github.com/aisgo/botrunner/store"
	"github.com/aisgo/botrunner/telegram"
	httpserver "github.com/aisgo/botrunner/transport/http"

	"github.com/ulule/limiter/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

/* ========================================================================
 * 应用装配
 * ========================================================================
 * 启动顺序: 配置 -> 日志 -> Postgres/Redis -> 依赖组件 -> HTTP -> Supervisor
 * 关停: shutdown.Manager 按优先级执行，先停 Supervisor 再停 HTTP，最后停 fx 应用
 * ======================================================================== */

func loadConfig(flags *rootFlags) (conf.AppConfig, error) {
	cfg, err := conf.Load(flags.configDir, flags.configName)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func appOptions(cfg conf.AppConfig, log *logger.Logger, extra ...fx.Option) fx.Option {
	return fx.Options(
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: log.Logger}
			l.UseLogLevel(zap.DebugLevel)
			return l
		}),
		fx.Supply(log),
		cfg.Supply(),

		shutdown.Module,
		postgres.Module,
		cache.Module,
		store.Module,
		conversation.Module,
		llm.Module,
		mail.Module,
		telegram.Module,
		runner.Module,

		fx.Provide(
			httpserver.NewHTTPServer,
			provideRateLimiter,
			func(s *runner.Supervisor) httpserver.BotCounter { return s },
		),
		admin.Module,
		fx.Options(extra...),
	)
}

// provideRateLimiter 未启用限流时返回 nil，Redis 启用时多副本共享计数
func provideRateLimiter(cfg middleware.RateLimitConfig, rc redis.Config, client *redis.Client) (*limiter.Limiter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return middleware.NewRateLimiter(cfg, cache.SharedClient(rc, client))
}

func runServe(ctx context.Context, flags *rootFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	log := logger.NewLogger(cfg.Logger)
	defer func() { _ = log.Sync() }()

	var mgr *shutdown.Manager
	app := fx.New(appOptions(cfg, log, fx.Populate(&mgr)))
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	mgr.Register("fx-app", shutdown.PriorityApp, app.Stop)

	log.Info("botrunner started",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Bool("http", cfg.HTTP.IsEnabled()),
		zap.Bool("redis", cfg.Redis.Enabled),
	)
	mgr.Wait(ctx)
	return nil
}
