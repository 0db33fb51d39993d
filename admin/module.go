package admin

import (
	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/middleware"
	"github.com/aisgo/botrunner/runner"
	"github.com/aisgo/botrunner/store"

	"github.com/gofiber/fiber/v3"
	"github.com/ulule/limiter/v3"
	"go.uber.org/fx"
)

type moduleParams struct {
	fx.In

	App        *fiber.App
	Bots       *store.BotStore
	Supervisor *runner.Supervisor
	APIKey     middleware.APIKeyConfig
	Inbound    InboundConfig
	Limiter    *limiter.Limiter `optional:"true"`
	Logger     *logger.Logger
}

func register(p moduleParams) {
	RegisterRoutes(RouteParams{
		App:     p.App,
		Handler: NewHandler(p.Bots, p.Supervisor, p.Logger),
		Auth:    middleware.NewAPIKeyAuth(p.APIKey, p.Logger),
		Limiter: p.Limiter,
		Inbound: p.Inbound,
		Logger:  p.Logger,
	})
}

// Module 管理接口模块
var Module = fx.Module("admin",
	fx.Invoke(register),
)
