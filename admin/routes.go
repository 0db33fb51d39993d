package admin

import (
	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/middleware"

	"github.com/gofiber/fiber/v3"
	"github.com/ulule/limiter/v3"
)

// RouteParams 路由依赖
type RouteParams struct {
	App     *fiber.App
	Handler *Handler
	Auth    *middleware.APIKeyAuth
	Limiter *limiter.Limiter
	Inbound InboundConfig
	Logger  *logger.Logger
}

// RegisterRoutes 注册管理接口与入站回调
func RegisterRoutes(p RouteParams) {
	api := p.App.Group("/api/v1", p.Auth.Authenticate(), middleware.RateLimit(p.Limiter))

	api.Get("/bots", p.Handler.ListBots)
	api.Post("/bots", p.Handler.CreateBot)
	api.Get("/bots/:id", p.Handler.GetBot)
	api.Patch("/bots/:id", p.Handler.UpdateBot)
	api.Delete("/bots/:id", p.Handler.DeactivateBot)

	api.Get("/runner/bots", p.Handler.RunningBots)
	api.Post("/runner/reconcile", p.Handler.Reconcile)

	if p.Inbound.Enabled {
		p.App.Post("/inbound/email",
			middleware.QuerySecret(p.Inbound.ParamName(), p.Inbound.Secret, p.Logger),
			p.Handler.InboundEmail,
		)
	}
}
