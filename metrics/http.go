package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
)

// 探针与抓取请求不计入 HTTP 指标
var skipPaths = map[string]struct{}{
	"/metrics": {},
	"/healthz": {},
	"/readyz":  {},
}

// HTTPMiddlewareConfig HTTP 指标中间件配置
type HTTPMiddlewareConfig struct {
	// Skipper 返回 true 时不记录；为 nil 时跳过探针与 /metrics
	Skipper func(fiber.Ctx) bool
}

// HTTPMetricsMiddleware 记录请求数与耗时，path 标签使用路由模板（/api/v1/bots/:id）
// 未匹配路由的请求统一记为 "unmatched"，避免标签基数膨胀
func HTTPMetricsMiddleware(cfg *HTTPMiddlewareConfig) fiber.Handler {
	skip := func(c fiber.Ctx) bool {
		_, ok := skipPaths[c.Path()]
		return ok
	}
	if cfg != nil && cfg.Skipper != nil {
		skip = cfg.Skipper
	}

	return func(c fiber.Ctx) error {
		if skip(c) {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		path := "unmatched"
		if route := c.Route(); route != nil && route.Path != "" && route.Path != "/" {
			path = route.Path
		}

		labels := []string{c.Method(), path, strconv.Itoa(status)}
		HTTPRequestTotal.WithLabelValues(labels...).Inc()
		HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		return err
	}
}
