package middleware

import (
	"time"

	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/utils/id-generator/ulid"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// HeaderRequestID 请求 ID 头
const HeaderRequestID = "X-Request-ID"

// RequestLogger 为每个请求分配 trace_id 并记录访问日志
// 客户端携带 X-Request-ID 时沿用
func RequestLogger(log *logger.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		id := c.Get(HeaderRequestID)
		if id == "" {
			id = ulid.GenerateString()
		}
		c.Set(HeaderRequestID, id)
		c.SetContext(logger.ContextWithTraceID(c.Context(), id))

		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
		}
		l := log.WithContext(c.Context())
		if status >= fiber.StatusInternalServerError {
			l.Warn("http request", fields...)
		} else {
			l.Debug("http request", fields...)
		}
		return err
	}
}
