package middleware

import (
	"errors"

	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/response"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// NewErrorHandler 统一的 Fiber ErrorHandler
// fiber.Error (路由不存在、方法不允许、请求体过大) 保留其状态码，其余按 BizError 映射
func NewErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		if err == nil {
			return nil
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return response.ErrorWithCode(c, fe.Code, fe)
		}

		if log != nil {
			log.WithContext(c.Context()).Error("unhandled error",
				zap.Error(err),
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
			)
		}
		return response.Error(c, err)
	}
}
