package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/response"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

/* ========================================================================
 * API Key Authentication Middleware
 * ========================================================================
 * 职责: 管理接口鉴权
 * 支持两种方式:
 *   1. X-API-Key Header
 *   2. Authorization Bearer Token
 * 另提供 QuerySecret，用于无法自定义 Header 的回调（SendGrid Inbound Parse）
 * ======================================================================== */

const keyIDLocal = "api_key_id"

// APIKeyConfig API Key 配置
type APIKeyConfig struct {
	Enabled bool              `yaml:"enabled" mapstructure:"enabled"`
	Keys    map[string]string `yaml:"keys" mapstructure:"keys"` // key_id -> api_key
}

// APIKeyAuth API Key 认证中间件
type APIKeyAuth struct {
	config APIKeyConfig
	log    *logger.Logger
}

// NewAPIKeyAuth 创建 API Key 认证中间件
func NewAPIKeyAuth(cfg APIKeyConfig, log *logger.Logger) *APIKeyAuth {
	return &APIKeyAuth{config: cfg, log: log}
}

// Authenticate 返回 Fiber 中间件
func (a *APIKeyAuth) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		if !a.config.Enabled {
			return c.Next()
		}

		apiKey := c.Get("X-API-Key")
		if apiKey == "" {
			if auth := c.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if apiKey == "" {
			a.log.Warn("missing api key", zap.String("ip", c.IP()), zap.String("path", c.Path()))
			return response.Unauthorized(c, "missing api key")
		}

		keyID, ok := matchKey(apiKey, a.config.Keys)
		if !ok {
			a.log.Warn("invalid api key", zap.String("ip", c.IP()), zap.String("path", c.Path()))
			return response.Unauthorized(c, "invalid api key")
		}

		c.Locals(keyIDLocal, keyID)
		return c.Next()
	}
}

// KeyIDFromContext 返回通过认证的 key_id
func KeyIDFromContext(c fiber.Ctx) (string, bool) {
	id, ok := c.Locals(keyIDLocal).(string)
	return id, ok && id != ""
}

// QuerySecret 校验查询参数中的共享密钥
// secret 为空时拒绝所有请求
func QuerySecret(param, secret string, log *logger.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		got := c.Query(param)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			log.Warn("rejected webhook call", zap.String("ip", c.IP()), zap.String("path", c.Path()))
			return response.Unauthorized(c, "invalid secret")
		}
		return c.Next()
	}
}

// matchKey constant-time 比较，防止时序攻击
func matchKey(apiKey string, keys map[string]string) (string, bool) {
	for keyID, stored := range keys {
		if stored == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(stored)) == 1 {
			return keyID, true
		}
	}
	return "", false
}
