package conf

import (
	"os"
	"time"

	"github.com/aisgo/botrunner/admin"
	"github.com/aisgo/botrunner/cache/redis"
	"github.com/aisgo/botrunner/conversation"
	"github.com/aisgo/botrunner/database/postgres"
	"github.com/aisgo/botrunner/errors"
	"github.com/aisgo/botrunner/llm"
	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/mail"
	"github.com/aisgo/botrunner/middleware"
	"github.com/aisgo/botrunner/runner"
	"github.com/aisgo/botrunner/shutdown"
	"github.com/aisgo/botrunner/telegram"
	httpserver "github.com/aisgo/botrunner/transport/http"

	"go.uber.org/fx"
)

/* ========================================================================
 * AppConfig - 应用配置
 * ========================================================================
 * 职责: 汇总各组件配置，提供默认值、加载、校验与 fx 注入
 * 优先级: Default() < 配置文件 (含 ${VAR} 展开) < APP_* 环境变量
 * 兼容: 未通过配置文件设置时读取 DATABASE_URL / GROQ_API_KEY /
 *       SENDGRID_API_KEY / OPENAI_API_KEY
 * ======================================================================== */

// AppConfig 应用配置
type AppConfig struct {
	Logger       logger.Config              `yaml:"logger" mapstructure:"logger"`
	Postgres     postgres.Config            `yaml:"postgres" mapstructure:"postgres"`
	Redis        redis.Config               `yaml:"redis" mapstructure:"redis"`
	HTTP         httpserver.Config          `yaml:"http" mapstructure:"http"`
	Shutdown     shutdown.Config            `yaml:"shutdown" mapstructure:"shutdown"`
	LLM          llm.Config                 `yaml:"llm" mapstructure:"llm"`
	Mail         mail.Config                `yaml:"mail" mapstructure:"mail"`
	Runner       runner.Config              `yaml:"runner" mapstructure:"runner"`
	Conversation conversation.Config        `yaml:"conversation" mapstructure:"conversation"`
	Telegram     telegram.Config            `yaml:"telegram" mapstructure:"telegram"`
	APIKey       middleware.APIKeyConfig    `yaml:"api_key" mapstructure:"api_key"`
	RateLimit    middleware.RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Inbound      admin.InboundConfig        `yaml:"inbound" mapstructure:"inbound"`
}

// Default 默认配置
func Default() AppConfig {
	return AppConfig{
		Logger: logger.Config{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Postgres: postgres.Config{
			Port:        5432,
			SSLMode:     "disable",
			AutoMigrate: true,
		},
		Redis: redis.Config{
			Host: "localhost",
			Port: 6379,
		},
		HTTP: httpserver.Config{
			Port:    8080,
			AppName: "botrunner",
		},
		Shutdown: shutdown.DefaultConfig(),
		LLM: llm.Config{
			GroqBaseURL:         llm.DefaultGroqBaseURL,
			ChatModel:           llm.DefaultChatModel,
			VisionModel:         llm.DefaultVisionModel,
			FallbackVisionModel: llm.DefaultFallbackVisionModel,
			MaxTokens:           llm.DefaultMaxTokens,
			Timeout:             llm.DefaultTimeout,
			RetryAttempts:       llm.DefaultRetryAttempts,
			RetryBackoff:        llm.DefaultRetryBackoff,
		},
		Mail: mail.Config{
			BaseURL:   mail.DefaultBaseURL,
			FromEmail: mail.DefaultFromEmail,
			FromName:  mail.DefaultFromName,
			Domain:    mail.DefaultDomain,
			Timeout:   mail.DefaultTimeout,
		},
		Runner: runner.Config{
			PollInterval:     runner.DefaultPollInterval,
			HandleTimeout:    runner.DefaultHandleTimeout,
			StartConcurrency: runner.DefaultStartConcurrency,
			PromoHandle:      runner.DefaultPromoHandle,
			Personality:      runner.DefaultPersonality,
		},
		Conversation: conversation.Config{
			Limit:            conversation.DefaultLimit,
			MaxConversations: conversation.DefaultMaxConversations,
			TTL:              conversation.DefaultTTL,
		},
		Telegram: telegram.Config{
			PollTimeout: 60 * time.Second,
		},
		RateLimit: middleware.RateLimitConfig{
			Limit:  middleware.DefaultRateLimit,
			Period: middleware.DefaultRatePeriod,
		},
	}
}

// Load 从 dir/name.yaml 与环境变量加载配置
// 配置文件不存在时只使用默认值与环境变量
func Load(dir, name string) (AppConfig, error) {
	cfg := Default()
	if err := decode(dir, name, "yaml", &cfg); err != nil {
		return cfg, errors.Wrap(errors.ErrCodeInvalidArgument, "load config", err)
	}
	cfg.applyEnvFallbacks()
	return cfg, nil
}

func (c *AppConfig) applyEnvFallbacks() {
	fallback := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fallback(&c.Postgres.URL, "DATABASE_URL")
	fallback(&c.LLM.GroqAPIKey, "GROQ_API_KEY")
	fallback(&c.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	fallback(&c.Mail.SendGridAPIKey, "SENDGRID_API_KEY")
}

// Validate 校验启动必需的配置
func (c AppConfig) Validate() error {
	if err := logger.ValidateConfig(c.Logger); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidArgument, "logger", err)
	}
	if c.LLM.GroqAPIKey == "" {
		return errors.New(errors.ErrCodeInvalidArgument, "llm.groq_api_key (GROQ_API_KEY) is required")
	}
	if c.Postgres.URL == "" && c.Postgres.Host == "" {
		return errors.New(errors.ErrCodeInvalidArgument, "postgres.url (DATABASE_URL) or postgres.host is required")
	}
	if c.Runner.PollInterval <= 0 {
		return errors.New(errors.ErrCodeInvalidArgument, "runner.poll_interval must be positive")
	}
	if c.Conversation.Limit < 2 {
		return errors.New(errors.ErrCodeInvalidArgument, "conversation.limit must be at least 2")
	}
	if c.Inbound.Enabled && c.Inbound.Secret == "" {
		return errors.New(errors.ErrCodeInvalidArgument, "inbound.secret is required when inbound is enabled")
	}
	return nil
}

// Supply 向 fx 容器注入各组件配置
func (c AppConfig) Supply() fx.Option {
	return fx.Supply(
		c.Logger,
		c.Postgres,
		c.Redis,
		c.HTTP,
		c.Shutdown,
		c.LLM,
		c.Mail,
		c.Runner,
		c.Conversation,
		c.Telegram,
		c.APIKey,
		c.RateLimit,
		c.Inbound,
	)
}
