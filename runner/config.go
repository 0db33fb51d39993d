package runner

import "time"

const (
	DefaultPollInterval       = 30 * time.Second
	DefaultHandleTimeout      = 2 * time.Minute
	DefaultStartConcurrency   = 4
	DefaultPromoHandle        = "@CrabPassBot"
	DefaultPersonality        = "You are a helpful assistant."
	DefaultFallbackEmailLocal = "your-bot"
)

// Config 运行器配置
type Config struct {
	PollInterval     time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`         // 轮询 bots 表的间隔
	LeaseTTL         time.Duration `yaml:"lease_ttl" mapstructure:"lease_ttl"`                 // Redis 租约有效期，需大于 PollInterval
	HandleTimeout    time.Duration `yaml:"handle_timeout" mapstructure:"handle_timeout"`       // 单条更新的处理上限
	StartConcurrency int           `yaml:"start_concurrency" mapstructure:"start_concurrency"` // 启动时并发 getMe 的数量
	PromoHandle      string        `yaml:"promo_handle" mapstructure:"promo_handle"`
	Personality      string        `yaml:"personality" mapstructure:"personality"` // bots.personality 为空时使用
}

// WithDefaults 填充未配置的字段
func (c Config) WithDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LeaseTTL <= c.PollInterval {
		c.LeaseTTL = 3 * c.PollInterval
	}
	if c.HandleTimeout <= 0 {
		c.HandleTimeout = DefaultHandleTimeout
	}
	if c.StartConcurrency <= 0 {
		c.StartConcurrency = DefaultStartConcurrency
	}
	if c.PromoHandle == "" {
		c.PromoHandle = DefaultPromoHandle
	}
	if c.Personality == "" {
		c.Personality = DefaultPersonality
	}
	return c
}
