package llm

import "time"

const (
	DefaultGroqBaseURL         = "https://api.groq.com/openai/v1"
	DefaultOpenAIBaseURL       = "https://api.openai.com/v1"
	DefaultChatModel           = "llama-3.3-70b-versatile"
	DefaultVisionModel         = "llama-3.2-90b-vision-preview"
	DefaultFallbackVisionModel = "gpt-4o-mini"
	DefaultMaxTokens           = 1024
	DefaultTimeout             = 30 * time.Second
	DefaultRetryAttempts       = 2
	DefaultRetryBackoff        = 500 * time.Millisecond
)

// Config LLM 配置
// Groq 走 OpenAI 兼容协议；OpenAI key 仅用于视觉识别的兜底
type Config struct {
	GroqAPIKey          string        `yaml:"groq_api_key" mapstructure:"groq_api_key"`
	GroqBaseURL         string        `yaml:"groq_base_url" mapstructure:"groq_base_url"`
	ChatModel           string        `yaml:"chat_model" mapstructure:"chat_model"`
	VisionModel         string        `yaml:"vision_model" mapstructure:"vision_model"`
	OpenAIAPIKey        string        `yaml:"openai_api_key" mapstructure:"openai_api_key"`
	OpenAIBaseURL       string        `yaml:"openai_base_url" mapstructure:"openai_base_url"`
	FallbackVisionModel string        `yaml:"fallback_vision_model" mapstructure:"fallback_vision_model"`
	MaxTokens           int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout             time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RetryAttempts       int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoff        time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`

	// ModelAliases 机器人 model 列到 Groq 模型 ID 的额外映射，键不区分大小写
	ModelAliases map[string]string `yaml:"model_aliases" mapstructure:"model_aliases"`
}

// WithDefaults 填充未配置的字段
func (c Config) WithDefaults() Config {
	if c.GroqBaseURL == "" {
		c.GroqBaseURL = DefaultGroqBaseURL
	}
	if c.OpenAIBaseURL == "" {
		c.OpenAIBaseURL = DefaultOpenAIBaseURL
	}
	if c.ChatModel == "" {
		c.ChatModel = DefaultChatModel
	}
	if c.VisionModel == "" {
		c.VisionModel = DefaultVisionModel
	}
	if c.FallbackVisionModel == "" {
		c.FallbackVisionModel = DefaultFallbackVisionModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	return c
}
