package llm

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aisgo/botrunner/conversation"
	"github.com/aisgo/botrunner/errors"
	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/metrics"
	"github.com/aisgo/botrunner/taxdoc"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sethvargo/go-retry"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

/* ========================================================================
 * LLM Client - 对话与视觉识别
 * ========================================================================
 * 职责: 通过 Groq (OpenAI 兼容) 完成对话；识别税务文档图片，失败时回退 OpenAI
 * 技术: langchaingo + go-retry + mimetype
 * ======================================================================== */

const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"

	opChat    = "chat"
	opExtract = "extract"

	// 机器人 model 列的默认别名
	modelAlias = "llama"
)

// openai 兼容接口的非 200 错误形如 "API returned unexpected status code: 401: ..."
var statusCodePattern = regexp.MustCompile(`status code: (\d{3})`)

const visionPrompt = `Analyze this tax document. Return JSON:
{"doc_type": "W-2/1099-INT/1099-DIV/1099-MISC/1098/receipt/other",
 "payer_name": "name", "tax_year": "year",
 "amounts": {"wages": 0, "federal_withheld": 0, "state_withheld": 0, "interest_income": 0, "dividend_income": 0},
 "summary": "brief description"}`

// Chatter 对话能力
type Chatter interface {
	Chat(ctx context.Context, model, system string, history []conversation.Message) (string, error)
}

// Extractor 文档识别能力
type Extractor interface {
	Extract(ctx context.Context, image []byte) taxdoc.Extraction
}

// Client LLM 客户端
type Client struct {
	cfg      Config
	groq     llms.Model
	fallback llms.Model // 未配置 OpenAI key 时为 nil
	aliases  map[string]string
	log      *logger.Logger
}

// New 根据配置创建 Groq / OpenAI 客户端
func New(cfg Config, log *logger.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()
	if cfg.GroqAPIKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidArgument, "llm: groq api key is required")
	}

	groq, err := openai.New(
		openai.WithModel(cfg.ChatModel),
		openai.WithBaseURL(cfg.GroqBaseURL),
		openai.WithToken(cfg.GroqAPIKey),
	)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "create groq client", err)
	}

	var fallback llms.Model
	if cfg.OpenAIAPIKey != "" {
		fallback, err = openai.New(
			openai.WithModel(cfg.FallbackVisionModel),
			openai.WithBaseURL(cfg.OpenAIBaseURL),
			openai.WithToken(cfg.OpenAIAPIKey),
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, "create openai client", err)
		}
	}

	return NewWithModels(cfg, groq, fallback, log), nil
}

// NewWithModels 使用给定模型实现创建客户端
func NewWithModels(cfg Config, groq, fallback llms.Model, log *logger.Logger) *Client {
	cfg = cfg.WithDefaults()
	return &Client{
		cfg:      cfg,
		groq:     groq,
		fallback: fallback,
		aliases:  buildAliases(cfg),
		log:      log,
	}
}

func buildAliases(cfg Config) map[string]string {
	aliases := map[string]string{
		"":         cfg.ChatModel,
		modelAlias: cfg.ChatModel,
	}
	for k, v := range cfg.ModelAliases {
		if v = strings.TrimSpace(v); v != "" {
			aliases[strings.ToLower(strings.TrimSpace(k))] = v
		}
	}
	return aliases
}

// ResolveModel 将机器人配置的模型名映射为 Groq 模型 ID
// 不在别名表中的值一律使用默认对话模型
func (c *Client) ResolveModel(model string) string {
	if id, ok := c.aliases[strings.ToLower(strings.TrimSpace(model))]; ok {
		return id
	}
	c.log.Debug("unknown bot model, using default", zap.String("model", model), zap.String("default", c.cfg.ChatModel))
	return c.cfg.ChatModel
}

// Chat 以 system 提示词 + 历史消息发起对话
func (c *Client) Chat(ctx context.Context, model, system string, history []conversation.Message) (string, error) {
	messages := make([]llms.MessageContent, 0, len(history)+1)
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	for _, m := range history {
		role := llms.ChatMessageTypeHuman
		if m.Role == conversation.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, m.Content))
	}

	text, err := c.generate(ctx, ProviderGroq, opChat, c.groq, messages,
		llms.WithModel(c.ResolveModel(model)),
		llms.WithMaxTokens(c.cfg.MaxTokens),
	)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeUpstream, "chat completion failed", err)
	}
	return text, nil
}

// Extract 识别税务文档图片
// Groq 失败且配置了 OpenAI 时回退，否则返回带 error 的 unknown 结果
func (c *Client) Extract(ctx context.Context, image []byte) taxdoc.Extraction {
	messages := []llms.MessageContent{{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.ImageURLPart(dataURL(image)),
			llms.TextPart(visionPrompt),
		},
	}}

	text, err := c.generate(ctx, ProviderGroq, opExtract, c.groq, messages,
		llms.WithModel(c.cfg.VisionModel),
		llms.WithMaxTokens(c.cfg.MaxTokens),
	)
	if err != nil {
		if c.fallback == nil {
			c.log.WithContext(ctx).Warn("vision extraction failed", zap.Error(err))
			return taxdoc.Failed(err)
		}
		c.log.WithContext(ctx).Warn("groq vision failed, falling back to openai", zap.Error(err))
		text, err = c.generate(ctx, ProviderOpenAI, opExtract, c.fallback, messages,
			llms.WithModel(c.cfg.FallbackVisionModel),
			llms.WithMaxTokens(c.cfg.MaxTokens),
		)
		if err != nil {
			c.log.WithContext(ctx).Warn("fallback vision failed", zap.Error(err))
			return taxdoc.Failed(err)
		}
	}
	return taxdoc.Parse(text)
}

// generate 单次调用带超时，失败按指数退避重试
func (c *Client) generate(ctx context.Context, provider, op string, model llms.Model, messages []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	if model == nil {
		return "", errors.New(errors.ErrCodeUnavailable, provider+" client not configured")
	}

	start := time.Now()
	backoff := retry.WithMaxRetries(uint64(c.cfg.RetryAttempts), retry.NewExponential(c.cfg.RetryBackoff))

	var text string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := model.GenerateContent(callCtx, messages, opts...)
		if err != nil {
			if ctx.Err() != nil || !retryable(err) {
				return err
			}
			return retry.RetryableError(err)
		}
		if resp == nil || len(resp.Choices) == 0 {
			return errors.New(errors.ErrCodeUpstream, provider+" returned no choices")
		}
		text = resp.Choices[0].Content
		return nil
	})

	metrics.LLMRequestTotal.WithLabelValues(provider, op, metrics.Status(err)).Inc()
	metrics.LLMRequestDuration.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
	return text, err
}

// retryable 仅对传输层错误、429 与 5xx 重试
func retryable(err error) bool {
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	m := statusCodePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return true
	}
	code, _ := strconv.Atoi(m[1])
	return code == 429 || code >= 500
}

// dataURL 将图片编码为 data URL，无法识别类型时按 jpeg 处理
func dataURL(image []byte) string {
	mime := "image/jpeg"
	if detected := mimetype.Detect(image); strings.HasPrefix(detected.String(), "image/") {
		mime = detected.String()
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
}
