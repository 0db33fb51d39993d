package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aisgo/botrunner/errors"
	"github.com/aisgo/botrunner/logger"

	"github.com/go-resty/resty/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

/* ========================================================================
 * Telegram - Bot API 适配
 * ========================================================================
 * 职责: 建立机器人连接 (getMe)、长轮询更新、发送消息、下载文件
 * 技术: go-telegram-bot-api/v5 + go-resty (文件下载 / 共享 HTTP 连接池)
 * ======================================================================== */

const (
	DefaultPollTimeout = 60 * time.Second
	DefaultHTTPTimeout = 90 * time.Second
)

// Config Telegram 配置
type Config struct {
	APIEndpoint  string        `yaml:"api_endpoint" mapstructure:"api_endpoint"`   // 形如 https://api.telegram.org/bot%s/%s
	FileEndpoint string        `yaml:"file_endpoint" mapstructure:"file_endpoint"` // 形如 https://api.telegram.org/file/bot%s/%s
	PollTimeout  time.Duration `yaml:"poll_timeout" mapstructure:"poll_timeout"`   // 长轮询等待时间
	HTTPTimeout  time.Duration `yaml:"http_timeout" mapstructure:"http_timeout"`   // 需大于 PollTimeout
	Debug        bool          `yaml:"debug" mapstructure:"debug"`
}

// WithDefaults 填充未配置的字段
func (c Config) WithDefaults() Config {
	if c.APIEndpoint == "" {
		c.APIEndpoint = tgbotapi.APIEndpoint
	}
	if c.FileEndpoint == "" {
		c.FileEndpoint = tgbotapi.FileEndpoint
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.HTTPTimeout <= c.PollTimeout {
		c.HTTPTimeout = c.PollTimeout + 30*time.Second
	}
	return c
}

// Identity getMe 返回的机器人身份
type Identity struct {
	ID        int64
	Username  string
	FirstName string
}

// Document 用户发送的文件
type Document struct {
	FileID   string
	FileName string
}

// Update 运行时关心的消息字段
type Update struct {
	ID        int
	ChatID    int64
	UserID    int64
	Text      string
	Command   string // 不含 "/"，非命令时为空
	PhotoID   string // 最大尺寸照片的 file_id
	Document  *Document
	FirstName string
}

// Kind 更新类型，用于路由与指标
func (u Update) Kind() string {
	switch {
	case u.Command != "":
		return "command"
	case u.PhotoID != "":
		return "photo"
	case u.Document != nil:
		return "document"
	case u.Text != "":
		return "text"
	default:
		return "other"
	}
}

// Bot 单个机器人连接
type Bot interface {
	Identity() Identity
	// Updates 开始长轮询，ctx 结束或 Stop 后通道关闭
	Updates(ctx context.Context) <-chan Update
	SendText(ctx context.Context, chatID int64, text string, markdown bool) error
	SendTyping(ctx context.Context, chatID int64) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
	Stop()
}

// Dialer 根据 token 建立机器人连接
type Dialer interface {
	Dial(ctx context.Context, token string) (Bot, error)
}

// APIDialer 基于 Bot API 的 Dialer
type APIDialer struct {
	cfg  Config
	http *resty.Client
	log  *logger.Logger
}

// NewDialer 创建 Dialer，所有机器人共享一个 HTTP 连接池
func NewDialer(cfg Config, log *logger.Logger) *APIDialer {
	cfg = cfg.WithDefaults()
	return &APIDialer{
		cfg:  cfg,
		http: resty.New().SetTimeout(cfg.HTTPTimeout),
		log:  log,
	}
}

// Dial 创建连接并调用 getMe 校验 token
func (d *APIDialer) Dial(ctx context.Context, token string) (Bot, error) {
	if token == "" {
		return nil, errors.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, d.cfg.APIEndpoint, d.http.GetClient())
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUpstream, "telegram getMe failed", err)
	}
	api.Debug = d.cfg.Debug

	return &apiBot{
		api:   api,
		token: token,
		cfg:   d.cfg,
		http:  d.http,
		log:   d.log.Logger.With(zap.String("bot", api.Self.UserName)),
	}, nil
}

type apiBot struct {
	api   *tgbotapi.BotAPI
	token string
	cfg   Config
	http  *resty.Client
	log   *zap.Logger

	stopOnce sync.Once
}

func (b *apiBot) Identity() Identity {
	return Identity{
		ID:        b.api.Self.ID,
		Username:  b.api.Self.UserName,
		FirstName: b.api.Self.FirstName,
	}
}

func (b *apiBot) Updates(ctx context.Context) <-chan Update {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(b.cfg.PollTimeout.Seconds())
	src := b.api.GetUpdatesChan(cfg)

	out := make(chan Update)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				b.Stop()
				return
			case raw, ok := <-src:
				if !ok {
					return
				}
				u, ok := convert(raw)
				if !ok {
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					b.Stop()
					return
				}
			}
		}
	}()
	return out
}

func (b *apiBot) SendText(_ context.Context, chatID int64, text string, markdown bool) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	if _, err := b.api.Send(msg); err != nil {
		return errors.Wrap(errors.ErrCodeUpstream, "telegram sendMessage failed", err)
	}
	return nil
}

func (b *apiBot) SendTyping(_ context.Context, chatID int64) error {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return errors.Wrap(errors.ErrCodeUpstream, "telegram sendChatAction failed", err)
	}
	return nil
}

func (b *apiBot) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUpstream, "telegram getFile failed", err)
	}

	url := fmt.Sprintf(b.cfg.FileEndpoint, b.token, file.FilePath)
	resp, err := b.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUpstream, "telegram file download failed", err)
	}
	if resp.IsError() {
		return nil, errors.Wrapf(errors.ErrCodeUpstream, nil, "telegram file download returned status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

func (b *apiBot) Stop() {
	b.stopOnce.Do(func() {
		b.api.StopReceivingUpdates()
		b.log.Debug("stopped receiving updates")
	})
}

// convert 仅保留带消息的更新
func convert(raw tgbotapi.Update) (Update, bool) {
	msg := raw.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return Update{}, false
	}

	u := Update{
		ID:        raw.UpdateID,
		ChatID:    msg.Chat.ID,
		UserID:    msg.From.ID,
		Text:      msg.Text,
		FirstName: msg.From.FirstName,
	}
	if msg.IsCommand() {
		u.Command = strings.ToLower(msg.Command())
	}
	if n := len(msg.Photo); n > 0 {
		u.PhotoID = msg.Photo[n-1].FileID
	}
	if msg.Document != nil {
		u.Document = &Document{FileID: msg.Document.FileID, FileName: msg.Document.FileName}
	}
	return u, true
}
