package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aisgo/botrunner/conversation"
	"github.com/aisgo/botrunner/database"
	"github.com/aisgo/botrunner/llm"
	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/mail"
	"github.com/aisgo/botrunner/metrics"
	"github.com/aisgo/botrunner/store"
	"github.com/aisgo/botrunner/taxdoc"
	"github.com/aisgo/botrunner/telegram"
	"github.com/aisgo/botrunner/utils/id-generator/ulid"

	"go.uber.org/zap"
)

/* ========================================================================
 * Handler - 单个机器人的消息处理
 * ========================================================================
 * 职责: 所有者校验、/start、照片识别、文件保存、文本路由与 LLM 对话
 * 文本路由顺序: 邮箱询问 → show summary → 邮件发送汇总 → 清空文档 → 税务帮助 → 对话
 * ======================================================================== */

const (
	replyPrivate     = "🔒 This is a private assistant.\n\nWant your own? Visit %s!"
	replyAnalyzing   = "📸 Analyzing..."
	replyPhotoFailed = "Had trouble. Try a clearer photo."
	replyFileFailed  = "Had trouble saving that file."
	replySending     = "📧 Sending to %s..."
	replySent        = "✅ Sent!"
	replySendFailed  = "❌ Failed."
	replyCleared     = "🗑️ Cleared!"
	replyChatFailed  = "Hit a snag."

	summarySubject = "Tax Summary"
)

// Documents 文档存储
type Documents interface {
	Save(ctx context.Context, doc *store.UserDocument) error
	ListForUser(ctx context.Context, botID, userID int64) ([]*store.UserDocument, error)
	CountForUser(ctx context.Context, botID, userID int64) (int64, error)
	ClearForUser(ctx context.Context, botID, userID int64) (int64, error)
}

// Deps 处理器依赖，所有机器人共享
type Deps struct {
	Documents Documents
	History   conversation.Store
	Chat      llm.Chatter
	Vision    llm.Extractor
	Mail      mail.Sender
	Log       *logger.Logger
}

// Profile 机器人运行时资料
type Profile struct {
	BotID       int64
	OwnerID     int64 // 0 表示不限制使用者
	FirstName   string
	Username    string
	Email       string
	Personality string
	Model       string
}

// Handler 单个机器人的更新处理器
type Handler struct {
	bot         telegram.Bot
	deps        Deps
	promo       string
	emailDomain string
	personality string // bots.personality 为空时使用

	mu      sync.RWMutex
	profile Profile
}

// NewHandler 创建处理器
func NewHandler(bot telegram.Bot, profile Profile, deps Deps, cfg Config, emailDomain string) *Handler {
	cfg = cfg.WithDefaults()
	if profile.Personality == "" {
		profile.Personality = cfg.Personality
	}
	if emailDomain == "" {
		emailDomain = mail.DefaultDomain
	}
	return &Handler{
		bot:         bot,
		deps:        deps,
		promo:       cfg.PromoHandle,
		emailDomain: emailDomain,
		personality: cfg.Personality,
		profile:     profile,
	}
}

// Profile 当前资料快照
func (h *Handler) Profile() Profile {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.profile
}

// SetProfile 更新人设与模型（管理接口修改后由 Supervisor 同步）
func (h *Handler) SetProfile(personality, model string) {
	if personality == "" {
		personality = h.personality
	}
	h.mu.Lock()
	h.profile.Personality = personality
	h.profile.Model = model
	h.mu.Unlock()
}

// Handle 处理一条更新，错误在内部记录并回复用户
func (h *Handler) Handle(ctx context.Context, u telegram.Update) {
	ctx = logger.ContextWithTraceID(ctx, ulid.GenerateString())
	p := h.Profile()
	kind := u.Kind()
	log := h.deps.Log.WithContext(ctx).With(
		zap.Int64("bot_id", p.BotID),
		zap.Int64("user_id", u.UserID),
		zap.String("kind", kind),
	)

	var route func(context.Context, Profile, telegram.Update) error
	switch kind {
	case "command":
		if u.Command == "start" {
			route = h.handleStart
		}
	case "photo":
		route = h.handlePhoto
	case "document":
		route = h.handleDocument
	case "text":
		route = h.handleText
	}
	if route == nil {
		metrics.UpdatesTotal.WithLabelValues(kind, "ignored").Inc()
		return
	}

	if p.OwnerID != 0 && u.UserID != p.OwnerID {
		if err := h.reply(ctx, u.ChatID, fmt.Sprintf(replyPrivate, h.promo), false); err != nil {
			log.Warn("deny reply failed", zap.Error(err))
		}
		metrics.UpdatesTotal.WithLabelValues(kind, "denied").Inc()
		return
	}

	start := time.Now()
	err := route(ctx, p, u)
	if err != nil {
		log.Error("update handling failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
	} else {
		log.Debug("update handled", zap.Duration("elapsed", time.Since(start)))
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.UpdatesTotal.WithLabelValues(kind, outcome).Inc()
}

/* ========================================================================
 * 命令 / 照片 / 文件
 * ======================================================================== */

func (h *Handler) handleStart(ctx context.Context, p Profile, u telegram.Update) error {
	text := fmt.Sprintf("Hey! I'm %s, your private assistant.\n\n"+
		"📧 My email: **%s**\n"+
		"Forward emails here and I'll notify you!\n\n"+
		"I can also help with taxes - just send photos of your docs.",
		p.FirstName, h.emailOrFallback(p))
	return h.reply(ctx, u.ChatID, text, true)
}

func (h *Handler) handlePhoto(ctx context.Context, p Profile, u telegram.Update) error {
	if err := h.reply(ctx, u.ChatID, replyAnalyzing, false); err != nil {
		return err
	}
	h.typing(ctx, u.ChatID)

	err := h.processPhoto(ctx, p, u)
	if err != nil {
		if rerr := h.reply(ctx, u.ChatID, replyPhotoFailed, false); rerr != nil {
			h.deps.Log.WithContext(ctx).Warn("apology reply failed", zap.Error(rerr))
		}
	}
	return err
}

func (h *Handler) processPhoto(ctx context.Context, p Profile, u telegram.Update) error {
	image, err := h.bot.DownloadFile(ctx, u.PhotoID)
	if err != nil {
		return err
	}

	ex := h.deps.Vision.Extract(ctx, image)
	doc := &store.UserDocument{
		BotID:         p.BotID,
		UserID:        u.UserID,
		DocType:       ex.StoredType(),
		ExtractedData: ex.Raw,
		FileID:        u.PhotoID,
	}
	count, err := h.saveAndCount(ctx, p, u, doc)
	if err != nil {
		return err
	}
	return h.reply(ctx, u.ChatID, photoReply(ex, count), true)
}

func photoReply(ex taxdoc.Extraction, count int64) string {
	var b strings.Builder
	b.WriteString("📄 **" + ex.Heading() + "**")
	if ex.PayerName != "" {
		b.WriteString(" from " + ex.PayerName)
	}
	b.WriteString("\n\n")
	for _, a := range ex.PositiveAmounts() {
		b.WriteString("• " + a.Label() + ": " + taxdoc.Money(a.Value) + "\n")
	}
	fmt.Fprintf(&b, "\n✅ %d doc(s) collected.", count)
	return b.String()
}

func (h *Handler) handleDocument(ctx context.Context, p Profile, u telegram.Update) error {
	name := u.Document.FileName
	if name == "" {
		name = "file"
	}
	doc := &store.UserDocument{
		BotID:         p.BotID,
		UserID:        u.UserID,
		DocType:       taxdoc.DocTypePDF,
		ExtractedData: database.JSONB{"file_name": name},
		FileID:        u.Document.FileID,
		FileName:      name,
	}

	count, err := h.saveAndCount(ctx, p, u, doc)
	if err != nil {
		if rerr := h.reply(ctx, u.ChatID, replyFileFailed, false); rerr != nil {
			h.deps.Log.WithContext(ctx).Warn("apology reply failed", zap.Error(rerr))
		}
		return err
	}
	return h.reply(ctx, u.ChatID, fmt.Sprintf("📎 Saved %s! (%d total)", name, count), false)
}

func (h *Handler) saveAndCount(ctx context.Context, p Profile, u telegram.Update, doc *store.UserDocument) (int64, error) {
	if err := h.deps.Documents.Save(ctx, doc); err != nil {
		return 0, err
	}
	metrics.DocumentsSavedTotal.WithLabelValues(doc.DocType).Inc()
	return h.deps.Documents.CountForUser(ctx, p.BotID, u.UserID)
}

/* ========================================================================
 * 文本路由
 * ======================================================================== */

func (h *Handler) handleText(ctx context.Context, p Profile, u telegram.Update) error {
	lower := strings.ToLower(strings.TrimSpace(u.Text))

	if taxdoc.IsEmailQuestion(u.Text) {
		text := fmt.Sprintf("📧 **Your email address:** `%s`\n\n"+
			"Anyone can send emails to this address and I'll forward them to you here!",
			h.emailOrFallback(p))
		return h.reply(ctx, u.ChatID, text, true)
	}

	if strings.Contains(lower, "show summary") {
		summary, err := h.summary(ctx, p, u.UserID)
		if err != nil {
			_ = h.reply(ctx, u.ChatID, replyChatFailed, false)
			return err
		}
		return h.reply(ctx, u.ChatID, "```\n"+summary+"\n```", true)
	}

	if strings.Contains(lower, "email") && strings.Contains(lower, "@") && !strings.Contains(lower, "my email") {
		if addr, ok := taxdoc.FindEmail(lower); ok {
			return h.emailSummary(ctx, p, u, addr)
		}
	}

	if strings.Contains(lower, "clear") && strings.Contains(lower, "document") {
		if _, err := h.deps.Documents.ClearForUser(ctx, p.BotID, u.UserID); err != nil {
			_ = h.reply(ctx, u.ChatID, replyChatFailed, false)
			return err
		}
		return h.reply(ctx, u.ChatID, replyCleared, false)
	}

	if taxdoc.IsTaxHelpRequest(u.Text) {
		return h.reply(ctx, u.ChatID, taxdoc.TaxHelpPrompt, true)
	}

	return h.chat(ctx, p, u)
}

func (h *Handler) emailSummary(ctx context.Context, p Profile, u telegram.Update, addr string) error {
	summary, err := h.summary(ctx, p, u.UserID)
	if err != nil {
		_ = h.reply(ctx, u.ChatID, replySendFailed, false)
		return err
	}
	if err := h.reply(ctx, u.ChatID, fmt.Sprintf(replySending, addr), false); err != nil {
		return err
	}
	if err := h.deps.Mail.Send(ctx, addr, summarySubject, summary); err != nil {
		_ = h.reply(ctx, u.ChatID, replySendFailed, false)
		return err
	}
	return h.reply(ctx, u.ChatID, replySent, false)
}

func (h *Handler) summary(ctx context.Context, p Profile, userID int64) (string, error) {
	docs, err := h.deps.Documents.ListForUser(ctx, p.BotID, userID)
	if err != nil {
		return "", err
	}
	extractions := make([]taxdoc.Extraction, 0, len(docs))
	for _, d := range docs {
		extractions = append(extractions, taxdoc.FromData(d.ExtractedData))
	}
	return taxdoc.Summary(extractions), nil
}

func (h *Handler) chat(ctx context.Context, p Profile, u telegram.Update) error {
	key := conversation.Key(p.BotID, u.UserID)
	history, err := h.deps.History.Append(ctx, key, conversation.Message{Role: conversation.RoleUser, Content: u.Text})
	if err != nil {
		_ = h.reply(ctx, u.ChatID, replyChatFailed, false)
		return err
	}

	system := p.Personality
	if p.Email != "" {
		system += fmt.Sprintf("\n\nYour email address is %s. Users can receive emails at this address.", p.Email)
	}

	h.typing(ctx, u.ChatID)
	answer, err := h.deps.Chat.Chat(ctx, p.Model, system, history)
	if err != nil {
		_ = h.reply(ctx, u.ChatID, replyChatFailed, false)
		return err
	}

	if _, err := h.deps.History.Append(ctx, key, conversation.Message{Role: conversation.RoleAssistant, Content: answer}); err != nil {
		h.deps.Log.WithContext(ctx).Warn("store assistant reply failed", zap.Error(err))
	}
	return h.reply(ctx, u.ChatID, answer, false)
}

/* ========================================================================
 * 发送辅助
 * ======================================================================== */

// reply 发送消息；Markdown 被 Telegram 拒绝时以纯文本重发
func (h *Handler) reply(ctx context.Context, chatID int64, text string, markdown bool) error {
	err := h.bot.SendText(ctx, chatID, text, markdown)
	if err != nil && markdown {
		h.deps.Log.WithContext(ctx).Debug("markdown rejected, resending as plain text", zap.Error(err))
		err = h.bot.SendText(ctx, chatID, text, false)
	}
	return err
}

func (h *Handler) typing(ctx context.Context, chatID int64) {
	if err := h.bot.SendTyping(ctx, chatID); err != nil {
		h.deps.Log.WithContext(ctx).Debug("typing action failed", zap.Error(err))
	}
}

func (h *Handler) emailOrFallback(p Profile) string {
	if p.Email != "" {
		return p.Email
	}
	return DefaultFallbackEmailLocal + "@" + h.emailDomain
}
