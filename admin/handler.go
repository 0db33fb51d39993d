package admin

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/aisgo/botrunner/errors"
	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/mail"
	"github.com/aisgo/botrunner/repository"
	"github.com/aisgo/botrunner/response"
	"github.com/aisgo/botrunner/runner"
	"github.com/aisgo/botrunner/store"
	"github.com/aisgo/botrunner/validator"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

/* ========================================================================
 * Admin API - 运维接口
 * ========================================================================
 * 职责: bots 表的增改查、运行状态查看、手动触发对齐、SendGrid 入站回调
 * 说明: 修改 bots 后由 Supervisor 在下一次对齐时生效，/runner/reconcile 可立即触发
 * ======================================================================== */

// Bots bots 表访问
type Bots interface {
	Create(ctx context.Context, bot *store.Bot) error
	Get(ctx context.Context, id int64) (*store.Bot, error)
	List(ctx context.Context, page, pageSize int) (*repository.PageResult[store.Bot], error)
	Update(ctx context.Context, id int64, updates map[string]any) error
	SetActive(ctx context.Context, id int64, active bool) error
}

// Runner 机器人托管器
type Runner interface {
	Running() []runner.BotStatus
	Reconcile(ctx context.Context)
	DeliverEmail(ctx context.Context, email mail.InboundEmail) (int, error)
}

// Handler 管理接口处理器
type Handler struct {
	bots     Bots
	runner   Runner
	validate *validator.Validator
	log      *logger.Logger
}

// NewHandler 创建处理器
func NewHandler(bots Bots, r Runner, log *logger.Logger) *Handler {
	return &Handler{bots: bots, runner: r, validate: validator.New(), log: log}
}

// botView 对外展示的机器人，token 脱敏
type botView struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	Token            string    `json:"token"`
	BotUsername      string    `json:"bot_username"`
	BotName          string    `json:"bot_name"`
	Model            string    `json:"model"`
	Personality      string    `json:"personality"`
	IsActive         bool      `json:"is_active"`
	RailwayServiceID string    `json:"railway_service_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func toView(b *store.Bot) botView {
	return botView{
		ID:               b.ID,
		UserID:           b.UserID,
		Token:            b.MaskedToken(),
		BotUsername:      b.BotUsername,
		BotName:          b.BotName,
		Model:            b.Model,
		Personality:      b.Personality,
		IsActive:         b.IsActive,
		RailwayServiceID: b.RailwayServiceID,
		CreatedAt:        b.CreatedAt,
	}
}

type createBotRequest struct {
	UserID      int64  `json:"user_id" validate:"required,gt=0" error_msg:"required:user_id is required|gt:user_id must be a telegram user id"`
	BotToken    string `json:"bot_token" validate:"required,contains=:" error_msg:"required:bot_token is required|contains:bot_token must look like <id>:<secret>"`
	BotName     string `json:"bot_name" validate:"max=64"`
	Model       string `json:"model" validate:"omitempty,max=64"`
	Personality string `json:"personality" validate:"max=4000"`
}

type updateBotRequest struct {
	BotName     *string `json:"bot_name" validate:"omitempty,max=64"`
	Model       *string `json:"model" validate:"omitempty,min=1,max=64"`
	Personality *string `json:"personality" validate:"omitempty,max=4000"`
	IsActive    *bool   `json:"is_active"`
}

func (r updateBotRequest) updates() map[string]any {
	out := make(map[string]any, 4)
	if r.BotName != nil {
		out["bot_name"] = *r.BotName
	}
	if r.Model != nil {
		out["model"] = *r.Model
	}
	if r.Personality != nil {
		out["personality"] = *r.Personality
	}
	if r.IsActive != nil {
		out["is_active"] = *r.IsActive
	}
	return out
}

// ListBots GET /api/v1/bots?page=&page_size=
func (h *Handler) ListBots(c fiber.Ctx) error {
	page := fiber.Query[int](c, "page", 1)
	size := fiber.Query[int](c, "page_size", repository.DefaultPageSize)
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = repository.DefaultPageSize
	}
	if size > repository.MaxPageSize {
		size = repository.MaxPageSize
	}

	result, err := h.bots.List(c.Context(), page, size)
	if err != nil {
		return err
	}
	views := make([]botView, 0, len(result.List))
	for i := range result.List {
		views = append(views, toView(&result.List[i]))
	}
	return response.PageData(c, views, result.Total, result.Page, result.PageSize)
}

// CreateBot POST /api/v1/bots
func (h *Handler) CreateBot(c fiber.Ctx) error {
	var req createBotRequest
	if err := h.bind(c, &req); err != nil {
		return h.badRequest(c, err)
	}

	bot := &store.Bot{
		UserID:      req.UserID,
		BotToken:    strings.TrimSpace(req.BotToken),
		BotName:     req.BotName,
		Model:       req.Model,
		Personality: req.Personality,
		IsActive:    true,
	}
	if err := h.bots.Create(c.Context(), bot); err != nil {
		return err
	}
	h.log.WithContext(c.Context()).Info("bot registered", zap.Int64("bot_id", bot.ID), zap.Int64("owner_id", bot.UserID))
	return response.Created(c, toView(bot))
}

// GetBot GET /api/v1/bots/:id
func (h *Handler) GetBot(c fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	bot, err := h.bots.Get(c.Context(), id)
	if err != nil {
		return err
	}
	return response.OkWithData(c, toView(bot))
}

// UpdateBot PATCH /api/v1/bots/:id
func (h *Handler) UpdateBot(c fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req updateBotRequest
	if err := h.bind(c, &req); err != nil {
		return h.badRequest(c, err)
	}
	updates := req.updates()
	if len(updates) == 0 {
		return response.BadRequest(c, "no updatable fields")
	}

	if err := h.bots.Update(c.Context(), id, updates); err != nil {
		return err
	}
	bot, err := h.bots.Get(c.Context(), id)
	if err != nil {
		return err
	}
	return response.OkWithData(c, toView(bot))
}

// DeactivateBot DELETE /api/v1/bots/:id
// 只停用不删除，已保存的文档保留
func (h *Handler) DeactivateBot(c fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.bots.SetActive(c.Context(), id, false); err != nil {
		return err
	}
	h.log.WithContext(c.Context()).Info("bot deactivated", zap.Int64("bot_id", id))
	return response.Ok(c)
}

// RunningBots GET /api/v1/runner/bots
func (h *Handler) RunningBots(c fiber.Ctx) error {
	return response.OkWithData(c, h.runner.Running())
}

// Reconcile POST /api/v1/runner/reconcile
func (h *Handler) Reconcile(c fiber.Ctx) error {
	h.runner.Reconcile(c.Context())
	return response.OkWithData(c, h.runner.Running())
}

// InboundEmail POST /inbound/email?key=
// SendGrid Inbound Parse 以 multipart 表单回调；无人接收时仍返回 200，避免 SendGrid 重试
func (h *Handler) InboundEmail(c fiber.Ctx) error {
	email := mail.ParseInbound(func(key string) string { return c.FormValue(key) })
	delivered, err := h.runner.DeliverEmail(c.Context(), email)
	if err != nil {
		if errors.Code(err) == errors.ErrCodeInvalidArgument {
			return response.BadRequest(c, "missing recipients")
		}
		return err
	}
	return response.OkWithData(c, fiber.Map{"delivered": delivered})
}

func (h *Handler) bind(c fiber.Ctx, out any) error {
	if err := c.Bind().JSON(out); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidArgument, "invalid json body", err)
	}
	return h.validate.Validate(out)
}

func (h *Handler) badRequest(c fiber.Ctx, err error) error {
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		return response.Invalid(c, verr.Errors)
	}
	return response.Error(c, err)
}

func pathID(c fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New(errors.ErrCodeInvalidArgument, "invalid bot id")
	}
	return id, nil
}
