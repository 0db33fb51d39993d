package store

import (
	"context"

	"github.com/aisgo/botrunner/errors"
	"github.com/aisgo/botrunner/repository"

	"gorm.io/gorm"
)

// 允许通过管理接口修改的列
var botUpdatableColumns = []string{"bot_name", "model", "personality", "is_active"}

// BotStore bots 表访问
type BotStore struct {
	repo repository.Repository[Bot]
}

// NewBotStore 创建 BotStore
func NewBotStore(db *gorm.DB) *BotStore {
	return &BotStore{repo: repository.NewRepository[Bot](db)}
}

// ListActive 返回需要由本进程托管的机器人
// 已经作为独立服务部署的机器人（railway_service_id 非空）被排除
func (s *BotStore) ListActive(ctx context.Context) ([]*Bot, error) {
	return s.repo.FindByQueryWithOpts(ctx,
		"is_active = ? AND (railway_service_id IS NULL OR railway_service_id = '')",
		[]repository.Option{repository.WithOrderBy("id ASC")},
		true,
	)
}

// Create 注册新机器人，token 重复时返回 AlreadyExists
func (s *BotStore) Create(ctx context.Context, bot *Bot) error {
	if bot == nil || bot.BotToken == "" || bot.UserID == 0 {
		return errors.ErrInvalidArgument
	}
	exists, err := s.repo.Exists(ctx, "bot_token = ?", bot.BotToken)
	if err != nil {
		return err
	}
	if exists {
		return errors.New(errors.ErrCodeAlreadyExists, "bot token already registered")
	}
	if bot.Model == "" {
		bot.Model = DefaultModel
	}
	return s.repo.Create(ctx, bot)
}

// Get 按 ID 查询
func (s *BotStore) Get(ctx context.Context, id int64) (*Bot, error) {
	return s.repo.FindByID(ctx, id)
}

// List 分页列出全部机器人
func (s *BotStore) List(ctx context.Context, page, pageSize int) (*repository.PageResult[Bot], error) {
	return s.repo.FindPageWithOpts(ctx, page, pageSize, "", []repository.Option{repository.WithOrderBy("id ASC")})
}

// Update 更新可修改字段（bot_name / model / personality / is_active）
func (s *BotStore) Update(ctx context.Context, id int64, updates map[string]any) error {
	return s.repo.UpdateByID(ctx, id, updates, botUpdatableColumns...)
}

// SetActive 启用或停用机器人
func (s *BotStore) SetActive(ctx context.Context, id int64, active bool) error {
	return s.repo.UpdateByID(ctx, id, map[string]any{"is_active": active}, "is_active")
}

// SetUsername 记录 getMe 返回的用户名
func (s *BotStore) SetUsername(ctx context.Context, id int64, username string) error {
	if username == "" {
		return nil
	}
	err := s.repo.UpdateByID(ctx, id, map[string]any{"bot_username": username}, "bot_username")
	// 用户名未变化时部分驱动返回 0 行影响
	if errors.IsNotFound(err) {
		return nil
	}
	return err
}
