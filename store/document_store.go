package store

import (
	"context"

	"github.com/aisgo/botrunner/errors"
	"github.com/aisgo/botrunner/repository"

	"gorm.io/gorm"
)

// DocumentStore user_documents 表访问
type DocumentStore struct {
	repo repository.Repository[UserDocument]
}

// NewDocumentStore 创建 DocumentStore
func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{repo: repository.NewRepository[UserDocument](db)}
}

// Save 保存一条文档记录
func (s *DocumentStore) Save(ctx context.Context, doc *UserDocument) error {
	if doc == nil || doc.UserID == 0 {
		return errors.ErrInvalidArgument
	}
	return s.repo.Create(ctx, doc)
}

// ListForUser 按上传时间顺序返回某用户在某机器人下的文档
func (s *DocumentStore) ListForUser(ctx context.Context, botID, userID int64) ([]*UserDocument, error) {
	return s.repo.FindByQueryWithOpts(ctx,
		"bot_id = ? AND user_id = ?",
		[]repository.Option{repository.WithOrderBy("created_at ASC, id ASC")},
		botID, userID,
	)
}

// CountForUser 统计某用户的文档数
func (s *DocumentStore) CountForUser(ctx context.Context, botID, userID int64) (int64, error) {
	return s.repo.Count(ctx, "bot_id = ? AND user_id = ?", botID, userID)
}

// ClearForUser 删除某用户的全部文档，返回删除条数
func (s *DocumentStore) ClearForUser(ctx context.Context, botID, userID int64) (int64, error) {
	return s.repo.DeleteByQuery(ctx, "bot_id = ? AND user_id = ?", botID, userID)
}
