package repository

import (
	"context"
	"sync"

	"github.com/aisgo/botrunner/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// RepositoryImpl gorm 仓储实现
type RepositoryImpl[T any] struct {
	db *gorm.DB

	schemaOnce sync.Once
	schema     *schema.Schema
	schemaErr  error
}

// NewRepository 创建仓储
func NewRepository[T any](db *gorm.DB) Repository[T] {
	return &RepositoryImpl[T]{db: db}
}

func (r *RepositoryImpl[T]) model() *T {
	return new(T)
}

// conn 返回绑定 ctx 的 DB，ctx 中有事务时使用事务
func (r *RepositoryImpl[T]) conn(ctx context.Context) *gorm.DB {
	return getDBFromContext(ctx, r.db)
}

func (r *RepositoryImpl[T]) parsedSchema() (*schema.Schema, error) {
	r.schemaOnce.Do(func() {
		stmt := &gorm.Statement{DB: r.db}
		if r.schemaErr = stmt.Parse(r.model()); r.schemaErr == nil {
			r.schema = stmt.Schema
		}
	})
	return r.schema, r.schemaErr
}

// Create 插入一条记录，自增 ID 回填到 model
func (r *RepositoryImpl[T]) Create(ctx context.Context, model *T) error {
	if model == nil {
		return errors.ErrInvalidArgument
	}
	if err := r.conn(ctx).Create(model).Error; err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "failed to create record", err)
	}
	return nil
}

// UpdateByID 只更新白名单内、可更新的非主键列
// 过滤后没有可写列时返回 ErrInvalidArgument，未命中行时返回 NotFound
func (r *RepositoryImpl[T]) UpdateByID(ctx context.Context, id int64, updates map[string]any, allowedFields ...string) error {
	columns, err := r.writableColumns(updates, allowedFields)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return errors.ErrInvalidArgument
	}

	result := r.conn(ctx).Model(r.model()).Where("id = ?", id).Updates(columns)
	if result.Error != nil {
		return errors.Wrap(errors.ErrCodeInternal, "failed to update record", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.New(errors.ErrCodeNotFound, "record not found")
	}
	return nil
}

// writableColumns 将字段名或列名映射为列名，丢弃白名单外、主键和只读列
func (r *RepositoryImpl[T]) writableColumns(updates map[string]any, allowed []string) (map[string]any, error) {
	s, err := r.parsedSchema()
	if err != nil {
		return nil, err
	}

	allowedSet := make(map[string]struct{}, len(allowed))
	for _, f := range allowed {
		allowedSet[f] = struct{}{}
	}

	out := make(map[string]any, len(updates))
	for k, v := range updates {
		if len(allowedSet) > 0 {
			if _, ok := allowedSet[k]; !ok {
				continue
			}
		}
		field, ok := s.FieldsByDBName[k]
		if !ok {
			field, ok = s.FieldsByName[k]
		}
		if ok && !field.PrimaryKey && field.Updatable {
			out[field.DBName] = v
		}
	}
	return out, nil
}

// DeleteByQuery 按条件删除，空条件直接拒绝
func (r *RepositoryImpl[T]) DeleteByQuery(ctx context.Context, query string, args ...any) (int64, error) {
	if query == "" {
		return 0, errors.ErrInvalidArgument
	}
	result := r.conn(ctx).Where(query, args...).Delete(r.model())
	if result.Error != nil {
		return 0, errors.Wrap(errors.ErrCodeInternal, "failed to delete records", result.Error)
	}
	return result.RowsAffected, nil
}
