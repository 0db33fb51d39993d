package repository

import (
	"context"

	"github.com/aisgo/botrunner/errors"

	"gorm.io/gorm"
)

func (r *RepositoryImpl[T]) scoped(ctx context.Context, opts []Option) *gorm.DB {
	db := r.conn(ctx)
	if len(opts) == 0 {
		return db
	}
	o := applyOptions(opts)
	if o.OrderBy != "" {
		db = db.Order(o.OrderBy)
	}
	return db
}

// FindByID 按主键查询，不存在时返回 NotFound
func (r *RepositoryImpl[T]) FindByID(ctx context.Context, id int64, opts ...Option) (*T, error) {
	model := r.model()
	if err := r.scoped(ctx, opts).First(model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(errors.ErrCodeNotFound, "record not found")
		}
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to find record", err)
	}
	return model, nil
}

// FindByQueryWithOpts 条件查询多条
func (r *RepositoryImpl[T]) FindByQueryWithOpts(ctx context.Context, query string, opts []Option, args ...any) ([]*T, error) {
	var models []*T
	if err := r.scoped(ctx, opts).Where(query, args...).Find(&models).Error; err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to find records", err)
	}
	return models, nil
}

// Count 条件计数
func (r *RepositoryImpl[T]) Count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := r.conn(ctx).Model(r.model()).Where(query, args...).Count(&n).Error; err != nil {
		return 0, errors.Wrap(errors.ErrCodeInternal, "failed to count records", err)
	}
	return n, nil
}

// Exists 条件是否命中
func (r *RepositoryImpl[T]) Exists(ctx context.Context, query string, args ...any) (bool, error) {
	n, err := r.Count(ctx, query, args...)
	return n > 0, err
}
