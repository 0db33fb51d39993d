package repository

import (
	"context"

	"github.com/aisgo/botrunner/errors"

	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NormalizePage 校正页码与页大小
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// FindPageWithOpts 分页查询，query 为空时不加条件
func (r *RepositoryImpl[T]) FindPageWithOpts(ctx context.Context, page, pageSize int, query string, opts []Option, args ...any) (*PageResult[T], error) {
	page, pageSize = NormalizePage(page, pageSize)

	db := r.scoped(ctx, opts)
	if query != "" {
		db = db.Where(query, args...)
	}

	// Count 与 Find 使用独立 Session，避免互相污染
	var total int64
	if err := db.Session(&gorm.Session{}).Model(r.model()).Count(&total).Error; err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to count records", err)
	}

	var list []T
	if err := db.Session(&gorm.Session{}).Offset((page - 1) * pageSize).Limit(pageSize).Find(&list).Error; err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to find records", err)
	}

	return &PageResult[T]{
		List:     list,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Pages:    (total + int64(pageSize) - 1) / int64(pageSize),
	}, nil
}
