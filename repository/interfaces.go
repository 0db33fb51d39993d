package repository

import "context"

/* ========================================================================
 * Repository - 泛型仓储
 * ========================================================================
 * 职责: bots / user_documents 共用的 gorm 访问层
 * 约定: 主键为 int64 的 id 列；错误统一转换为 BizError
 * ======================================================================== */

// QueryOption 查询选项
type QueryOption struct {
	OrderBy string
}

// Option 查询选项函数
type Option func(*QueryOption)

// WithOrderBy 设置排序，如 "created_at ASC, id ASC"
func WithOrderBy(orderBy string) Option {
	return func(o *QueryOption) { o.OrderBy = orderBy }
}

func applyOptions(opts []Option) *QueryOption {
	o := &QueryOption{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PageResult 分页结果
type PageResult[T any] struct {
	List     []T   `json:"list"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Pages    int64 `json:"pages"`
}

// Repository 通用仓储接口
type Repository[T any] interface {
	Create(ctx context.Context, model *T) error
	// UpdateByID 按 ID 更新字段，allowedFields 为列名白名单
	UpdateByID(ctx context.Context, id int64, updates map[string]any, allowedFields ...string) error
	// DeleteByQuery 按条件物理删除，返回删除行数
	DeleteByQuery(ctx context.Context, query string, args ...any) (int64, error)

	FindByID(ctx context.Context, id int64, opts ...Option) (*T, error)
	FindByQueryWithOpts(ctx context.Context, query string, opts []Option, args ...any) ([]*T, error)
	FindPageWithOpts(ctx context.Context, page, pageSize int, query string, opts []Option, args ...any) (*PageResult[T], error)
	Count(ctx context.Context, query string, args ...any) (int64, error)
	Exists(ctx context.Context, query string, args ...any) (bool, error)

	// Execute 在事务中执行 fn，事务经 txCtx 传递给同一 DB 上的所有仓储
	Execute(ctx context.Context, fn func(txCtx context.Context) error) error
}
