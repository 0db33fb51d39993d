package repository

import (
	"context"

	"github.com/aisgo/botrunner/errors"

	"gorm.io/gorm"
)

type ctxTxKey struct{}

// getDBFromContext ctx 中有事务时返回事务 DB，始终绑定 ctx
func getDBFromContext(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(ctxTxKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// Execute fn 返回错误时回滚，嵌套调用复用外层事务
func (r *RepositoryImpl[T]) Execute(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := ctx.Value(ctxTxKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, ctxTxKey{}, tx))
	})
	if err == nil {
		return nil
	}
	if _, ok := errors.AsBizError(err); ok {
		return err
	}
	return errors.Wrap(errors.ErrCodeInternal, "transaction failed", err)
}
