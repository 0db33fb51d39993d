package postgres

import (
	"context"
	"embed"
	"fmt"
	"sync"

	"github.com/aisgo/botrunner/logger"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

/* ========================================================================
 * Migrations - 数据库迁移
 * ========================================================================
 * 职责: 使用 goose 执行内嵌 SQL 迁移（bots / user_documents）
 * 并发: pg_advisory_lock 防止多实例同时迁移
 * ======================================================================== */

//go:embed migrations/*.sql
var migrationsFS embed.FS

var gooseMu sync.Mutex

const advisoryLockKey = "botrunner_migrations"

// Migrate 在已有连接上执行全部待执行迁移
func Migrate(ctx context.Context, db *gorm.DB, log *logger.Logger) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}

	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock(hashtext($1))", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock(hashtext($1))", advisoryLockKey); err != nil {
			log.Warn("Failed to release migration advisory lock", zap.Error(err))
		}
	}()

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err == nil {
		log.Info("Database migrated", zap.Int64("version", version))
	}
	return nil
}
