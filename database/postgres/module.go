package postgres

import (
	"context"

	"github.com/aisgo/botrunner/logger"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

/* ========================================================================
 * PostgreSQL Module
 * ========================================================================
 * 职责: 提供 PostgreSQL 依赖注入模块
 * ======================================================================== */

// Module PostgreSQL 模块
// 提供: *gorm.DB，并在启动时按配置执行迁移、停止时关闭连接池
var Module = fx.Module("postgres",
	fx.Provide(NewDB),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, cfg Config, db *gorm.DB, log *logger.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.AutoMigrate {
				return nil
			}
			return Migrate(ctx, db, log)
		},
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			log.Info("Closing PostgreSQL connection pool")
			return sqlDB.Close()
		},
	})
}
