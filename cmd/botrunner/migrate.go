package main

import (
	"context"

	"github.com/aisgo/botrunner/conf"
	"github.com/aisgo/botrunner/database/postgres"
	"github.com/aisgo/botrunner/errors"
	"github.com/aisgo/botrunner/logger"
)

// runMigrate 只需要数据库配置，不校验 LLM 等密钥
func runMigrate(ctx context.Context, flags *rootFlags) error {
	cfg, err := conf.Load(flags.configDir, flags.configName)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" && cfg.Postgres.Host == "" {
		return errors.New(errors.ErrCodeInvalidArgument, "postgres.url (DATABASE_URL) or postgres.host is required")
	}

	log := logger.NewLogger(cfg.Logger)
	defer func() { _ = log.Sync() }()

	db, err := postgres.NewDB(cfg.Postgres, log)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	return postgres.Migrate(ctx, db, log)
}
