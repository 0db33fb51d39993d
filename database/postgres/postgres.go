package postgres

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/aisgo/botrunner/database"
	"github.com/aisgo/botrunner/logger"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

/* ========================================================================
 * PostgreSQL - 关系型数据库连接
 * ========================================================================
 * 职责: 提供 PostgreSQL 连接池、GORM 集成
 * 技术: gorm.io/driver/postgres (pgx)
 * ======================================================================== */

// Config PostgreSQL 配置
type Config struct {
	// URL 完整连接串（如 DATABASE_URL），配置后优先于下列分项
	URL             string        `yaml:"url" mapstructure:"url"`
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	DBName          string        `yaml:"dbname" mapstructure:"dbname"`
	SSLMode         string        `yaml:"sslmode" mapstructure:"sslmode"`
	Schema          string        `yaml:"schema" mapstructure:"schema"`                         // 数据库 schema，默认 public
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`         // 最大空闲连接数
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`         // 最大打开连接数
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`   // 连接最大生命周期
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"` // 空闲连接最大时间
	SlowThreshold   time.Duration `yaml:"slow_threshold" mapstructure:"slow_threshold"`         // 慢查询阈值
	AutoMigrate     bool          `yaml:"auto_migrate" mapstructure:"auto_migrate"`             // 启动时执行迁移
}

// DSN 生成连接串
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}

	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := c.Port
	if port <= 0 {
		port = 5432
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.DBName, sslMode)

	// 如果配置了 schema，添加到 DSN
	if c.Schema != "" {
		dsn = fmt.Sprintf("%s search_path=%s", dsn, c.Schema)
	}
	return dsn
}

// NewDB 初始化 Postgres 连接
func NewDB(cfg Config, log *logger.Logger) (*gorm.DB, error) {
	dsn := cfg.DSN()

	gormLog := database.NewZapGormLogger(log).WithSlowThreshold(cfg.SlowThreshold)

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: dsn,
	}), &gorm.Config{
		Logger: gormLog,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		log.Error("PostgreSQL connection failed",
			zap.String("dsn", sanitizeDSN(dsn)),
			zap.Error(err),
		)
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 连接池配置（应用默认值）
	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = 10
	}

	maxOpenConns := cfg.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}

	connMaxLifetime := cfg.ConnMaxLifetime
	if connMaxLifetime <= 0 {
		connMaxLifetime = 1 * time.Hour
	}

	connMaxIdleTime := cfg.ConnMaxIdleTime
	if connMaxIdleTime <= 0 {
		connMaxIdleTime = 20 * time.Minute
	}

	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	log.Info("PostgreSQL connected", zap.String("dsn", sanitizeDSN(dsn)))
	return db, nil
}

var kvPasswordPattern = regexp.MustCompile(`password=\S+`)

// sanitizeDSN 屏蔽 DSN 中的密码，用于日志输出
func sanitizeDSN(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		if u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "***")
			}
		}
		return u.String()
	}
	return kvPasswordPattern.ReplaceAllString(dsn, "password=***")
}
