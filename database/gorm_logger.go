package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/metrics"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

/* ========================================================================
 * ZapGormLogger - GORM 日志适配器
 * ========================================================================
 * 职责: 将 GORM 日志输出到 Zap，记录慢查询并上报查询耗时
 * ======================================================================== */

// DefaultSlowThreshold 默认慢查询阈值
const DefaultSlowThreshold = 200 * time.Millisecond

// ZapGormLogger 实现 gorm logger.Interface
type ZapGormLogger struct {
	log           *logger.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewZapGormLogger 创建 GORM 日志适配器
func NewZapGormLogger(log *logger.Logger) *ZapGormLogger {
	return &ZapGormLogger{
		log:           log,
		level:         gormlogger.Warn,
		slowThreshold: DefaultSlowThreshold,
	}
}

// WithSlowThreshold 设置慢查询阈值
func (l *ZapGormLogger) WithSlowThreshold(d time.Duration) *ZapGormLogger {
	if d > 0 {
		l.slowThreshold = d
	}
	return l
}

// LogMode 设置日志级别
func (l *ZapGormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *ZapGormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log.WithContext(ctx).Info(fmt.Sprintf(msg, args...))
	}
}

func (l *ZapGormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log.WithContext(ctx).Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *ZapGormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log.WithContext(ctx).Error(fmt.Sprintf(msg, args...))
	}
}

// Trace 记录每条 SQL 的执行结果
func (l *ZapGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	metrics.DBQueryDuration.WithLabelValues(sqlOperation(sql), "").Observe(elapsed.Seconds())

	if l.level <= gormlogger.Silent {
		return
	}

	log := l.log.WithContext(ctx)
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	}

	switch {
	case err != nil && l.level >= gormlogger.Error && !errors.Is(err, gormlogger.ErrRecordNotFound):
		log.Error("gorm query failed", append(fields, zap.Error(err))...)
	case elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		log.Warn("gorm slow query", append(fields, zap.Duration("threshold", l.slowThreshold))...)
	case l.level >= gormlogger.Info:
		log.Debug("gorm query", fields...)
	}
}

func sqlOperation(sql string) string {
	sql = strings.TrimSpace(sql)
	if idx := strings.IndexAny(sql, " \n\t"); idx > 0 {
		sql = sql[:idx]
	}
	return strings.ToLower(sql)
}
