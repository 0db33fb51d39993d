package logger

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

/* ========================================================================
 * Logger - 统一日志组件
 * ========================================================================
 * 职责: 提供结构化日志能力，支持 JSON / Console 格式
 * 技术: Uber Zap + lumberjack (文件滚动)
 * ======================================================================== */

// Config Logger 配置
type Config struct {
	Level      string `yaml:"level" mapstructure:"level"`             // debug, info, warn, error
	Format     string `yaml:"format" mapstructure:"format"`           // json, console
	Output     string `yaml:"output" mapstructure:"output"`           // stdout, stderr 或文件路径
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"` // 单个日志文件最大 MB
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// Logger 封装 Zap Logger
type Logger struct {
	*zap.Logger
}

// ValidateConfig 校验日志配置
func ValidateConfig(cfg Config) error {
	if cfg.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	switch cfg.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", cfg.Format)
	}
	return nil
}

// NewLogger 初始化 Logger
func NewLogger(cfg Config) *Logger {
	// 解析日志级别，非法值回退到 info
	level := zap.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = zap.InfoLevel
		}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	// 根据格式选择编码器
	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(
		encoder,
		newWriter(cfg),
		level,
	)

	logger := zap.New(core, zap.AddCaller())
	return &Logger{Logger: logger}
}

// newWriter 根据 Output 选择输出目标，文件输出走 lumberjack 滚动
func newWriter(cfg Config) zapcore.WriteSyncer {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout)
	case "stderr":
		return zapcore.AddSync(os.Stderr)
	}

	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
}

// NewNop 返回不输出任何内容的 Logger（测试用）
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

type traceIDKey struct{}

// ContextWithTraceID 将 TraceID 写入 Context
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext 读取 Context 中的 TraceID
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, _ := ctx.Value(traceIDKey{}).(string)
	return traceID
}

// WithContext 从 Context 提取 TraceID 并注入 Logger
func (l *Logger) WithContext(ctx context.Context) *zap.Logger {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return l.Logger.With(zap.String("trace_id", traceID))
	}
	return l.Logger
}
