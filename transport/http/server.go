package http

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/metrics"
	"github.com/aisgo/botrunner/middleware"
	"github.com/aisgo/botrunner/shutdown"

	"github.com/gofiber/fiber/v3"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

/* ========================================================================
 * HTTP Server - Fiber v3 HTTP 服务器
 * ========================================================================
 * 职责: 健康检查、Prometheus 指标、管理接口与入站邮件回调的承载
 * 中间件顺序: recover → request id / 访问日志 → 指标
 * 关停: 注册到 shutdown.Manager (PriorityHTTP)，在机器人停止后关闭
 * ======================================================================== */

const (
	defaultReadTimeout        = 30 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultHealthCheckTimeout = 2 * time.Second
	defaultBodyLimit          = 25 << 20 // 入站邮件可能携带附件
)

// Config HTTP 服务器配置
type Config struct {
	Enabled            *bool         `yaml:"enabled" mapstructure:"enabled"` // 默认 true
	Port               int           `yaml:"port" mapstructure:"port"`
	Host               string        `yaml:"host" mapstructure:"host"`
	AppName            string        `yaml:"app_name" mapstructure:"app_name"`
	ReadTimeout        time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout" mapstructure:"health_check_timeout"`
	BodyLimit          int           `yaml:"body_limit" mapstructure:"body_limit"`

	// EnableRecover 是否启用 Panic 恢复中间件，默认 true
	EnableRecover *bool `yaml:"enable_recover" mapstructure:"enable_recover"`

	Listen ListenOptions `yaml:"listen" mapstructure:"listen"`
}

// ListenOptions Fiber ListenConfig 中可通过配置文件设置的字段
type ListenOptions struct {
	DisableStartupMessage bool          `yaml:"disable_startup_message" mapstructure:"disable_startup_message"`
	EnablePrintRoutes     bool          `yaml:"enable_print_routes" mapstructure:"enable_print_routes"`
	ListenerNetwork       string        `yaml:"listener_network" mapstructure:"listener_network"` // tcp, tcp4, tcp6，默认 tcp4
	CertFile              string        `yaml:"cert_file" mapstructure:"cert_file"`
	CertKeyFile           string        `yaml:"cert_key_file" mapstructure:"cert_key_file"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	TLSMinVersion         uint16        `yaml:"tls_min_version" mapstructure:"tls_min_version"` // 771 (TLS 1.2), 772 (TLS 1.3)
}

// IsEnabled 是否启动 HTTP 服务
func (c Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Addr 监听地址
func (c Config) Addr() string {
	if c.Host != "" {
		return fmt.Sprintf("%s:%d", c.Host, c.Port)
	}
	return fmt.Sprintf(":%d", c.Port)
}

// Pinger 就绪探针检查的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check 一项就绪检查
type Check struct {
	Name string
	Ping Pinger
}

// BotCounter 运行中机器人数，展示在 /readyz
type BotCounter interface {
	Count() int
}

type ServerParams struct {
	fx.In
	Lc       fx.Lifecycle
	Config   Config
	Logger   *logger.Logger
	Shutdown *shutdown.Manager `optional:"true"`
	DB       *gorm.DB          `optional:"true"`
	Checks   []Check           `group:"readiness"`
	Bots     BotCounter        `optional:"true"`
}

// NewHTTPServer 创建 HTTP 服务器并注册生命周期
func NewHTTPServer(p ServerParams) *fiber.App {
	app := NewApp(p.Config, p.Logger)

	checks := p.Checks
	if p.DB != nil {
		checks = append([]Check{{Name: "database", Ping: gormPinger{p.DB}}}, checks...)
	}
	timeout := p.Config.HealthCheckTimeout
	if timeout <= 0 {
		timeout = defaultHealthCheckTimeout
	}
	registerHealthEndpoints(app, checks, p.Bots, timeout)
	metrics.RegisterMetricsEndpoint(app)

	if !p.Config.IsEnabled() {
		p.Logger.Info("HTTP server disabled")
		return app
	}

	// 关停管理器与 fx OnStop 都会调用，只执行一次
	var (
		stopOnce sync.Once
		stopErr  error
	)
	stop := func(ctx context.Context) error {
		stopOnce.Do(func() { stopErr = app.ShutdownWithContext(ctx) })
		return stopErr
	}
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return serve(ctx, app, p.Config, p.Logger)
		},
		OnStop: func(ctx context.Context) error {
			p.Logger.Info("stopping HTTP server")
			return stop(ctx)
		},
	})
	if p.Shutdown != nil {
		p.Shutdown.Register("http", shutdown.PriorityHTTP, stop)
	}
	return app
}

// NewApp 创建带通用中间件的 Fiber 应用
func NewApp(cfg Config, log *logger.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      appName(cfg),
		ReadTimeout:  orDefault(cfg.ReadTimeout, defaultReadTimeout),
		WriteTimeout: orDefault(cfg.WriteTimeout, defaultWriteTimeout),
		IdleTimeout:  orDefault(cfg.IdleTimeout, defaultIdleTimeout),
		BodyLimit:    bodyLimit(cfg),
		ErrorHandler: middleware.NewErrorHandler(log),
	})

	if cfg.EnableRecover == nil || *cfg.EnableRecover {
		app.Use(recoverer.New(recoverer.Config{
			EnableStackTrace: true,
			StackTraceHandler: func(c fiber.Ctx, e interface{}) {
				log.Error("panic recovered",
					zap.Any("error", e),
					zap.String("path", c.Path()),
					zap.String("method", c.Method()),
				)
			},
		}))
	}
	app.Use(middleware.RequestLogger(log))
	app.Use(metrics.HTTPMetricsMiddleware(nil))
	return app
}

// serve 预先绑定端口，绑定失败时启动直接报错
func serve(ctx context.Context, app *fiber.App, cfg Config, log *logger.Logger) error {
	addr := cfg.Addr()
	listenConfig := buildListenConfig(cfg.Listen)
	ln, err := createListener(addr, listenConfig)
	if err != nil {
		log.Error("failed to create HTTP listener", zap.Error(err), zap.String("addr", addr))
		return fmt.Errorf("failed to bind to %s: %w", addr, err)
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
		if err := app.Listener(ln, listenConfig); err != nil {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return ctx.Err()
}

func buildListenConfig(opts ListenOptions) fiber.ListenConfig {
	config := fiber.ListenConfig{
		DisableStartupMessage: opts.DisableStartupMessage,
		EnablePrintRoutes:     opts.EnablePrintRoutes,
		CertFile:              opts.CertFile,
		CertKeyFile:           opts.CertKeyFile,
		ListenerNetwork:       opts.ListenerNetwork,
	}
	if config.ListenerNetwork == "" {
		config.ListenerNetwork = "tcp4"
	}
	if opts.ShutdownTimeout > 0 {
		config.ShutdownTimeout = opts.ShutdownTimeout
	}
	if opts.TLSMinVersion > 0 {
		config.TLSMinVersion = opts.TLSMinVersion
	}
	return config
}

/* ========================================================================
 * Health Check Endpoints
 * ========================================================================
 * /healthz - 存活探针，进程能响应即返回 200
 * /readyz  - 就绪探针，数据库 (及启用时的 Redis) 不可用返回 503
 * ======================================================================== */

func registerHealthEndpoints(app *fiber.App, checks []Check, bots BotCounter, timeout time.Duration) {
	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	app.Get("/readyz", func(c fiber.Ctx) error {
		results := make(map[string]string, len(checks)+3)
		healthy := true

		ctx, cancel := context.WithTimeout(c.Context(), timeout)
		defer cancel()
		for _, check := range checks {
			if err := check.Ping.Ping(ctx); err != nil {
				results[check.Name] = "error: " + err.Error()
				healthy = false
				continue
			}
			results[check.Name] = "ok"
		}

		if bots != nil {
			results["running_bots"] = fmt.Sprintf("%d", bots.Count())
		}
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		results["memory_alloc_mb"] = fmt.Sprintf("%.2f", float64(m.Alloc)/1024/1024)
		results["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

		status, code := "ok", fiber.StatusOK
		if !healthy {
			status, code = "unhealthy", fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
			"checks": results,
		})
	})
}

type gormPinger struct {
	db *gorm.DB
}

func (p gormPinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func appName(cfg Config) string {
	if cfg.AppName == "" {
		return "botrunner"
	}
	return cfg.AppName
}

func bodyLimit(cfg Config) int {
	if cfg.BodyLimit <= 0 {
		return defaultBodyLimit
	}
	return cfg.BodyLimit
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
