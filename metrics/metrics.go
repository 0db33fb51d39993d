package metrics

import (
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

/* ========================================================================
 * Prometheus Metrics - 可观测性指标
 * ========================================================================
 * 职责: 提供 Prometheus 指标注册和暴露
 * 分组: http / db / bot / llm / mail
 * ======================================================================== */

const namespace = "botrunner"

var (
	// HTTPRequestDuration HTTP 请求延迟
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestTotal HTTP 请求总数
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// DBQueryDuration 数据库查询延迟
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	// UpdatesTotal 处理的 Telegram 更新数
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "updates_total",
			Help:      "Telegram updates handled, by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: ok, denied, error
	)

	// RunningBots 当前运行中的机器人数
	RunningBots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "running",
			Help:      "Number of bots currently polling Telegram",
		},
	)

	// BotStartsTotal 机器人启动结果
	BotStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "starts_total",
			Help:      "Bot start attempts by result",
		},
		[]string{"result"}, // ok, error, lease_held
	)

	// DocumentsSavedTotal 保存的文档数
	DocumentsSavedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "documents_saved_total",
			Help:      "User documents saved, by doc type",
		},
		[]string{"doc_type"},
	)

	// LLMRequestTotal LLM 调用次数
	LLMRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_total",
			Help:      "LLM requests by provider, operation and status",
		},
		[]string{"provider", "operation", "status"},
	)

	// LLMRequestDuration LLM 调用延迟
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"provider", "operation"},
	)

	// EmailsTotal 邮件收发次数
	EmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mail",
			Name:      "total",
			Help:      "Emails sent or forwarded, by direction and status",
		},
		[]string{"direction", "status"}, // direction: outbound, inbound
	)
)

// RegisterMetricsEndpoint 注册 /metrics 端点
func RegisterMetricsEndpoint(app *fiber.App) {
	// 使用 fasthttpadaptor 将 promhttp.Handler 适配到 Fiber
	handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	app.Get("/metrics", func(c fiber.Ctx) error {
		handler(c.RequestCtx())
		return nil
	})
}

// Status 将 error 转为 status 标签
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
