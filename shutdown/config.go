package shutdown

import "time"

/* ========================================================================
 * Shutdown Config - 优雅关停配置
 * ======================================================================== */

// 钩子优先级，数值越小越先执行
const (
	PriorityRunner = 10  // 先停止拉取 Telegram 更新，等待处理中的消息完成
	PriorityHTTP   = 20  // 再停止管理接口与 webhook
	PriorityNormal = 50  // 默认
	PriorityApp    = 100 // 最后停止 fx 应用（数据库 / Redis 连接）
)

// Config 优雅关停配置
type Config struct {
	// Timeout 整体关停超时，超时后跳过剩余钩子
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// HookTimeout 单个钩子的执行上限，<= 0 表示只受 Timeout 约束
	HookTimeout time.Duration `yaml:"hook_timeout" mapstructure:"hook_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Timeout:     30 * time.Second,
		HookTimeout: 20 * time.Second,
	}
}
