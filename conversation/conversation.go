package conversation

import (
	"context"
	"fmt"
	"time"
)

/* ========================================================================
 * Conversation - 对话历史
 * ========================================================================
 * 职责: 按 "{bot_id}:{user_id}" 保存最近 N 条对话消息
 * 实现: 进程内 LRU (golang-lru) / Redis 列表
 * ======================================================================== */

// 角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	DefaultLimit            = 20
	DefaultMaxConversations = 10000
	DefaultTTL              = 7 * 24 * time.Hour
)

// Message 一条对话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config 对话历史配置
type Config struct {
	Limit            int           `yaml:"limit" mapstructure:"limit"`                         // 每个会话保留的消息数
	MaxConversations int           `yaml:"max_conversations" mapstructure:"max_conversations"` // 内存实现的会话上限
	TTL              time.Duration `yaml:"ttl" mapstructure:"ttl"`                             // Redis 实现的过期时间
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.MaxConversations <= 0 {
		c.MaxConversations = DefaultMaxConversations
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	return c
}

// Store 对话历史存储
type Store interface {
	// Append 追加一条消息并裁剪到最近 limit 条，返回裁剪后的历史
	Append(ctx context.Context, key string, msg Message) ([]Message, error)
	// Clear 清空会话
	Clear(ctx context.Context, key string) error
}

// Key 会话 key
func Key(botID, userID int64) string {
	return fmt.Sprintf("%d:%d", botID, userID)
}
