package store

import (
	"time"

	"github.com/aisgo/botrunner/database"
)

/* ========================================================================
 * Models - 数据模型
 * ========================================================================
 * 职责: bots / user_documents 两张表的 GORM 映射
 * 注意: 表结构由迁移维护，模型不做 AutoMigrate
 * ======================================================================== */

// DefaultModel 机器人未指定模型时的别名
const DefaultModel = "llama"

// Bot 托管的 Telegram 机器人
type Bot struct {
	ID               int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	UserID           int64     `json:"user_id" gorm:"column:user_id;not null"` // 所有者 Telegram 用户 ID
	BotToken         string    `json:"-" gorm:"column:bot_token;not null;uniqueIndex"`
	BotUsername      string    `json:"bot_username" gorm:"column:bot_username"`
	BotName          string    `json:"bot_name" gorm:"column:bot_name"`
	Model            string    `json:"model" gorm:"column:model;default:llama"`
	Personality      string    `json:"personality" gorm:"column:personality"`
	IsActive         bool      `json:"is_active" gorm:"column:is_active;default:true"`
	RailwayServiceID string    `json:"railway_service_id,omitempty" gorm:"column:railway_service_id"` // 独立部署的机器人不由本进程托管
	CreatedAt        time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName 表名
func (Bot) TableName() string { return "bots" }

// MaskedToken 返回脱敏后的 token，仅保留 bot id 段
func (b *Bot) MaskedToken() string {
	for i := 0; i < len(b.BotToken); i++ {
		if b.BotToken[i] == ':' {
			return b.BotToken[:i] + ":***"
		}
	}
	if b.BotToken == "" {
		return ""
	}
	return "***"
}

// UserDocument 用户上传并解析过的文档
type UserDocument struct {
	ID            int64          `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	BotID         int64          `json:"bot_id" gorm:"column:bot_id"`
	UserID        int64          `json:"user_id" gorm:"column:user_id;not null"`
	DocType       string         `json:"doc_type" gorm:"column:doc_type"`
	ExtractedData database.JSONB `json:"extracted_data" gorm:"column:extracted_data;type:jsonb"`
	FileID        string         `json:"file_id" gorm:"column:file_id"`
	FileName      string         `json:"file_name,omitempty" gorm:"column:file_name"`
	CreatedAt     time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName 表名
func (UserDocument) TableName() string { return "user_documents" }
