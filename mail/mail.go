package mail

import (
	"context"
	"strings"
	"time"
)

/* ========================================================================
 * Mail - 机器人邮箱
 * ========================================================================
 * 职责: 由机器人用户名推导邮箱地址，通过 SendGrid 发信，解析 SendGrid 入站回调
 * 技术: go-resty
 * ======================================================================== */

const (
	DefaultDomain    = "crabpass.ai"
	DefaultBaseURL   = "https://api.sendgrid.com"
	DefaultFromEmail = "assistant@crabpass.ai"
	DefaultFromName  = "Tax Assistant"
	DefaultTimeout   = 30 * time.Second
)

// Config 邮件配置
type Config struct {
	SendGridAPIKey string        `yaml:"sendgrid_api_key" mapstructure:"sendgrid_api_key"`
	BaseURL        string        `yaml:"base_url" mapstructure:"base_url"`
	FromEmail      string        `yaml:"from_email" mapstructure:"from_email"`
	FromName       string        `yaml:"from_name" mapstructure:"from_name"`
	Domain         string        `yaml:"domain" mapstructure:"domain"` // 机器人邮箱域名
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// WithDefaults 填充未配置的字段
func (c Config) WithDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.FromEmail == "" {
		c.FromEmail = DefaultFromEmail
	}
	if c.FromName == "" {
		c.FromName = DefaultFromName
	}
	if c.Domain == "" {
		c.Domain = DefaultDomain
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Sender 发信接口
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// AddressFor 由机器人用户名推导邮箱
// @NeatlySF_bot -> neatlysf@crabpass.ai；用户名中所有的 "bot" 都会被去掉
func AddressFor(username, domain string) string {
	if username == "" {
		return ""
	}
	if domain == "" {
		domain = DefaultDomain
	}
	name := strings.ToLower(username)
	name = strings.ReplaceAll(name, "@", "")
	name = strings.ReplaceAll(name, "bot", "")
	name = strings.ReplaceAll(name, "_", "")
	return name + "@" + domain
}
