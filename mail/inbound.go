package mail

import (
	"net/mail"
	"strings"
)

// telegram 单条消息上限 4096，留出标题余量
const maxForwardRunes = 3500

// InboundEmail SendGrid Inbound Parse 回调中的一封邮件
type InboundEmail struct {
	To      string
	From    string
	Subject string
	Text    string
}

// ParseInbound 从表单字段构造入站邮件，正文缺失时退回 html 字段
func ParseInbound(field func(key string) string) InboundEmail {
	text := field("text")
	if strings.TrimSpace(text) == "" {
		text = field("html")
	}
	return InboundEmail{
		To:      strings.TrimSpace(field("to")),
		From:    strings.TrimSpace(field("from")),
		Subject: strings.TrimSpace(field("subject")),
		Text:    strings.TrimSpace(text),
	}
}

// Recipients 返回小写的收件地址列表
// 无法按 RFC 5322 解析时按逗号拆分兜底
func (e InboundEmail) Recipients() []string {
	if e.To == "" {
		return nil
	}

	var out []string
	if list, err := mail.ParseAddressList(e.To); err == nil {
		for _, a := range list {
			out = append(out, strings.ToLower(a.Address))
		}
		return out
	}

	for _, part := range strings.Split(e.To, ",") {
		part = strings.Trim(strings.TrimSpace(part), "<>")
		if part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}

// Notification 转发给机器人所有者的 Telegram 文本
func (e InboundEmail) Notification() string {
	subject := e.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	body := e.Text
	if r := []rune(body); len(r) > maxForwardRunes {
		body = string(r[:maxForwardRunes]) + "…"
	}

	var b strings.Builder
	b.WriteString("📬 New email\n")
	b.WriteString("From: " + e.From + "\n")
	b.WriteString("Subject: " + subject + "\n")
	if body != "" {
		b.WriteString("\n" + body)
	}
	return b.String()
}
