package validator

import (
	"sort"
	"strings"
)

const (
	tagCustom     = "error_msg" // 自定义错误消息标签名
	ruleSeparator = "|"
	keyValueSep   = ":"
)

// ValidationError 按字段分组的验证错误，字段名使用 json 名
//
//	type createBotRequest struct {
//	    BotToken string `json:"bot_token" validate:"required" error_msg:"required:bot_token is required"`
//	}
type ValidationError struct {
	Errors map[string][]string
}

// Error 按字段名排序输出，保证日志稳定
func (v *ValidationError) Error() string {
	fields := make([]string, 0, len(v.Errors))
	for f := range v.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(v.Errors[f], ", "))
	}
	return strings.Join(parts, "; ")
}

// HasErrors 是否有验证错误
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add 添加字段错误
func (v *ValidationError) Add(field, message string) {
	if v.Errors == nil {
		v.Errors = make(map[string][]string)
	}
	v.Errors[field] = append(v.Errors[field], message)
}

// Get 获取字段错误消息
func (v *ValidationError) Get(field string) []string {
	return v.Errors[field]
}
