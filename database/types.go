package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

/* ========================================================================
 * JSONB Type - PostgreSQL JSONB 映射（公共定义）
 * ========================================================================
 * 职责: 统一定义 JSONB 类型，供各模块共享使用
 * ======================================================================== */

// JSONB 自定义类型，用于 Gorm 映射 PostgreSQL JSONB
type JSONB map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	return json.Marshal(j)
}

// Scan 实现 sql.Scanner 接口
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONB)
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for JSONB scan")
	}
	return json.Unmarshal(data, j)
}

// GetString 读取字符串字段，不存在或类型不符时返回空串
func (j JSONB) GetString(key string) string {
	if v, ok := j[key].(string); ok {
		return v
	}
	return ""
}
