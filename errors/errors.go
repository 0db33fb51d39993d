package errors

import (
	"errors"
	"fmt"
	"net/http"
)

/* ========================================================================
 * Error Package - 统一错误处理
 * ========================================================================
 * 职责: 业务错误码、错误包装、HTTP 状态码映射
 * 说明: 上游 (Telegram / Groq / OpenAI / SendGrid) 失败统一为 ErrCodeUpstream，
 *       管理接口据此返回 502，机器人侧据此回复固定提示
 * ======================================================================== */

// ErrorCode 业务错误码
type ErrorCode int

const (
	ErrCodeUnknown         ErrorCode = 1000
	ErrCodeInvalidArgument ErrorCode = 1001
	ErrCodeNotFound        ErrorCode = 1002
	ErrCodeAlreadyExists   ErrorCode = 1003 // 重复 token、租约被占用
	ErrCodeInternal        ErrorCode = 1006
	ErrCodeUnavailable     ErrorCode = 1007 // 依赖未配置或暂不可用 (数据库、Redis、API key 缺失)
	ErrCodeUpstream        ErrorCode = 1010 // 上游服务调用失败
)

// BizError 业务错误
type BizError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *BizError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Is 按错误码匹配，使 errors.Is(err, ErrNotFound) 对任意消息成立
func (e *BizError) Is(target error) bool {
	t, ok := target.(*BizError)
	return ok && e.Code == t.Code
}

func (e *BizError) Unwrap() error {
	return e.Cause
}

// New 创建业务错误
func New(code ErrorCode, message string) *BizError {
	return &BizError{Code: code, Message: message}
}

// Wrap 包装底层错误
func Wrap(code ErrorCode, message string, cause error) *BizError {
	return &BizError{Code: code, Message: message, Cause: cause}
}

// Wrapf 包装底层错误，消息支持格式化
func Wrapf(code ErrorCode, cause error, format string, args ...any) *BizError {
	return &BizError{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// 用于 errors.Is 判断
var (
	ErrInvalidArgument = New(ErrCodeInvalidArgument, "invalid argument")
	ErrNotFound        = New(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists   = New(ErrCodeAlreadyExists, "resource already exists")
	ErrUnavailable     = New(ErrCodeUnavailable, "service unavailable")
	ErrUpstream        = New(ErrCodeUpstream, "upstream service failed")
)

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// Code 返回错误码，非 BizError 返回 ErrCodeUnknown
func Code(err error) ErrorCode {
	if bizErr, ok := AsBizError(err); ok {
		return bizErr.Code
	}
	return ErrCodeUnknown
}

func IsNotFound(err error) bool {
	return Code(err) == ErrCodeNotFound
}

func IsUpstream(err error) bool {
	return Code(err) == ErrCodeUpstream
}

// AsBizError 取出链上的 BizError
func AsBizError(err error) (*BizError, bool) {
	if err == nil {
		return nil, false
	}
	var bizErr *BizError
	if errors.As(err, &bizErr) {
		return bizErr, true
	}
	return nil, false
}

var httpStatus = map[ErrorCode]int{
	ErrCodeInvalidArgument: http.StatusBadRequest,
	ErrCodeNotFound:        http.StatusNotFound,
	ErrCodeAlreadyExists:   http.StatusConflict,
	ErrCodeInternal:        http.StatusInternalServerError,
	ErrCodeUnavailable:     http.StatusServiceUnavailable,
	ErrCodeUpstream:        http.StatusBadGateway,
}

// HTTPStatus 错误码对应的 HTTP 状态码，未登记的按 500 处理
func HTTPStatus(code ErrorCode) int {
	if status, ok := httpStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ToHTTPResponse 返回 (HTTP 状态码, 业务码, 消息)
// 非 BizError 与内部错误不向调用方暴露原始消息
func ToHTTPResponse(err error) (int, int, string) {
	if err == nil {
		return http.StatusOK, 0, "success"
	}
	bizErr, ok := AsBizError(err)
	if !ok || bizErr.Code == ErrCodeInternal || bizErr.Code == ErrCodeUnknown {
		code := int(ErrCodeInternal)
		if ok {
			code = int(bizErr.Code)
		}
		return http.StatusInternalServerError, code, "internal server error"
	}
	return HTTPStatus(bizErr.Code), int(bizErr.Code), bizErr.Message
}
