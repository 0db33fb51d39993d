package response

import (
	"net/http"

	"github.com/aisgo/botrunner/errors"
	"github.com/aisgo/botrunner/logger"

	"github.com/gofiber/fiber/v3"
)

/* ========================================================================
 * Response - 统一响应处理
 * ========================================================================
 * 职责: 管理接口与回调的 JSON 信封
 * 特性:
 *   - 与 errors 包集成，BizError 映射为对应 HTTP 状态码
 *   - 非业务错误不向调用方暴露内部信息
 *   - 携带请求 trace_id
 * ======================================================================== */

func write(c fiber.Ctx, status, code int, msg string, data interface{}) error {
	if status > http.StatusNetworkAuthenticationRequired || status < http.StatusContinue {
		status = http.StatusInternalServerError
	}
	if data == nil {
		data = &struct{}{}
	}
	return c.Status(status).JSON(Result{
		Code:    code,
		Msg:     msg,
		Data:    data,
		TraceID: logger.TraceIDFromContext(c.Context()),
	})
}

/* ========================================================================
 * 成功响应
 * ======================================================================== */

// Ok 返回成功响应
func Ok(c fiber.Ctx) error {
	return write(c, http.StatusOK, http.StatusOK, "ok", nil)
}

// OkWithData 返回成功响应（带数据）
func OkWithData(c fiber.Ctx, data interface{}) error {
	return write(c, http.StatusOK, http.StatusOK, "ok", data)
}

// Created 返回 201
func Created(c fiber.Ctx, data interface{}) error {
	return write(c, http.StatusCreated, http.StatusCreated, "created", data)
}

// PageData 返回分页数据
func PageData(c fiber.Ctx, list interface{}, total int64, page, pageSize int) error {
	return OkWithData(c, &PageResult{List: list, Total: total, Page: page, PageSize: pageSize})
}

/* ========================================================================
 * 错误响应
 * ======================================================================== */

// Error 返回错误响应，BizError 使用其 HTTP 状态码和消息
func Error(c fiber.Ctx, err error) error {
	if err == nil {
		return Ok(c)
	}
	status, code, msg := errors.ToHTTPResponse(err)
	return write(c, status, code, msg, nil)
}

// ErrorWithCode 返回错误响应并指定 HTTP 状态码
func ErrorWithCode(c fiber.Ctx, status int, err error) error {
	if err == nil {
		return write(c, status, status, http.StatusText(status), nil)
	}
	if bizErr, ok := errors.AsBizError(err); ok {
		return write(c, status, int(bizErr.Code), bizErr.Message, nil)
	}
	if fe, ok := err.(*fiber.Error); ok {
		return write(c, status, fe.Code, fe.Message, nil)
	}
	return write(c, status, status, err.Error(), nil)
}

/* ========================================================================
 * 快捷响应
 * ======================================================================== */

// BadRequest 返回 400 错误
func BadRequest(c fiber.Ctx, msg string) error {
	return write(c, http.StatusBadRequest, http.StatusBadRequest, msg, nil)
}

// Unauthorized 返回 401 错误
func Unauthorized(c fiber.Ctx, msg string) error {
	return write(c, http.StatusUnauthorized, http.StatusUnauthorized, msg, nil)
}

// NotFound 返回 404 错误
func NotFound(c fiber.Ctx, msg string) error {
	return write(c, http.StatusNotFound, http.StatusNotFound, msg, nil)
}

// ServiceUnavailable 返回 503 错误
func ServiceUnavailable(c fiber.Ctx, msg string) error {
	return write(c, http.StatusServiceUnavailable, http.StatusServiceUnavailable, msg, nil)
}

// Invalid 返回 400，data 为按字段分组的校验错误
func Invalid(c fiber.Ctx, fields map[string][]string) error {
	return write(c, http.StatusBadRequest, int(errors.ErrCodeInvalidArgument), "validation failed", fields)
}
