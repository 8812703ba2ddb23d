package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code 错误分类
type Code int

// 定义错误代码
const (
	// CodeValidation 请求缺少必填字段
	CodeValidation Code = iota + 1
	// CodeNotFound 服务名或实例ID不存在
	CodeNotFound
	// CodeUnavailable 服务存在但没有UP实例
	CodeUnavailable
	// CodeUpstreamUnreachable 网关无法连接后端
	CodeUpstreamUnreachable
	// CodeUpstreamTimeout 后端响应超时
	CodeUpstreamTimeout
	// CodeInternal 内部错误
	CodeInternal
)

// Error 带分类的错误，Message可以直接返回给调用方，Cause只记录日志
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error 实现error接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus 返回错误分类对应的HTTP状态码
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnavailable, CodeUpstreamUnreachable:
		return http.StatusServiceUnavailable
	case CodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError 创建参数校验错误
func NewValidationError(message string) *Error {
	return &Error{Code: CodeValidation, Message: message}
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

// NewUnavailableError 创建服务暂不可用错误
func NewUnavailableError(message string) *Error {
	return &Error{Code: CodeUnavailable, Message: message}
}

// NewUpstreamUnreachableError 创建后端不可达错误
func NewUpstreamUnreachableError(message string, cause error) *Error {
	return &Error{Code: CodeUpstreamUnreachable, Message: message, Cause: cause}
}

// NewUpstreamTimeoutError 创建后端超时错误
func NewUpstreamTimeoutError(message string, cause error) *Error {
	return &Error{Code: CodeUpstreamTimeout, Message: message, Cause: cause}
}

// NewInternalError 创建内部错误
func NewInternalError(message string, cause error) *Error {
	return &Error{Code: CodeInternal, Message: message, Cause: cause}
}

// As 从错误链中取出*Error
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode 判断错误链中是否存在指定分类的错误
func IsCode(err error, code Code) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// HTTPStatus 把任意错误映射为HTTP状态码，未分类的错误一律按500处理
func HTTPStatus(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// PublicMessage 返回可以暴露给调用方的错误描述，内部错误不泄露细节
func PublicMessage(err error, fallback string) string {
	appErr, ok := As(err)
	if !ok || appErr.Code == CodeInternal {
		return fallback
	}
	return appErr.Message
}
