// Package common 存放跨层共享的错误定义。
package common

import (
	"errors"
	"fmt"
)

var (
	// 输入校验失败
	ErrInvalidInput = errors.New("invalid input")

	// 认证相关
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// 资源相关；归属不匹配与不存在使用同一个错误
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already registered")

	// 上游模型服务
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	ErrRateLimited = errors.New("rate limited")
	ErrInternal    = errors.New("internal error")
)

// ValidationError 描述某个字段未通过校验。errors.Is(err, ErrInvalidInput) 为 true。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// Invalid 构造一个 ValidationError。
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
