// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"errors"
	"net/http"

	"health-smart-go/internal/common"
	"health-smart-go/internal/middleware"
	"health-smart-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// respond 写出统一的响应结构 {"code","message","data"}。
func respond(c *gin.Context, status int, message string, data interface{}) {
	body := gin.H{"code": status, "message": message}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

// errorStatus 把领域错误映射为 HTTP 状态码与对外的提示信息。
func errorStatus(err error) (int, string) {
	var ve *common.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest, "无效的请求参数"
	case errors.Is(err, common.ErrInvalidCredentials):
		return http.StatusUnauthorized, "邮箱或密码错误"
	case errors.Is(err, common.ErrUnauthenticated):
		return http.StatusUnauthorized, "未认证或 token 无效"
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, "资源不存在"
	case errors.Is(err, common.ErrDuplicateEmail):
		return http.StatusConflict, "该邮箱已被注册"
	case errors.Is(err, common.ErrRateLimited):
		return http.StatusTooManyRequests, "请求过于频繁，请稍后再试"
	case errors.Is(err, common.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "AI 服务暂时不可用，请稍后重试"
	case errors.Is(err, common.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, "AI 服务响应超时"
	default:
		return http.StatusInternalServerError, "服务器内部错误"
	}
}

// respondError 是错误转换为响应的唯一出口。500 的细节只记录在服务端。
func respondError(c *gin.Context, op string, err error) {
	if errors.Is(err, context.Canceled) && c.Request.Context().Err() != nil {
		// 客户端已断开
		c.Abort()
		return
	}
	status, message := errorStatus(err)
	switch {
	case status >= 500:
		log.Errorw(op+" failed", "path", middleware.RoutePath(c), "status", status, "error", err)
	default:
		log.Debugf("%s rejected: %v", op, err)
	}
	var ve *common.ValidationError
	if errors.As(err, &ve) {
		c.AbortWithStatusJSON(status, gin.H{"code": status, "message": message, "data": gin.H{"field": ve.Field, "reason": ve.Reason}})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"code": status, "message": message})
}

// badRequest 用于请求体无法绑定的情况。
func badRequest(c *gin.Context, op string, err error) {
	log.Warnf("%s: invalid request payload, error: %v", op, err)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载"})
}
