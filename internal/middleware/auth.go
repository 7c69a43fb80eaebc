// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"health-smart-go/internal/common"
	"health-smart-go/internal/model"
	"health-smart-go/internal/service"
	"health-smart-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// gin 上下文中的键
const (
	ContextUserKey   = "user"
	ContextUserIDKey = "userID"
	ContextTokenKey  = "token"
)

const bearerPrefix = "Bearer "

// abort 以统一的响应结构中止请求。
func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "message": message})
}

// BearerToken 从 Authorization 请求头中提取 token。
func BearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", false
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
	return tokenString, tokenString != ""
}

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它验证 token、确认未被吊销，并将完整的 User 对象存入 Gin 的上下文中。
func AuthMiddleware(sessions service.SessionService, users service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := BearerToken(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "请求未包含有效的授权头")
			return
		}
		authenticate(c, sessions, users, tokenString)
	}
}

// OptionalAuth 允许匿名访问；带了授权头时按 AuthMiddleware 的规则校验。
func OptionalAuth(sessions service.SessionService, users service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.Next()
			return
		}
		tokenString, ok := BearerToken(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "无效的授权头格式")
			return
		}
		authenticate(c, sessions, users, tokenString)
	}
}

// TokenAuth 从路径参数 :token 中读取 token，用于无法设置请求头的 WebSocket 握手。
func TokenAuth(sessions service.SessionService, users service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Param("token")
		if tokenString == "" {
			abort(c, http.StatusUnauthorized, "缺少 token")
			return
		}
		authenticate(c, sessions, users, tokenString)
	}
}

func authenticate(c *gin.Context, sessions service.SessionService, users service.UserService, tokenString string) {
	ctx := c.Request.Context()
	userID, err := sessions.Resolve(ctx, tokenString)
	if err != nil {
		if errors.Is(err, common.ErrUnauthenticated) {
			abort(c, http.StatusUnauthorized, "无效或已过期的 token")
			return
		}
		log.Errorw("token 校验失败", "path", RoutePath(c), "error", err)
		abort(c, http.StatusInternalServerError, "服务器内部错误")
		return
	}

	// 用户可能已被删除
	user, err := users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			abort(c, http.StatusUnauthorized, "用户不存在")
			return
		}
		log.Errorw("加载用户失败", "userID", userID, "error", err)
		abort(c, http.StatusInternalServerError, "服务器内部错误")
		return
	}

	c.Set(ContextUserKey, user)
	c.Set(ContextUserIDKey, user.ID)
	c.Set(ContextTokenKey, tokenString)
	c.Next()
}

// CurrentUser 返回认证中间件放入上下文的用户；匿名请求返回 nil。
func CurrentUser(c *gin.Context) *model.User {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*model.User)
	return user
}

// CurrentUserID 返回当前用户 ID；匿名请求返回空字符串。
func CurrentUserID(c *gin.Context) string {
	return c.GetString(ContextUserIDKey)
}
