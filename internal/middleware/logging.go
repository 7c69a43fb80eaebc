package middleware

import (
	"time"

	"health-smart-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader 用于透传或生成请求 ID。
const RequestIDHeader = "X-Request-ID"

// RoutePath 返回匹配到的路由模板，例如 /chat/ws/:token。
// 路径参数可能携带 token，日志中只记录模板；未匹配任何路由时退回原始路径。
func RoutePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

// RequestLogger 是一个 Gin 中间件，记录每个请求的摘要。
// 请求体与响应体包含密码和健康数据，不记录。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		c.Set("requestID", requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		statusCode := c.Writer.Status()
		fields := []interface{}{
			"requestID", requestID,
			"statusCode", statusCode,
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", RoutePath(c),
			"userID", CurrentUserID(c),
		}
		switch {
		case statusCode >= 500:
			log.Errorw("HTTP Request Log", fields...)
		case statusCode >= 400:
			log.Warnw("HTTP Request Log", fields...)
		default:
			log.Infow("HTTP Request Log", fields...)
		}
	}
}
