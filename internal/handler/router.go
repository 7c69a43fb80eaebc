package handler

import (
	"health-smart-go/internal/middleware"
	"health-smart-go/internal/service"

	"github.com/gin-gonic/gin"
)

// RouterDeps 汇集路由所需的服务。Exports 的 Archive 仅在 ArchiveEnabled 时注册；
// Hub 为空时创建一个不参与停机的 Hub。
type RouterDeps struct {
	Users         service.UserService
	Sessions      service.SessionService
	Records       service.HealthRecordService
	Registry      *service.RecordTypeRegistry
	Exports       service.ExportService
	Chat          service.ChatService
	Conversations service.ConversationService
	Limiter       *middleware.LimiterStore
	Readiness     []ReadinessCheck
	Hub           *Hub

	ChatRequireAuth bool
	ArchiveEnabled  bool
}

// NewRouter 创建 Gin 引擎并注册全部路由。
func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	authRequired := middleware.AuthMiddleware(d.Sessions, d.Users)
	limited := middleware.RateLimit(d.Limiter)

	userHandler := NewUserHandler(d.Users, d.Sessions, d.Conversations)
	recordHandler := NewHealthRecordHandler(d.Records, d.Exports, d.Registry)
	hub := d.Hub
	if hub == nil {
		hub = NewHub()
	}
	chatHandler := NewChatHandler(d.Chat, hub)
	conversationHandler := NewConversationHandler(d.Conversations)
	systemHandler := NewSystemHandler(d.Readiness...)

	r.GET("/ping", systemHandler.Ping)
	r.GET("/ready", systemHandler.Ready)

	apiV1 := r.Group("/api/v1")
	{
		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", limited, userHandler.Register)
			users.POST("/login", limited, userHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("")
			authed.Use(authRequired)
			{
				authed.POST("/logout", userHandler.Logout)
				authed.GET("/me", userHandler.GetProfile)
				authed.PUT("/me/password", userHandler.ChangePassword)
				authed.DELETE("/me", userHandler.DeleteAccount)
			}
		}

		apiV1.GET("/record-types", recordHandler.RecordTypes)

		records := apiV1.Group("/health-records")
		records.Use(authRequired)
		{
			records.GET("", recordHandler.List)
			records.POST("", recordHandler.Create)
			records.GET("/export", recordHandler.Export)
			if d.ArchiveEnabled {
				records.POST("/exports", recordHandler.Archive)
			}
			records.GET("/:id", recordHandler.Get)
			records.PUT("/:id", recordHandler.Update)
			records.DELETE("/:id", recordHandler.Delete)
		}

		chatAuth := middleware.OptionalAuth(d.Sessions, d.Users)
		if d.ChatRequireAuth {
			chatAuth = authRequired
		}
		apiV1.POST("/chat", limited, chatAuth, chatHandler.Stream)

		history := apiV1.Group("/chat/history")
		history.Use(authRequired)
		{
			history.GET("", conversationHandler.GetConversations)
			history.DELETE("", conversationHandler.ClearConversations)
		}
	}

	// WebSocket 握手无法携带请求头，token 放在路径中
	r.GET("/chat/ws/:token", middleware.TokenAuth(d.Sessions, d.Users), chatHandler.Handle)

	return r
}
