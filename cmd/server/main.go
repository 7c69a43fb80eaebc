// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"health-smart-go/internal/config"
	"health-smart-go/internal/handler"
	"health-smart-go/internal/middleware"
	"health-smart-go/internal/repository"
	"health-smart-go/internal/service"
	"health-smart-go/pkg/database"
	"health-smart-go/pkg/kafka"
	"health-smart-go/pkg/llm"
	"health-smart-go/pkg/log"
	"health-smart-go/pkg/storage"
	"health-smart-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func configPath() string {
	if p := os.Getenv("HEALTH_CONFIG"); p != "" {
		return p
	}
	return "./configs/config.yaml"
}

func main() {
	// 1. 初始化配置
	config.Init(configPath())
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	database.InitDB(cfg.Database)
	if err := repository.AutoMigrate(database.DB); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	database.InitRedis(cfg.Redis)

	// 4. 初始化 Repository；未启用 Redis 时吊销与历史退化为空实现
	userRepo := repository.NewUserRepository(database.DB)
	recordRepo := repository.NewHealthRecordRepository(database.DB)
	tokenRepo := repository.NewNoopTokenRepository()
	conversationRepo := repository.NewNoopConversationRepository()
	if database.RDB != nil {
		tokenRepo = repository.NewTokenRepository(database.RDB)
		conversationRepo = repository.NewConversationRepository(database.RDB)
	}

	// 5. 可选的 Kafka 事件与 MinIO 归档
	publisher := service.NopPublisher()
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka)
		publisher = producer
	}

	var objectStore service.ObjectStore
	if cfg.MinIO.Enabled {
		store, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			log.Fatal("MinIO 初始化失败", err)
		}
		bucketCtx, cancelBucket := context.WithTimeout(context.Background(), 10*time.Second)
		err = store.EnsureBucket(bucketCtx)
		cancelBucket()
		if err != nil {
			log.Fatal("MinIO 存储桶检查失败", err)
		}
		objectStore = store
	}

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, time.Duration(cfg.JWT.AccessTokenExpireHours)*time.Hour)
	llmClient := llm.NewClient(cfg.LLM)
	registry := service.NewRecordTypeRegistry()
	userService := service.NewUserService(userRepo, cfg.PasswordPolicy)
	sessionService := service.NewSessionService(jwtManager, tokenRepo)
	recordService := service.NewHealthRecordService(recordRepo, registry, publisher)
	exportService := service.NewExportService(recordService, objectStore, cfg.MinIO.PresignExpiry())
	chatService := service.NewChatService(llmClient, conversationRepo, cfg.Chat, cfg.LLM)
	conversationService := service.NewConversationService(conversationRepo)

	limiter := middleware.NewLimiterStore(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, 5*time.Minute)
	defer limiter.Stop()

	checks := []handler.ReadinessCheck{{
		Name: "database",
		Check: func(ctx context.Context) error {
			sqlDB, err := database.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}
	if database.RDB != nil {
		checks = append(checks, handler.ReadinessCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return database.RDB.Ping(ctx).Err() },
		})
	}

	// 7. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	hub := handler.NewHub()
	r := handler.NewRouter(handler.RouterDeps{
		Users:           userService,
		Sessions:        sessionService,
		Records:         recordService,
		Registry:        registry,
		Exports:         exportService,
		Chat:            chatService,
		Conversations:   conversationService,
		Limiter:         limiter,
		Readiness:       checks,
		ChatRequireAuth: cfg.Chat.RequireAuth,
		ArchiveEnabled:  objectStore != nil,
		Hub:             hub,
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown 不跟踪被劫持的 WebSocket 连接，由 Hub 负责断开
	srv.RegisterOnShutdown(hub.Close)

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()

	// 停止接收新请求并等待进行中的请求（包括 SSE 流式聊天）结束
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP 服务器关闭失败", err)
	}
	// WebSocket 处理协程退出后才能关闭 Redis 与数据库
	if err := hub.Wait(ctx); err != nil {
		log.Error("等待 WebSocket 连接关闭超时", err)
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Error("Kafka 生产者关闭失败", err)
		}
	}
	if err := database.CloseRedis(); err != nil {
		log.Error("Redis 关闭失败", err)
	}
	if err := database.CloseDB(); err != nil {
		log.Error("数据库关闭失败", err)
	}
	log.Info("服务已优雅关闭")
}
