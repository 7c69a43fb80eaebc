package database

import (
	"context"
	"time"

	"health-smart-go/internal/config"
	"health-smart-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// RDB 是进程级的 Redis 客户端；redis.enabled=false 时保持为 nil。
var RDB *redis.Client

// NewRedis 创建 Redis 客户端并测试连接。
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// InitRedis 初始化全局 Redis 客户端连接
func InitRedis(cfg config.RedisConfig) {
	if !cfg.Enabled {
		log.Warnf("Redis 未启用：token 吊销与对话历史不可用")
		return
	}
	var err error
	RDB, err = NewRedis(cfg)
	if err != nil {
		log.Fatal("failed to connect to redis", err)
	}
	log.Info("Redis client connected successfully")
}

// CloseRedis 关闭全局 Redis 客户端。
func CloseRedis() error {
	if RDB == nil {
		return nil
	}
	return RDB.Close()
}
