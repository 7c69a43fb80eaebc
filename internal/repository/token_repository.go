package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// TokenRepository 记录被吊销的 token（按 jti）。
type TokenRepository interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type redisTokenRepository struct {
	redisClient *redis.Client
}

// NewTokenRepository 创建基于 Redis 黑名单的 TokenRepository。
func NewTokenRepository(redisClient *redis.Client) TokenRepository {
	return &redisTokenRepository{redisClient: redisClient}
}

func revokedKey(tokenID string) string {
	return "revoked:" + tokenID
}

// Revoke 将 jti 写入黑名单，过期时间为 token 的剩余有效期。
func (r *redisTokenRepository) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		// 已过期的 token 无需记录
		return nil
	}
	if err := r.redisClient.Set(ctx, revokedKey(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked 检查 jti 是否在黑名单中。
func (r *redisTokenRepository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.redisClient.Exists(ctx, revokedKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return n > 0, nil
}

// noopTokenRepository 在未启用 Redis 时使用：吊销不生效，token 只会自然过期。
type noopTokenRepository struct{}

// NewNoopTokenRepository 返回一个不记录任何状态的 TokenRepository。
func NewNoopTokenRepository() TokenRepository { return noopTokenRepository{} }

func (noopTokenRepository) Revoke(context.Context, string, time.Duration) error { return nil }
func (noopTokenRepository) IsRevoked(context.Context, string) (bool, error)     { return false, nil }
