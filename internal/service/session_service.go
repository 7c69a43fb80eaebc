package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"health-smart-go/internal/common"
	"health-smart-go/internal/repository"
	"health-smart-go/pkg/log"
	"health-smart-go/pkg/token"
)

// Session 是签发给客户端的 access token。
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionService 签发、解析与吊销 token。
type SessionService interface {
	Issue(ctx context.Context, userID string) (*Session, error)
	Resolve(ctx context.Context, tokenString string) (string, error)
	Revoke(ctx context.Context, tokenString string) error
}

type sessionService struct {
	jwtManager *token.JWTManager
	tokenRepo  repository.TokenRepository
	now        func() time.Time
}

// NewSessionService 创建一个新的 SessionService 实例。
func NewSessionService(jwtManager *token.JWTManager, tokenRepo repository.TokenRepository) SessionService {
	return &sessionService{jwtManager: jwtManager, tokenRepo: tokenRepo, now: time.Now}
}

func (s *sessionService) Issue(_ context.Context, userID string) (*Session, error) {
	signed, expiresAt, err := s.jwtManager.GenerateToken(userID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Token: signed, ExpiresAt: expiresAt}, nil
}

// Resolve 返回 token 绑定的用户 ID。签名错误、过期或已吊销时返回 common.ErrUnauthenticated。
// 吊销状态无法查询时返回内部错误，不放行。
func (s *sessionService) Resolve(ctx context.Context, tokenString string) (string, error) {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		if !errors.Is(err, token.ErrExpired) {
			log.Debugf("token 校验失败: %v", err)
		}
		return "", common.ErrUnauthenticated
	}
	revoked, err := s.tokenRepo.IsRevoked(ctx, claims.ID)
	if err != nil {
		return "", fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return "", common.ErrUnauthenticated
	}
	return claims.UserID(), nil
}

// Revoke 将 token 加入黑名单，保留到其原本的过期时间。
func (s *sessionService) Revoke(ctx context.Context, tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return common.ErrUnauthenticated
	}
	remaining := claims.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		return nil
	}
	if err := s.tokenRepo.Revoke(ctx, claims.ID, remaining); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	log.Infow("[SessionService] token 已吊销", "userID", claims.UserID(), "jti", claims.ID)
	return nil
}
