// Package token 提供了用于生成和验证 JSON Web Tokens (JWT) 的功能。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrExpired 表示 token 已过期。
	ErrExpired = errors.New("token expired")
	// ErrInvalid 表示 token 格式错误、签名不匹配或声明缺失。
	ErrInvalid = errors.New("invalid token")
)

// JWTManager 负责管理 JWT 的生成和验证。
type JWTManager struct {
	secretKey      []byte
	accessTokenDur time.Duration
	now            func() time.Time
}

// CustomClaims 是 token 中携带的声明：Subject 为用户 ID，ID (jti) 用于吊销。
type CustomClaims struct {
	jwt.RegisteredClaims
}

// UserID 返回 token 绑定的用户 ID。
func (c *CustomClaims) UserID() string { return c.Subject }

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(secret string, accessTokenDur time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:      []byte(secret),
		accessTokenDur: accessTokenDur,
		now:            time.Now,
	}
}

// GenerateToken 为指定用户签发 access token，返回 token 字符串与过期时间。
func (m *JWTManager) GenerateToken(userID string) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.accessTokenDur)
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	// 使用 HS256 签名方法创建新的 token 对象
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyToken 验证给定的 token 字符串并返回其声明。
// 签名不匹配、算法不符、缺少 sub/jti/exp 时返回 ErrInvalid，过期时返回 ErrExpired。
func (m *JWTManager) VerifyToken(tokenString string) (*CustomClaims, error) {
	claims := &CustomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !token.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}
