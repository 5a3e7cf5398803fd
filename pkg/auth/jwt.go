// Package auth 提供桥接会话的 JWT 认证
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const devTokenPrefix = "dev_"

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims JWT claims
type Claims struct {
	jwt.RegisteredClaims
}

// Validator JWT 验证器
type Validator struct {
	secretKey []byte
	allowDev  bool
}

// NewValidator 创建验证器，allowDev 为 true 时接受 dev_ 前缀的开发 token
func NewValidator(secretKey string, allowDev bool) *Validator {
	return &Validator{
		secretKey: []byte(secretKey),
		allowDev:  allowDev,
	}
}

// Validate 验证 token 并返回 claims
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	// 开发环境：dev_<subject>
	if v.allowDev && strings.HasPrefix(tokenString, devTokenPrefix) {
		subject := strings.TrimPrefix(tokenString, devTokenPrefix)
		if subject == "" {
			return nil, ErrInvalidToken
		}
		return &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}, nil
	}

	if len(v.secretKey) == 0 {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateToken 生成 token（用于测试和 sockcat）
func (v *Validator) GenerateToken(subject string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secretKey)
}
