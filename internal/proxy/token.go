// Package proxy は /api/backend/* を外部バックエンドAPIへ転送する。
// 転送時はユーザーを識別する短命のHS256 JWTを付与し、Cookieは渡さない。
package proxy

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/concurseiro/internal/model"
)

// DefaultTokenTTL はバックエンド向けトークンの有効期間。
const DefaultTokenTTL = 5 * time.Minute

const tokenIssuer = "concurseiro"

// Claims はバックエンド向けトークンのクレーム。subはユーザーID。
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer はバックエンド向けトークンを発行・検証する。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue はユーザーIDとロールを含むトークンを発行する。
func (i *TokenIssuer) Issue(userID string, role model.Role) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := i.now()
	claims := &Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign backend token: %w", err)
	}
	return token, nil
}

// Parse はトークンを検証してクレームを返す。
func (i *TokenIssuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid backend token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid backend token")
	}
	return claims, nil
}
