// File: internal/infra/security/tokens.go
package security

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ostrid-adapter/internal/config"
	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/domain/ports/adapter"
)

var _ adapter.TokenDecoder = (*TokenManager)(nil)

type agentClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenManager mints and validates the HMAC-signed bearer tokens agents
// present on protocol messages.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenManager(cfg *config.SecurityConfig) *TokenManager {
	return &TokenManager{secret: []byte(cfg.JWTSecret), ttl: cfg.TokenTTL}
}

// Mint issues a token for an agent. Used by the dev stack and tests; in
// production agents bring tokens from the platform issuer.
func (m *TokenManager) Mint(subject string, roles []string) (string, error) {
	now := time.Now()
	claims := agentClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *TokenManager) Decode(ctx context.Context, token string) (*adapter.Identity, error) {
	claims := &agentClaims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrExpiredToken
		}
		return nil, domain.ErrInvalidToken
	}
	if !tkn.Valid || claims.Subject == "" {
		return nil, domain.ErrInvalidToken
	}
	var expiry time.Time
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}
	return &adapter.Identity{
		Subject: claims.Subject,
		Roles:   claims.Roles,
		Expiry:  expiry,
	}, nil
}
