package adapter

import (
	"context"
	"time"
)

// Identity is the decoded subject of a protocol token.
type Identity struct {
	Subject string
	Roles   []string
	Expiry  time.Time
}

// TokenDecoder validates and decodes a bearer token. Fails with
// domain.ErrInvalidToken or domain.ErrExpiredToken.
type TokenDecoder interface {
	Decode(ctx context.Context, token string) (*Identity, error)
}
