package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"ostrid-adapter/internal/config"
)

// NewPgxPool connects to Postgres using the configured DSN.
func NewPgxPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.Connect(connCtx, cfg.URL)
	if err != nil {
		return nil, err
	}
	return pool, nil
}
