// File: internal/toolrepo/factory.go
package toolrepo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/strata-cli/api/schemas"
	"github.com/xkilldash9x/strata-cli/internal/config"
)

// NewFromConfig builds the configured repository backend. The returned close
// function releases the connection pool when one was opened.
func NewFromConfig(ctx context.Context, cfg config.ToolRepoConfig, logger *zap.Logger) (schemas.ToolRepository, func(), error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemory(), func() {}, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		repo, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown tool repository type %q", cfg.Type)
	}
}
