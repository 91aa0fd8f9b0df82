// File: internal/toolrepo/postgres.go
// Description: PostgreSQL-backed tool repository. Tools live in one table
// with a generated tsvector over their descriptions; similarity search is
// full-text ranking via ts_rank. The pool is injected behind a narrow
// interface so tests can substitute pgxmock.

package toolrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/strata-cli/api/schemas"
)

// ErrToolNotFound is returned when a lookup misses.
var ErrToolNotFound = errors.New("tool not found")

// DBPool abstracts the pgxpool.Pool so tests can mock it.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tools (
    id          TEXT PRIMARY KEY,
    code        TEXT NOT NULL,
    description TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    search_vec  TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', description)) STORED
);
CREATE INDEX IF NOT EXISTS tools_search_idx ON tools USING GIN (search_vec);
`

// PostgresRepo implements schemas.ToolRepository on PostgreSQL.
type PostgresRepo struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgres verifies the connection and ensures the schema exists.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresRepo, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to ensure tools schema: %w", err)
	}
	return &PostgresRepo{
		pool: pool,
		log:  logger.Named("toolrepo.postgres"),
	}, nil
}

// Exists reports whether a tool with the given id is stored.
func (r *PostgresRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tools WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check tool existence: %w", err)
	}
	return exists, nil
}

// Add inserts or replaces a tool record.
func (r *PostgresRepo) Add(ctx context.Context, tool schemas.Tool) error {
	sql := `
        INSERT INTO tools (id, code, description, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET
            code = EXCLUDED.code,
            description = EXCLUDED.description;
    `
	if _, err := r.pool.Exec(ctx, sql, tool.ID, tool.Code, tool.Description, tool.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to persist tool %q: %w", tool.ID, err)
	}
	r.log.Info("Tool persisted", zap.String("id", tool.ID))
	return nil
}

// GetCode returns the stored code body for id.
func (r *PostgresRepo) GetCode(ctx context.Context, id string) (string, error) {
	var code string
	err := r.pool.QueryRow(ctx, `SELECT code FROM tools WHERE id = $1`, id).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("tool %q: %w", id, ErrToolNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch tool code: %w", err)
	}
	return code, nil
}

// GetDescription returns the stored description for id.
func (r *PostgresRepo) GetDescription(ctx context.Context, id string) (string, error) {
	var description string
	err := r.pool.QueryRow(ctx, `SELECT description FROM tools WHERE id = $1`, id).Scan(&description)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("tool %q: %w", id, ErrToolNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch tool description: %w", err)
	}
	return description, nil
}

// SimilaritySearch ranks stored tools against the query text and returns up
// to k ids, best match first.
func (r *PostgresRepo) SimilaritySearch(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}
	sql := `
        SELECT id
        FROM tools, websearch_to_tsquery('english', $1) q
        WHERE search_vec @@ q
        ORDER BY ts_rank(search_vec, q) DESC
        LIMIT $2;
    `
	rows, err := r.pool.Query(ctx, sql, query, k)
	if err != nil {
		return nil, fmt.Errorf("failed to run similarity search: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return ids, nil
}
