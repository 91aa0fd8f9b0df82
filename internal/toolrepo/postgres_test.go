package toolrepo

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/strata-cli/api/schemas"
)

func newPostgresRepo(t *testing.T) (*PostgresRepo, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS tools").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	repo, err := NewPostgres(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return repo, mockPool
}

func TestNewPostgres(t *testing.T) {
	t.Run("propagates ping failure", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgres(context.Background(), mockPool, zap.NewNop())
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("propagates schema failure", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS tools").
			WillReturnError(errors.New("permission denied for schema public"))

		_, err = NewPostgres(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ensure tools schema")
	})
}

func TestPostgresExists(t *testing.T) {
	repo, mockPool := newPostgresRepo(t)

	mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM tools WHERE id = $1)`)).
		WithArgs("fetch_data").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.Exists(context.Background(), "fetch_data")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresAdd(t *testing.T) {
	repo, mockPool := newPostgresRepo(t)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, loc)

	mockPool.ExpectExec("INSERT INTO tools").
		WithArgs("fetch_data", "def fetch_data(): pass", "Fetch the data", created.UTC()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Add(context.Background(), schemas.Tool{
		ID:          "fetch_data",
		Code:        "def fetch_data(): pass",
		Description: "Fetch the data",
		CreatedAt:   created,
	})
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresGetCode(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		repo, mockPool := newPostgresRepo(t)
		mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT code FROM tools WHERE id = $1`)).
			WithArgs("fetch_data").
			WillReturnRows(pgxmock.NewRows([]string{"code"}).AddRow("def fetch_data(): pass"))

		code, err := repo.GetCode(context.Background(), "fetch_data")
		require.NoError(t, err)
		assert.Equal(t, "def fetch_data(): pass", code)
	})

	t.Run("missing maps to ErrToolNotFound", func(t *testing.T) {
		repo, mockPool := newPostgresRepo(t)
		mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT code FROM tools WHERE id = $1`)).
			WithArgs("ghost").
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetCode(context.Background(), "ghost")
		assert.ErrorIs(t, err, ErrToolNotFound)
	})
}

func TestPostgresGetDescription(t *testing.T) {
	repo, mockPool := newPostgresRepo(t)
	mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT description FROM tools WHERE id = $1`)).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetDescription(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestPostgresSimilaritySearch(t *testing.T) {
	t.Run("returns ranked ids", func(t *testing.T) {
		repo, mockPool := newPostgresRepo(t)
		mockPool.ExpectQuery("SELECT id").
			WithArgs("parse csv files", 5).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).
				AddRow("parse_csv").
				AddRow("read_files"))

		ids, err := repo.SimilaritySearch(context.Background(), "parse csv files", 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"parse_csv", "read_files"}, ids)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("non-positive k short-circuits", func(t *testing.T) {
		repo, mockPool := newPostgresRepo(t)
		ids, err := repo.SimilaritySearch(context.Background(), "anything", 0)
		require.NoError(t, err)
		assert.Nil(t, ids)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("query failure", func(t *testing.T) {
		repo, mockPool := newPostgresRepo(t)
		mockPool.ExpectQuery("SELECT id").
			WithArgs("anything", 3).
			WillReturnError(errors.New("connection reset"))

		_, err := repo.SimilaritySearch(context.Background(), "anything", 3)
		assert.Error(t, err)
	})
}
