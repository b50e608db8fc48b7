package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/navigator-auth/repositories"
)

const keyQueryPattern = `SELECT name, partner, enabled, revoked, grants, programs FROM auth\.partner_keys`

func newMockRepo(t *testing.T) (repositories.APIKeyRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAPIKeyRepository(Wrap(db, zap.NewNop()), zap.NewNop()), mock
}

func TestAPIKeyRepository_FindActive(t *testing.T) {
	t.Run("returns matching key", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(keyQueryPattern).
			WithArgs("reporting", "acme", "walmart").
			WillReturnRows(sqlmock.NewRows([]string{"name", "partner", "enabled", "revoked", "grants", "programs"}).
				AddRow("reporting", "acme", true, false, "{read,export}", "{walmart,target}"))

		rec, err := repo.FindActive(context.Background(), "reporting", "acme", "walmart")

		require.NoError(t, err)
		assert.Equal(t, "reporting", rec.Name)
		assert.Equal(t, "acme", rec.Partner)
		assert.Equal(t, []string{"read", "export"}, rec.Grants)
		assert.Equal(t, []string{"walmart", "target"}, rec.Programs)
		assert.True(t, rec.UsableFor("walmart"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no match", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(keyQueryPattern).
			WithArgs("reporting", "acme", "costco").
			WillReturnError(sql.ErrNoRows)

		rec, err := repo.FindActive(context.Background(), "reporting", "acme", "costco")

		assert.Nil(t, rec)
		assert.True(t, errors.Is(err, repositories.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(keyQueryPattern).WillReturnError(sql.ErrConnDone)

		_, err := repo.FindActive(context.Background(), "reporting", "acme", "walmart")

		require.Error(t, err)
		assert.False(t, errors.Is(err, repositories.ErrNotFound))
		assert.True(t, errors.Is(err, sql.ErrConnDone))
	})
}

func TestDBHealthCheck(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	db := Wrap(sqlDB, zap.NewNop())
	assert.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
