package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMigrations(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "versions are sequential")
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.SQL)
		assert.NotEmpty(t, m.Down)
	}
}

func TestRunMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS rbac_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM rbac_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1).AddRow(2))

	for _, m := range GetMigrations()[2:] {
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO rbac_migrations").
			WithArgs(m.Version, m.Description).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	require.NoError(t, RunMigrations(context.Background(), db, testLogger()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_AllApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"version"})
	for _, m := range GetMigrations() {
		rows.AddRow(m.Version)
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS rbac_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM rbac_migrations").WillReturnRows(rows)

	require.NoError(t, RunMigrations(context.Background(), db, testLogger()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_Failures(t *testing.T) {
	boom := errors.New("boom")

	t.Run("migrations table", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS rbac_migrations").WillReturnError(boom)

		err = RunMigrations(context.Background(), db, testLogger())
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "failed to create migrations table")
	})

	t.Run("migration body rolls back", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS rbac_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT version FROM rbac_migrations").WillReturnRows(sqlmock.NewRows([]string{"version"}))
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnError(boom)
		mock.ExpectRollback()

		err = RunMigrations(context.Background(), db, testLogger())
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "failed to execute migration 1")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("record rolls back", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS rbac_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT version FROM rbac_migrations").WillReturnRows(sqlmock.NewRows([]string{"version"}))
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO rbac_migrations").WillReturnError(boom)
		mock.ExpectRollback()

		err = RunMigrations(context.Background(), db, testLogger())
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "failed to record migration 1")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRollbackMigration(t *testing.T) {
	t.Run("reverts and unrecords", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("DROP TABLE IF EXISTS team_members").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM rbac_migrations WHERE version").
			WithArgs(4).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, RollbackMigration(context.Background(), db, 4))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown version", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		err = RollbackMigration(context.Background(), db, 99)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown migration version 99")
	})
}
