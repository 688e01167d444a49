package config

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
)

func newTestSettingsRepository(t *testing.T) (*SQLSettingsRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "Failed to create mock database")
	t.Cleanup(func() { db.Close() })

	return NewSQLSettingsRepository(db, loggy.NewNoopLogger()), mock
}

func TestSettingsRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("GetSetting missing returns empty", func(t *testing.T) {
		repo, mock := newTestSettingsRepository(t)
		mock.ExpectQuery("SELECT value FROM settings WHERE key = ?").
			WithArgs(KeyMigrationCompleted).
			WillReturnError(sql.ErrNoRows)

		value, err := repo.GetSetting(ctx, KeyMigrationCompleted)
		require.NoError(t, err)
		assert.Empty(t, value)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SetSetting obfuscates the token", func(t *testing.T) {
		repo, mock := newTestSettingsRepository(t)
		mock.ExpectExec("INSERT INTO settings .+ ON CONFLICT\\(key\\) DO UPDATE").
			WithArgs(sqlmock.AnyArg(), KeyRemoteToken, obfuscate("secret-token"), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, repo.SetSetting(ctx, KeyRemoteToken, "secret-token"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetSetting reveals the token", func(t *testing.T) {
		repo, mock := newTestSettingsRepository(t)
		mock.ExpectQuery("SELECT value FROM settings WHERE key = ?").
			WithArgs(KeyRemoteToken).
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(obfuscate("secret-token")))

		value, err := repo.GetSetting(ctx, KeyRemoteToken)
		require.NoError(t, err)
		assert.Equal(t, "secret-token", value)
	})

	t.Run("GetSettings by prefix", func(t *testing.T) {
		repo, mock := newTestSettingsRepository(t)
		mock.ExpectQuery("SELECT key, value FROM settings WHERE key LIKE ?").
			WithArgs("migration.%").
			WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
				AddRow(KeyMigrationCompleted, "true").
				AddRow(KeyMigrationDeclined, "2026-01-01T00:00:00Z"))

		settings, err := repo.GetSettings(ctx, "migration.")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			KeyMigrationCompleted: "true",
			KeyMigrationDeclined:  "2026-01-01T00:00:00Z",
		}, settings)
	})

	t.Run("DeleteSetting", func(t *testing.T) {
		repo, mock := newTestSettingsRepository(t)
		mock.ExpectExec("DELETE FROM settings WHERE key = ?").
			WithArgs(KeyRemoteToken).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.DeleteSetting(ctx, KeyRemoteToken))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestObfuscation(t *testing.T) {
	stored := obfuscate("abc.def.ghi")
	assert.NotContains(t, stored, "abc.def.ghi")

	plain, err := deobfuscate(stored)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", plain)

	plain, err = deobfuscate("legacy-plain-token")
	require.NoError(t, err)
	assert.Equal(t, "legacy-plain-token", plain)
}

type stubSettings map[string]string

func (s stubSettings) GetSetting(_ context.Context, key string) (string, error) { return s[key], nil }
func (s stubSettings) GetSettings(_ context.Context, _ string) (map[string]string, error) {
	return s, nil
}
func (s stubSettings) SetSetting(_ context.Context, key, value string) error {
	s[key] = value
	return nil
}
func (s stubSettings) DeleteSetting(_ context.Context, key string) error {
	delete(s, key)
	return nil
}

func TestApplyStoredSettings(t *testing.T) {
	cfg := New()
	cfg.Remote.URL = "http://localhost:8080"
	cfg.Sync.DeviceName = "generated"

	err := ApplyStoredSettings(context.Background(), cfg, stubSettings{
		KeyRemoteToken: "stored-token",
		KeyRemoteURL:   "https://budget.example.com",
		KeyDeviceName:  "kitchen-laptop",
	})
	require.NoError(t, err)

	assert.Equal(t, "stored-token", cfg.Remote.Token)
	assert.Equal(t, "https://budget.example.com", cfg.Remote.URL)
	assert.Equal(t, "kitchen-laptop", cfg.Sync.DeviceName)
}
