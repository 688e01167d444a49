package sync

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
)

func newTestRepository(t *testing.T) (*SQLRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "Failed to create mock database")
	t.Cleanup(func() { db.Close() })

	return NewSQLRepository(db, loggy.NewNoopLogger()), mock
}

func sampleSyncLog() *SyncLog {
	started := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	return &SyncLog{
		ID:           "sync-01HSAMPLE",
		UserID:       testUser,
		DeviceName:   "laptop",
		Strategy:     StrategyMerge,
		StartedAt:    started,
		CompletedAt:  started.Add(2 * time.Second),
		Success:      false,
		ItemsSynced:  4,
		Conflicts:    1,
		Failed:       1,
		Downloaded:   2,
		ErrorType:    ErrorTypeNetwork,
		ErrorMessage: "connection refused",
	}
}

func syncLogRows(logs ...*SyncLog) *sqlmock.Rows {
	rows := sqlmock.NewRows(syncLogColumns)
	for _, l := range logs {
		rows.AddRow(l.ID, l.UserID, l.DeviceName, string(l.Strategy), l.StartedAt, l.CompletedAt, l.Success,
			l.ItemsSynced, l.Conflicts, l.Failed, l.Downloaded, string(l.ErrorType), l.ErrorMessage)
	}
	return rows
}

func TestSyncLogRepository(t *testing.T) {
	ctx := context.Background()
	sample := sampleSyncLog()

	t.Run("CreateSyncLog", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		mock.ExpectExec("INSERT INTO sync_logs").
			WithArgs(sample.ID, sample.UserID, sample.DeviceName, "merge", sample.StartedAt, sample.CompletedAt, false,
				4, 1, 1, 2, "network", "connection refused").
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, repo.CreateSyncLog(ctx, sample))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CreateSyncLog assigns an id", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		entry := sampleSyncLog()
		entry.ID = ""
		mock.ExpectExec("INSERT INTO sync_logs").WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, repo.CreateSyncLog(ctx, entry))
		assert.NotEmpty(t, entry.ID)
	})

	t.Run("GetSyncLogs", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		older := sampleSyncLog()
		older.ID = "sync-01HOLDER"
		older.StartedAt = sample.StartedAt.Add(-time.Hour)

		mock.ExpectQuery(`SELECT .+ FROM sync_logs WHERE user_id = \? ORDER BY started_at DESC LIMIT 10`).
			WithArgs(testUser).
			WillReturnRows(syncLogRows(sample, older))

		logs, err := repo.GetSyncLogs(ctx, testUser, 10)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, sample, logs[0])
		assert.Equal(t, "sync-01HOLDER", logs[1].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetLatestSyncLog", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		mock.ExpectQuery(`SELECT .+ FROM sync_logs WHERE user_id = \? ORDER BY started_at DESC LIMIT 1`).
			WithArgs(testUser).
			WillReturnRows(syncLogRows(sample))

		got, err := repo.GetLatestSyncLog(ctx, testUser)
		require.NoError(t, err)
		assert.Equal(t, sample, got)
	})

	t.Run("GetLatestSyncLog none", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		mock.ExpectQuery("SELECT .+ FROM sync_logs").
			WithArgs(testUser).
			WillReturnError(sql.ErrNoRows)

		got, err := repo.GetLatestSyncLog(ctx, testUser)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}
