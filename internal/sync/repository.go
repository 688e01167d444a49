package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/ulid"
)

var syncLogColumns = []string{
	"id", "user_id", "device_name", "strategy", "started_at", "completed_at", "success",
	"items_synced", "conflicts", "failed", "downloaded", "error_type", "error_message",
}

// Repository defines operations for managing sync logs in the database
type Repository interface {
	// CreateSyncLog creates a new sync log
	CreateSyncLog(ctx context.Context, log *SyncLog) error

	// GetSyncLogs retrieves the most recent sync logs of a user
	GetSyncLogs(ctx context.Context, userID string, limit int) ([]*SyncLog, error)

	// GetLatestSyncLog retrieves the latest sync log of a user, nil when none
	GetLatestSyncLog(ctx context.Context, userID string) (*SyncLog, error)
}

// SQLRepository implements the Repository interface using a SQL database
type SQLRepository struct {
	db     *sql.DB
	logger *loggy.Logger
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:     db,
		logger: logger,
	}
}

// CreateSyncLog creates a new sync log
func (r *SQLRepository) CreateSyncLog(ctx context.Context, log *SyncLog) error {
	if log.ID == "" {
		log.ID = ulid.SyncLogID()
	}

	q := squirrel.Insert("sync_logs").
		Columns(syncLogColumns...).
		Values(log.ID, log.UserID, log.DeviceName, string(log.Strategy), log.StartedAt, log.CompletedAt, log.Success,
			log.ItemsSynced, log.Conflicts, log.Failed, log.Downloaded, string(log.ErrorType), log.ErrorMessage)

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building create sync log query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing create sync log query: %w", err)
	}

	r.logger.Debug("Recorded sync log", "id", log.ID, "strategy", log.Strategy, "success", log.Success)
	return nil
}

// GetSyncLogs retrieves the most recent sync logs of a user
func (r *SQLRepository) GetSyncLogs(ctx context.Context, userID string, limit int) ([]*SyncLog, error) {
	q := squirrel.Select(syncLogColumns...).
		From("sync_logs").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("started_at DESC")

	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get sync logs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get sync logs query: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync log row: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync log rows: %w", err)
	}

	return logs, nil
}

// GetLatestSyncLog retrieves the latest sync log of a user
func (r *SQLRepository) GetLatestSyncLog(ctx context.Context, userID string) (*SyncLog, error) {
	query, args, err := squirrel.Select(syncLogColumns...).
		From("sync_logs").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("started_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get latest sync log query: %w", err)
	}

	log, err := scanSyncLog(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("executing get latest sync log query: %w", err)
	}

	return log, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncLog(row rowScanner) (*SyncLog, error) {
	var (
		log       SyncLog
		strategy  string
		errorType string
		completed sql.NullTime
	)
	err := row.Scan(
		&log.ID,
		&log.UserID,
		&log.DeviceName,
		&strategy,
		&log.StartedAt,
		&completed,
		&log.Success,
		&log.ItemsSynced,
		&log.Conflicts,
		&log.Failed,
		&log.Downloaded,
		&errorType,
		&log.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	log.Strategy = Strategy(strategy)
	log.ErrorType = ErrorType(errorType)
	if completed.Valid {
		log.CompletedAt = completed.Time
	}
	return &log, nil
}
