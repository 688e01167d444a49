package config

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/ulid"
)

// Setting keys persisted in the local settings table
const (
	KeyRemoteToken        = "remote.token"
	KeyRemoteURL          = "remote.url"
	KeyDeviceName         = "sync.device_name"
	KeyMigrationCompleted = "migration.completed"
	KeyMigrationDeclined  = "migration.declined_at"
)

// SettingsRepository defines operations for managing settings in the database
type SettingsRepository interface {
	// GetSetting retrieves a setting by key, empty when absent
	GetSetting(ctx context.Context, key string) (string, error)

	// GetSettings retrieves multiple settings by prefix
	GetSettings(ctx context.Context, prefix string) (map[string]string, error)

	// SetSetting inserts or replaces a setting value
	SetSetting(ctx context.Context, key, value string) error

	// DeleteSetting deletes a setting
	DeleteSetting(ctx context.Context, key string) error
}

// SQLSettingsRepository implements SettingsRepository using a SQL database
type SQLSettingsRepository struct {
	db     *sql.DB
	logger *loggy.Logger
	now    func() time.Time
}

// NewSQLSettingsRepository creates a new SQL settings repository
func NewSQLSettingsRepository(db *sql.DB, logger *loggy.Logger) *SQLSettingsRepository {
	return &SQLSettingsRepository{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetSetting retrieves a setting by key
func (r *SQLSettingsRepository) GetSetting(ctx context.Context, key string) (string, error) {
	query, args, err := squirrel.Select("value").
		From("settings").
		Where(squirrel.Eq{"key": key}).
		Limit(1).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("building get setting query: %w", err)
	}

	var value string
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("executing get setting query: %w", err)
	}

	if isSecret(key) {
		return deobfuscate(value)
	}
	return value, nil
}

// GetSettings retrieves multiple settings by prefix
func (r *SQLSettingsRepository) GetSettings(ctx context.Context, prefix string) (map[string]string, error) {
	query, args, err := squirrel.Select("key", "value").
		From("settings").
		Where(squirrel.Like{"key": prefix + "%"}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get settings query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get settings query: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning setting row: %w", err)
		}

		if isSecret(key) {
			if value, err = deobfuscate(value); err != nil {
				r.logger.Warn("Skipping unreadable secret setting", "key", key, "error", err)
				continue
			}
		}
		settings[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating setting rows: %w", err)
	}

	return settings, nil
}

// SetSetting inserts or replaces a setting value
func (r *SQLSettingsRepository) SetSetting(ctx context.Context, key, value string) error {
	stored := value
	if isSecret(key) && value != "" {
		stored = obfuscate(value)
	}

	now := r.now()
	query, args, err := squirrel.Insert("settings").
		Columns("id", "key", "value", "created_at", "updated_at").
		Values(ulid.SettingID(), key, stored, now, now).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building upsert setting query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing upsert setting query: %w", err)
	}

	return nil
}

// DeleteSetting deletes a setting
func (r *SQLSettingsRepository) DeleteSetting(ctx context.Context, key string) error {
	query, args, err := squirrel.Delete("settings").
		Where(squirrel.Eq{"key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete setting query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete setting query: %w", err)
	}

	return nil
}

// ApplyStoredSettings overlays persisted remote settings on cfg. Environment
// values win over stored ones.
func ApplyStoredSettings(ctx context.Context, cfg *Config, repo SettingsRepository) error {
	settings, err := repo.GetSettings(ctx, "")
	if err != nil {
		return fmt.Errorf("loading stored settings: %w", err)
	}

	if token := settings[KeyRemoteToken]; token != "" && cfg.Remote.Token == "" {
		cfg.Remote.Token = token
	}
	if u := settings[KeyRemoteURL]; u != "" && getEnvString(EnvPrefix+"REMOTE_URL", "") == "" {
		cfg.Remote.URL = u
	}
	if name := settings[KeyDeviceName]; name != "" && getEnvString(EnvPrefix+"SYNC_DEVICE_NAME", "") == "" {
		cfg.Sync.DeviceName = name
	}

	return nil
}

func isSecret(key string) bool {
	return key == KeyRemoteToken
}

// Tokens at rest are obfuscated, not encrypted. The marker keeps plain legacy values readable.
const obfuscatedMarker = "OBFS:"

func obfuscate(token string) string {
	return obfuscatedMarker + base64.StdEncoding.EncodeToString([]byte(reverse(token)))
}

func deobfuscate(stored string) (string, error) {
	encoded, ok := strings.CutPrefix(stored, obfuscatedMarker)
	if !ok {
		return stored, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding obfuscated token: %w", err)
	}
	return reverse(string(decoded)), nil
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
