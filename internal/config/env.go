package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goombaio/namegenerator"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by budgetsync
const EnvPrefix = "BUDGETSYNC_"

// DefaultConfigDir returns ~/.budgetsync
func DefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".budgetsync"), nil
}

// LoadFromEnv loads configuration from environment variables.
// configDir defaults to ~/.budgetsync and configFilePath to configDir/.env.
// BUDGETSYNC_ENV_FILE overrides both.
func LoadFromEnv(configDir string, configFilePath string) (*Config, error) {
	cfg, err := loadFromEnv(configDir, configFilePath)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func loadFromEnv(configDir string, configFilePath string) (*Config, error) {
	cfg := New()

	if configDir == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		configDir = dir
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	cfg.configDir = configDir

	if configFilePath == "" {
		configFilePath = filepath.Join(configDir, ".env")
	}

	if envFilePath := env("ENV_FILE", ""); envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			return nil, fmt.Errorf("failed to load env file from %s: %w", envFilePath, err)
		}
	} else if err := godotenv.Load(configFilePath); err != nil {
		_ = godotenv.Load() // fall back to ./.env, a missing file is fine
	}

	cfg.Database = DatabaseConfig{
		Path:            env("DB_PATH", filepath.Join(configDir, "budgetsync.db")),
		BusyTimeout:     getEnvInt(EnvPrefix+"DB_BUSY_TIMEOUT", 5000),
		JournalMode:     env("DB_JOURNAL_MODE", "WAL"),
		SynchronousMode: env("DB_SYNCHRONOUS_MODE", "NORMAL"),
		ForeignKeys:     getEnvBool(EnvPrefix+"DB_FOREIGN_KEYS", true),
		ConnMaxLife:     getEnvDuration(EnvPrefix+"DB_CONN_MAX_LIFE", 5*time.Minute),
	}

	cfg.Logging = LoggingConfig{
		Level:      env("LOG_LEVEL", "info"),
		Format:     env("LOG_FORMAT", "text"),
		Output:     env("LOG_OUTPUT", filepath.Join(configDir, "budgetsync.log")),
		AddSource:  getEnvBool(EnvPrefix+"LOG_ADD_SOURCE", false),
		TimeFormat: getTimeFormat(env("LOG_TIME_FORMAT", "RFC3339")),
		MaxSizeMB:  getEnvInt(EnvPrefix+"LOG_MAX_SIZE_MB", 10),
		MaxBackups: getEnvInt(EnvPrefix+"LOG_MAX_BACKUPS", 3),
		MaxAgeDays: getEnvInt(EnvPrefix+"LOG_MAX_AGE_DAYS", 28),
	}

	cfg.Remote = RemoteConfig{
		Mode:              strings.ToLower(env("REMOTE_MODE", RemoteModeProxy)),
		DSN:               env("REMOTE_DSN", ""),
		URL:               env("REMOTE_URL", "http://localhost:8080"),
		Token:             env("REMOTE_TOKEN", ""),
		Timeout:           getEnvDuration(EnvPrefix+"REMOTE_TIMEOUT", 15*time.Second),
		RequestsPerMinute: getEnvInt(EnvPrefix+"REMOTE_REQUESTS_PER_MINUTE", 0),
		NetworkRetries:    getEnvInt(EnvPrefix+"REMOTE_NETWORK_RETRIES", 0),
		MaxOpenConns:      getEnvInt(EnvPrefix+"REMOTE_MAX_OPEN_CONNS", 10),
	}

	cfg.Sync = SyncConfig{
		BatchSize:         getEnvInt(EnvPrefix+"SYNC_BATCH_SIZE", 5),
		BatchTimeout:      getEnvDuration(EnvPrefix+"SYNC_BATCH_TIMEOUT", 0),
		DebounceDelay:     getEnvDuration(EnvPrefix+"SYNC_DEBOUNCE", 500*time.Millisecond),
		MaxRetries:        getEnvInt(EnvPrefix+"SYNC_MAX_RETRIES", 3),
		BaseDelay:         getEnvDuration(EnvPrefix+"SYNC_BASE_DELAY", time.Second),
		Jitter:            getEnvFloat(EnvPrefix+"SYNC_JITTER", 0),
		MigrationCooldown: getEnvDuration(EnvPrefix+"SYNC_MIGRATION_COOLDOWN", 7*24*time.Hour),
		DeviceName:        env("SYNC_DEVICE_NAME", ""),
	}
	if cfg.Sync.DeviceName == "" {
		cfg.Sync.DeviceName = generateDeviceName()
	}

	cfg.Server = ServerConfig{
		Addr:              env("SERVER_ADDR", ":8080"),
		JWTSecret:         env("SERVER_JWT_SECRET", ""),
		TokenTTL:          getEnvDuration(EnvPrefix+"SERVER_TOKEN_TTL", 30*24*time.Hour),
		StrictScoping:     getEnvBool(EnvPrefix+"SERVER_STRICT_SCOPING", false),
		RequestsPerMinute: getEnvInt(EnvPrefix+"SERVER_REQUESTS_PER_MINUTE", 120),
		BurstLimit:        getEnvInt(EnvPrefix+"SERVER_BURST_LIMIT", 20),
		ReadTimeout:       getEnvDuration(EnvPrefix+"SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:      getEnvDuration(EnvPrefix+"SERVER_WRITE_TIMEOUT", 30*time.Second),
	}

	cfg.Backup = BackupConfig{
		Dir:        env("BACKUP_DIR", filepath.Join(configDir, "backups")),
		S3Bucket:   env("BACKUP_S3_BUCKET", ""),
		S3Prefix:   env("BACKUP_S3_PREFIX", "budgetsync/"),
		S3Region:   env("BACKUP_S3_REGION", "us-east-1"),
		S3Endpoint: env("BACKUP_S3_ENDPOINT", ""),

		S3AccessKey: env("BACKUP_S3_ACCESS_KEY", ""),
		S3SecretKey: env("BACKUP_S3_SECRET_KEY", ""),
	}

	return cfg, nil
}

// env reads a prefixed string variable
func env(name, defaultValue string) string {
	return getEnvString(EnvPrefix+name, defaultValue)
}

// generateDeviceName returns a memorable name like "silent-river"
func generateDeviceName() string {
	gen := namegenerator.NewNameGenerator(time.Now().UTC().UnixNano())
	return strings.ReplaceAll(gen.Generate(), "_", "-")
}
