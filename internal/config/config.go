package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// Global configuration instance
	globalConfig *Config
	configMutex  sync.RWMutex
)

// Get returns the global configuration instance
// If the configuration has not been initialized, it will return an error
func Get() (*Config, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}

	return globalConfig, nil
}

// Set sets the global configuration instance
func Set(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()

	globalConfig = cfg
}

// Transport modes for reaching the remote plan store
const (
	RemoteModeDirect = "direct"
	RemoteModeProxy  = "proxy"
)

// Config represents the complete application configuration
type Config struct {
	Database DatabaseConfig
	Logging  LoggingConfig
	Remote   RemoteConfig
	Sync     SyncConfig
	Server   ServerConfig
	Backup   BackupConfig

	configDir string
}

// DatabaseConfig represents the local SQLite store configuration
type DatabaseConfig struct {
	Path            string        // Path to the SQLite database file
	JournalMode     string        // Journal mode (WAL recommended)
	SynchronousMode string        // Synchronous mode
	BusyTimeout     int           // Busy timeout in milliseconds
	ForeignKeys     bool          // Whether to enforce foreign key constraints
	ConnMaxLife     time.Duration // Maximum connection lifetime
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string // debug, info, warn, error, none
	Format     string // text or json
	Output     string // stdout, stderr, or file path
	AddSource  bool
	TimeFormat string
	MaxSizeMB  int // rotation threshold for file output
	MaxBackups int
	MaxAgeDays int
}

// RemoteConfig describes how the client reaches the shared plan store
type RemoteConfig struct {
	Mode              string        // direct or proxy
	DSN               string        // Postgres DSN, direct mode and server side
	URL               string        // Query proxy base URL, proxy mode
	Token             string        // Bearer token presented to the proxy
	Timeout           time.Duration // Per request timeout
	RequestsPerMinute int           // Client side pacing, 0 disables
	NetworkRetries    int           // Proxy transport retries for connection failures
	MaxOpenConns      int
}

// SyncConfig tunes the synchronization engine
type SyncConfig struct {
	BatchSize         int
	BatchTimeout      time.Duration // 0 means no per batch deadline
	DebounceDelay     time.Duration
	MaxRetries        int
	BaseDelay         time.Duration
	Jitter            float64 // randomization factor for upload retries, 0 disables
	MigrationCooldown time.Duration
	DeviceName        string
}

// ServerConfig configures the authenticated query proxy
type ServerConfig struct {
	Addr              string
	JWTSecret         string
	TokenTTL          time.Duration
	StrictScoping     bool // reject queries without a user_id filter instead of warning
	RequestsPerMinute int
	BurstLimit        int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// BackupConfig configures remote store exports
type BackupConfig struct {
	Dir        string
	S3Bucket   string
	S3Prefix   string
	S3Region   string
	S3Endpoint string // custom endpoint, e.g. MinIO
	// Static credentials; empty uses the default AWS credential chain
	S3AccessKey string
	S3SecretKey string
}

// New returns a new empty Config
func New() *Config {
	return &Config{}
}

// ConfigDir returns the directory the configuration was loaded from
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.validateRemote(); err != nil {
		return fmt.Errorf("remote config: %w", err)
	}

	if err := c.validateSync(); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}

	return nil
}

// ValidateServer checks the settings needed to run the query proxy
func (c *Config) ValidateServer() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if len(c.Server.JWTSecret) < 32 {
		return fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	if c.Remote.DSN == "" {
		return fmt.Errorf("remote DSN is required to serve queries")
	}
	if c.Server.RequestsPerMinute < 0 || c.Server.BurstLimit < 0 {
		return fmt.Errorf("rate limits cannot be negative")
	}
	return nil
}

// ParseLogLevel parses a log level string to a slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none":
		return slog.Level(9999)
	default:
		return slog.LevelInfo
	}
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Database.Path != ":memory:" {
		dir := filepath.Dir(c.Database.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for database: %w", err)
		}
	}

	if c.Database.BusyTimeout <= 0 {
		return fmt.Errorf("busy timeout must be positive")
	}

	if c.Database.ConnMaxLife <= 0 {
		return fmt.Errorf("connection max life must be positive")
	}

	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error", "none":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	format := strings.ToLower(c.Logging.Format)
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

func (c *Config) validateRemote() error {
	switch c.Remote.Mode {
	case RemoteModeDirect:
		if c.Remote.DSN == "" {
			return fmt.Errorf("DSN is required in direct mode")
		}
	case RemoteModeProxy:
		if c.Remote.URL == "" {
			return fmt.Errorf("URL is required in proxy mode")
		}
		if _, err := url.ParseRequestURI(c.Remote.URL); err != nil {
			return fmt.Errorf("invalid URL %q: %w", c.Remote.URL, err)
		}
	default:
		return fmt.Errorf("invalid mode: %q (must be %s or %s)", c.Remote.Mode, RemoteModeDirect, RemoteModeProxy)
	}

	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.Remote.RequestsPerMinute < 0 {
		return fmt.Errorf("requests per minute cannot be negative")
	}

	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}

	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}

	if c.Sync.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive")
	}

	if c.Sync.DebounceDelay <= 0 {
		return fmt.Errorf("debounce delay must be positive")
	}

	if c.Sync.BatchTimeout < 0 {
		return fmt.Errorf("batch timeout cannot be negative")
	}

	if c.Sync.Jitter < 0 || c.Sync.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1)")
	}

	return nil
}

// getEnvString returns a string from the environment variable
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns an int from the environment variable
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool returns a bool from the environment variable
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration returns a time.Duration from the environment variable
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvFloat returns a float64 from the environment variable
func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getTimeFormat converts a named time format to its actual format string
func getTimeFormat(name string) string {
	switch name {
	case "RFC3339":
		return time.RFC3339
	case "RFC3339Nano":
		return time.RFC3339Nano
	case "Kitchen":
		return time.Kitchen
	case "DateTime":
		return time.DateTime
	case "DateTimeMS":
		return "2006-01-02 15:04:05.000"
	default:
		return name
	}
}
