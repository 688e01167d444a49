package config

import (
	"context"
	"database/sql"

	"github.com/tildaslashalef/budgetsync/internal/loggy"
)

// SettingsService keeps persisted settings and the live Config in step
type SettingsService struct {
	repo   SettingsRepository
	config *Config
	logger *loggy.Logger
}

// NewSettingsService creates a new settings service
func NewSettingsService(db *sql.DB, config *Config, logger *loggy.Logger) *SettingsService {
	return NewSettingsServiceWithRepository(NewSQLSettingsRepository(db, logger), config, logger)
}

// NewSettingsServiceWithRepository creates a settings service on top of repo
func NewSettingsServiceWithRepository(repo SettingsRepository, config *Config, logger *loggy.Logger) *SettingsService {
	return &SettingsService{
		repo:   repo,
		config: config,
		logger: logger,
	}
}

// GetSetting retrieves a setting by key
func (s *SettingsService) GetSetting(ctx context.Context, key string) (string, error) {
	return s.repo.GetSetting(ctx, key)
}

// SetSetting sets a setting value
func (s *SettingsService) SetSetting(ctx context.Context, key, value string) error {
	return s.repo.SetSetting(ctx, key, value)
}

// DeleteSetting deletes a setting
func (s *SettingsService) DeleteSetting(ctx context.Context, key string) error {
	return s.repo.DeleteSetting(ctx, key)
}

// Load overlays the stored settings on the Config
func (s *SettingsService) Load(ctx context.Context) error {
	return ApplyStoredSettings(ctx, s.config, s.repo)
}

// SetToken stores the session token. It is obfuscated at rest.
func (s *SettingsService) SetToken(ctx context.Context, token string) error {
	if err := s.repo.SetSetting(ctx, KeyRemoteToken, token); err != nil {
		return err
	}
	s.config.Remote.Token = token
	return nil
}

// ClearToken forgets the session token
func (s *SettingsService) ClearToken(ctx context.Context) error {
	if err := s.repo.DeleteSetting(ctx, KeyRemoteToken); err != nil {
		return err
	}
	s.config.Remote.Token = ""
	return nil
}

// SetRemoteURL sets the query proxy URL
func (s *SettingsService) SetRemoteURL(ctx context.Context, url string) error {
	if err := s.repo.SetSetting(ctx, KeyRemoteURL, url); err != nil {
		return err
	}
	s.config.Remote.URL = url
	return nil
}

// SetDeviceName sets the name recorded in sync logs
func (s *SettingsService) SetDeviceName(ctx context.Context, name string) error {
	if err := s.repo.SetSetting(ctx, KeyDeviceName, name); err != nil {
		return err
	}
	s.config.Sync.DeviceName = name
	return nil
}

// ResetMigration clears both migration markers so the prompt shows again
func (s *SettingsService) ResetMigration(ctx context.Context) error {
	if err := s.repo.DeleteSetting(ctx, KeyMigrationCompleted); err != nil {
		return err
	}
	return s.repo.DeleteSetting(ctx, KeyMigrationDeclined)
}
