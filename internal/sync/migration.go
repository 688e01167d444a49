package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/tildaslashalef/budgetsync/internal/config"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/plan"
)

// DefaultMigrationCooldown is how long a declined migration stays quiet
const DefaultMigrationCooldown = 7 * 24 * time.Hour

// Settings is the key value store the migrator keeps its flags in.
// config.SQLSettingsRepository implements it.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Migrator offers to upload plans created before the user signed in
type Migrator struct {
	engine   *Engine
	settings Settings
	cooldown time.Duration
	logger   *loggy.Logger
	now      func() time.Time
}

// NewMigrator creates a migrator. A zero cooldown uses the default.
func NewMigrator(engine *Engine, settings Settings, cooldown time.Duration, logger *loggy.Logger) *Migrator {
	if cooldown <= 0 {
		cooldown = DefaultMigrationCooldown
	}
	return &Migrator{
		engine:   engine,
		settings: settings,
		cooldown: cooldown,
		logger:   logger,
		now:      time.Now,
	}
}

// ShouldPrompt reports whether the user should be offered the upload:
// there are syncable local plans, the migration has not completed and it
// was not declined within the cooldown
func (m *Migrator) ShouldPrompt(ctx context.Context, plans []*plan.Plan) (bool, error) {
	completed, err := m.settings.GetSetting(ctx, config.KeyMigrationCompleted)
	if err != nil {
		return false, fmt.Errorf("reading migration state: %w", err)
	}
	if completed == "true" {
		return false, nil
	}

	syncable := 0
	for _, p := range plans {
		if p.Syncable {
			syncable++
		}
	}
	if syncable == 0 {
		return false, nil
	}

	declined, err := m.settings.GetSetting(ctx, config.KeyMigrationDeclined)
	if err != nil {
		return false, fmt.Errorf("reading migration state: %w", err)
	}
	if declined != "" {
		at, err := time.Parse(time.RFC3339, declined)
		if err != nil {
			m.logger.Warn("Ignoring unreadable migration decline time", "value", declined, "error", err)
			return true, nil
		}
		if m.now().Sub(at) < m.cooldown {
			return false, nil
		}
	}
	return true, nil
}

// Accept uploads every syncable plan. The migration is only marked
// completed when every upload succeeded, so a partial failure prompts again.
func (m *Migrator) Accept(ctx context.Context, userID string, plans []*plan.Plan) (BatchResult, error) {
	res := m.engine.UploadAll(ctx, userID, plans)
	if !res.Success {
		return res, fmt.Errorf("migrating local plans: %w", res.Err)
	}

	if err := m.settings.SetSetting(ctx, config.KeyMigrationCompleted, "true"); err != nil {
		return res, fmt.Errorf("recording migration: %w", err)
	}
	m.logger.Info("Local plans migrated", "uploaded", res.Synced)
	return res, nil
}

// Decline silences the prompt for the cooldown
func (m *Migrator) Decline(ctx context.Context) error {
	at := m.now().UTC().Format(time.RFC3339)
	if err := m.settings.SetSetting(ctx, config.KeyMigrationDeclined, at); err != nil {
		return fmt.Errorf("recording migration decline: %w", err)
	}
	return nil
}
