package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/budgetsync/internal/config"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/plan"
)

type memSettings map[string]string

func (m memSettings) GetSetting(_ context.Context, key string) (string, error) {
	return m[key], nil
}

func (m memSettings) SetSetting(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func newTestMigrator(store *memRemote, settings memSettings, now time.Time) *Migrator {
	engine, _ := newTestEngine(store)
	m := NewMigrator(engine, settings, 0, loggy.NewNoopLogger())
	m.now = func() time.Time { return now }
	return m
}

func TestMigratorShouldPrompt(t *testing.T) {
	ctx := context.Background()
	now := base.Add(30 * 24 * time.Hour)
	local := []*plan.Plan{newPlan("mine", 0), plan.NewDemo(base)}

	tests := []struct {
		name     string
		settings memSettings
		plans    []*plan.Plan
		want     bool
	}{
		{name: "local plans never migrated", settings: memSettings{}, plans: local, want: true},
		{name: "only demo content", settings: memSettings{}, plans: []*plan.Plan{plan.NewDemo(base)}, want: false},
		{name: "already migrated", settings: memSettings{config.KeyMigrationCompleted: "true"}, plans: local, want: false},
		{
			name:     "declined recently",
			settings: memSettings{config.KeyMigrationDeclined: now.Add(-48 * time.Hour).Format(time.RFC3339)},
			plans:    local,
			want:     false,
		},
		{
			name:     "cooldown elapsed",
			settings: memSettings{config.KeyMigrationDeclined: now.Add(-8 * 24 * time.Hour).Format(time.RFC3339)},
			plans:    local,
			want:     true,
		},
		{
			name:     "unreadable decline time",
			settings: memSettings{config.KeyMigrationDeclined: "yesterday"},
			plans:    local,
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMigrator(newMemRemote(), tt.settings, now)

			got, err := m.ShouldPrompt(ctx, tt.plans)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMigratorAccept(t *testing.T) {
	ctx := context.Background()

	t.Run("uploads and records completion", func(t *testing.T) {
		store := newMemRemote()
		settings := memSettings{}
		m := newTestMigrator(store, settings, base)
		mine := newPlan("mine", 0)

		res, err := m.Accept(ctx, testUser, []*plan.Plan{mine, plan.NewDemo(base)})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Synced)
		assert.True(t, store.has(mine.ID))
		assert.Equal(t, "true", settings[config.KeyMigrationCompleted])
	})

	t.Run("partial failure prompts again later", func(t *testing.T) {
		store := newMemRemote()
		settings := memSettings{}
		m := newTestMigrator(store, settings, base)
		ok, broken := newPlan("ok", 0), newPlan("broken", 0)
		store.fetchErr[broken.ID] = networkErr()

		res, err := m.Accept(ctx, testUser, []*plan.Plan{ok, broken})
		require.Error(t, err)
		assert.Equal(t, 1, res.Failed)
		assert.Empty(t, settings[config.KeyMigrationCompleted])

		prompt, err := m.ShouldPrompt(ctx, []*plan.Plan{ok, broken})
		require.NoError(t, err)
		assert.True(t, prompt)
	})
}

func TestMigratorDecline(t *testing.T) {
	settings := memSettings{}
	now := time.Date(2026, 5, 3, 12, 0, 0, 0, time.UTC)
	m := newTestMigrator(newMemRemote(), settings, now)

	require.NoError(t, m.Decline(context.Background()))
	assert.Equal(t, "2026-05-03T12:00:00Z", settings[config.KeyMigrationDeclined])

	prompt, err := m.ShouldPrompt(context.Background(), []*plan.Plan{newPlan("mine", 0)})
	require.NoError(t, err)
	assert.False(t, prompt)
}
