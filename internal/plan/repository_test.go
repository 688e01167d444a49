package plan

import (
	"context"
	"database/sql"
	"encoding/json"
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

func samplePlan() *Plan {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	p := New("2026-03", now)
	p.ID = "plan-01HSAMPLE"
	p.Incomes = []LineItem{{ID: "item-1", Label: "Salary", Amount: 250000}}
	return p
}

func planRow(p *Plan) *sqlmock.Rows {
	data, _ := json.Marshal(p.Payload())
	return sqlmock.NewRows(planColumns).
		AddRow(p.ID, p.Name, p.Month, string(data), p.Syncable, p.CreatedAt, p.UpdatedAt)
}

func TestPlanRepository(t *testing.T) {
	ctx := context.Background()
	sample := samplePlan()

	t.Run("Get", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		mock.ExpectQuery("SELECT .+ FROM plans WHERE id = ?").
			WithArgs(sample.ID).
			WillReturnRows(planRow(sample))

		got, err := repo.Get(ctx, sample.ID)
		require.NoError(t, err)
		assert.Equal(t, sample, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Get not found", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		mock.ExpectQuery("SELECT .+ FROM plans WHERE id = ?").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrPlanNotFound)
	})

	t.Run("List", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		demo := NewDemo(sample.CreatedAt)
		demo.ID = "plan-01HDEMO"

		rows := planRow(sample)
		data, _ := json.Marshal(demo.Payload())
		rows.AddRow(demo.ID, demo.Name, demo.Month, string(data), demo.Syncable, demo.CreatedAt, demo.UpdatedAt)

		mock.ExpectQuery("SELECT .+ FROM plans ORDER BY created_at ASC, id ASC").
			WillReturnRows(rows)

		plans, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, plans, 2)
		assert.Equal(t, sample.ID, plans[0].ID)
		assert.False(t, plans[1].Syncable)
		assert.Len(t, plans[1].Expenses, 2)
	})

	t.Run("Save upserts", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		data, _ := json.Marshal(sample.Payload())
		mock.ExpectExec("INSERT INTO plans .+ ON CONFLICT\\(id\\) DO UPDATE").
			WithArgs(sample.ID, sample.Name, sample.Month, string(data), true, sample.CreatedAt, sample.UpdatedAt).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, repo.Save(ctx, sample))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Save rejects invalid plans", func(t *testing.T) {
		repo, _ := newTestRepository(t)
		invalid := sample.Clone()
		invalid.Name = ""

		assert.Error(t, repo.Save(ctx, invalid))
	})

	t.Run("Delete", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		mock.ExpectExec("DELETE FROM plans WHERE id = ?").
			WithArgs(sample.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Delete(ctx, sample.ID))
	})

	t.Run("Delete unknown", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		mock.ExpectExec("DELETE FROM plans WHERE id = ?").
			WithArgs("missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.Delete(ctx, "missing"), ErrPlanNotFound)
	})

	t.Run("ReplaceAll runs in one transaction", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM plans").WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec("INSERT INTO plans").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.ReplaceAll(ctx, []*Plan{sample}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ReplaceAll rolls back on failure", func(t *testing.T) {
		repo, mock := newTestRepository(t)
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM plans").WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec("INSERT INTO plans").WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		err := repo.ReplaceAll(ctx, []*Plan{sample})
		assert.ErrorIs(t, err, sql.ErrConnDone)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
