package remote

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/plan"
	"github.com/tildaslashalef/budgetsync/internal/transport"
)

// fakeAdapter records statements and answers with canned rows
type fakeAdapter struct {
	queries []transport.Query
	ctxs    []context.Context
	rows    transport.Rows
	err     error
}

func (f *fakeAdapter) Execute(ctx context.Context, q transport.Query) (transport.Rows, error) {
	f.queries = append(f.queries, q)
	f.ctxs = append(f.ctxs, ctx)
	return f.rows, f.err
}

func (f *fakeAdapter) last() transport.Query {
	return f.queries[len(f.queries)-1]
}

var (
	created = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	updated = created.Add(90 * time.Minute)
)

func TestFetchOne(t *testing.T) {
	ctx := context.Background()

	t.Run("direct adapter shapes", func(t *testing.T) {
		adapter := &fakeAdapter{rows: transport.Rows{{
			"id": "0b7f", "user_id": "user-1", "plan_id": "plan-1", "name": "March",
			"data": `{"month":"2026-03","incomes":[],"expenses":[],"envelopes":[]}`,
			"created_at": created, "updated_at": updated,
		}}}
		store := NewStore(adapter, loggy.NewNoopLogger())

		row, err := store.FetchOne(ctx, "plan-1")
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, "0b7f", row.ID)
		assert.Equal(t, updated, row.UpdatedAt)

		q := adapter.last()
		assert.Contains(t, q.SQL, "FROM monthly_plans WHERE (user_id = $1 AND plan_id = $2) LIMIT 1")
		assert.Equal(t, []any{transport.UserIDParam, "plan-1"}, q.Params)
	})

	t.Run("proxy shapes", func(t *testing.T) {
		adapter := &fakeAdapter{rows: transport.Rows{{
			"id": "0b7f", "user_id": "user-1", "plan_id": "plan-1", "name": "March",
			"data":       map[string]any{"month": "2026-03"},
			"created_at": created.Format(time.RFC3339Nano),
			"updated_at": "2026-03-01 11:00:00.123+00",
		}}}
		store := NewStore(adapter, loggy.NewNoopLogger())

		row, err := store.FetchOne(ctx, "plan-1")
		require.NoError(t, err)
		assert.Equal(t, created, row.CreatedAt)
		assert.True(t, row.UpdatedAt.Equal(updated.Add(123*time.Millisecond)))
		assert.JSONEq(t, `{"month":"2026-03"}`, row.Data)
	})

	t.Run("absent", func(t *testing.T) {
		store := NewStore(&fakeAdapter{rows: transport.Rows{}}, loggy.NewNoopLogger())
		row, err := store.FetchOne(ctx, "plan-1")
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("adapter error", func(t *testing.T) {
		boom := transport.NewError(transport.CodeNetwork, "down", nil)
		store := NewStore(&fakeAdapter{err: boom}, loggy.NewNoopLogger())
		_, err := store.FetchOne(ctx, "plan-1")
		assert.ErrorIs(t, err, boom)
	})
}

func TestFetchAllAndCount(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{}
	store := NewStore(adapter, loggy.NewNoopLogger())

	_, err := store.FetchAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, adapter.last().SQL, "WHERE user_id = $1 ORDER BY created_at DESC")
	assert.Equal(t, []any{transport.UserIDParam}, adapter.last().Params)

	tests := []struct {
		name  string
		value any
	}{
		{"int64", int64(4)},
		{"json number", json.Number("4")},
		{"float", float64(4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter.rows = transport.Rows{{"count": tt.value}}
			n, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, n)
		})
	}
}

func TestInsert(t *testing.T) {
	adapter := &fakeAdapter{}
	store := NewStore(adapter, loggy.NewNoopLogger())

	p := plan.New("2026-03", created)
	row, err := Encode(p)
	require.NoError(t, err)
	require.NoError(t, store.Insert(context.Background(), row))

	q := adapter.last()
	assert.Contains(t, q.SQL, "INSERT INTO monthly_plans (id,user_id,plan_id,name,data,created_at,updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7)")
	require.Len(t, q.Params, 7)

	_, err = uuid.Parse(q.Params[0].(string))
	assert.NoError(t, err, "surrogate id is a uuid")
	assert.Equal(t, transport.UserIDParam, q.Params[1])
	assert.Equal(t, p.ID, q.Params[2])
	assert.Equal(t, "2026-03-01T09:30:00Z", q.Params[5])
}

func TestUpdateByIDKeepsPlanTimestamp(t *testing.T) {
	adapter := &fakeAdapter{}
	store := NewStore(adapter, loggy.NewNoopLogger())

	p := plan.New("2026-03", created)
	p.Touch(updated.Add(7 * time.Millisecond))
	row, err := Encode(p)
	require.NoError(t, err)

	require.NoError(t, store.UpdateByID(context.Background(), "0b7f", row))

	q := adapter.last()
	assert.Equal(t, "UPDATE monthly_plans SET name = $1, data = $2, updated_at = $3 WHERE (id = $4 AND user_id = $5)", q.SQL)
	assert.Equal(t, "2026-03-01T11:00:00.007Z", q.Params[2])
	assert.Equal(t, transport.UserIDParam, q.Params[4])
}

func TestDeleteByPlanID(t *testing.T) {
	adapter := &fakeAdapter{}
	store := NewStore(adapter, loggy.NewNoopLogger())

	require.NoError(t, store.DeleteByPlanID(context.Background(), "plan-1"))
	assert.Equal(t, "DELETE FROM monthly_plans WHERE (user_id = $1 AND plan_id = $2)", adapter.last().SQL)

	adapter.err = errors.New("gone")
	assert.Error(t, store.DeleteByPlanID(context.Background(), "plan-1"))
}

func TestExportAllIsUnscoped(t *testing.T) {
	adapter := &fakeAdapter{}
	store := NewStore(adapter, loggy.NewNoopLogger())

	_, err := store.ExportAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, adapter.last().Params)
	assert.False(t, transport.IsUserScoped(adapter.last().SQL))
}
