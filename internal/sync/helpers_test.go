package sync

import (
	"context"
	"fmt"
	"sort"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/plan"
	"github.com/tildaslashalef/budgetsync/internal/remote"
	"github.com/tildaslashalef/budgetsync/internal/transport"
)

const testUser = "user-1"

var base = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

// memRemote is an in-memory RemoteStore with failure injection
type memRemote struct {
	mu   stdsync.Mutex
	rows map[string]remote.Row
	seq  int

	fetchErr    map[string]error
	writeFail   map[string]error
	writeErrs   []error
	fetchAllErr error
	countErr    error
	delay       time.Duration

	fetches   int
	fetchAlls int
	writes    int
	deleted   []string

	inflight    int
	maxInflight int
}

func newMemRemote() *memRemote {
	return &memRemote{
		rows:      map[string]remote.Row{},
		fetchErr:  map[string]error{},
		writeFail: map[string]error{},
	}
}

// seed stores p remotely as if another device had uploaded it
func (m *memRemote) seed(t *testing.T, plans ...*plan.Plan) {
	t.Helper()
	for _, p := range plans {
		row, err := remote.Encode(p)
		require.NoError(t, err)
		m.seq++
		row.ID = fmt.Sprintf("row-%d", m.seq)
		row.UserID = testUser
		m.rows[p.ID] = row
	}
}

func (m *memRemote) plan(t *testing.T, id string) *plan.Plan {
	t.Helper()
	m.mu.Lock()
	row, ok := m.rows[id]
	m.mu.Unlock()
	require.True(t, ok, "plan %s is not stored remotely", id)
	p, err := remote.Decode(row)
	require.NoError(t, err)
	return p
}

func (m *memRemote) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	return ok
}

func (m *memRemote) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memRemote) FetchOne(ctx context.Context, planID string) (*remote.Row, error) {
	m.mu.Lock()
	m.inflight++
	m.maxInflight = max(m.maxInflight, m.inflight)
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight--
	m.fetches++

	if err := ctx.Err(); err != nil {
		return nil, transport.NewError(transport.CodeNetwork, "request canceled", err)
	}
	if err := m.fetchErr[planID]; err != nil {
		return nil, err
	}
	row, ok := m.rows[planID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *memRemote) FetchAll(ctx context.Context) ([]remote.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchAlls++

	if err := ctx.Err(); err != nil {
		return nil, transport.NewError(transport.CodeNetwork, "request canceled", err)
	}
	if m.fetchAllErr != nil {
		return nil, m.fetchAllErr
	}

	rows := make([]remote.Row, 0, len(m.rows))
	for _, r := range m.rows {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].PlanID < rows[j].PlanID
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	return rows, nil
}

func (m *memRemote) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	return len(m.rows), nil
}

func (m *memRemote) Insert(_ context.Context, r remote.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if err := m.nextWriteErr(r.PlanID); err != nil {
		return err
	}
	if _, exists := m.rows[r.PlanID]; exists {
		return transport.NewError(transport.CodeConflict, "duplicate plan", nil)
	}
	m.seq++
	r.ID = fmt.Sprintf("row-%d", m.seq)
	r.UserID = testUser
	m.rows[r.PlanID] = r
	return nil
}

func (m *memRemote) UpdateByID(_ context.Context, id string, r remote.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if err := m.nextWriteErr(r.PlanID); err != nil {
		return err
	}
	for planID, existing := range m.rows {
		if existing.ID != id {
			continue
		}
		existing.Name = r.Name
		existing.Data = r.Data
		existing.UpdatedAt = r.UpdatedAt
		m.rows[planID] = existing
		return nil
	}
	return transport.NewError(transport.CodeServer, "row not found", nil)
}

func (m *memRemote) DeleteByPlanID(_ context.Context, planID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeFail[planID]; err != nil {
		return err
	}
	delete(m.rows, planID)
	m.deleted = append(m.deleted, planID)
	return nil
}

// must be called with mu held
func (m *memRemote) nextWriteErr(planID string) error {
	if len(m.writeErrs) > 0 {
		err := m.writeErrs[0]
		m.writeErrs = m.writeErrs[1:]
		if err != nil {
			return err
		}
	}
	return m.writeFail[planID]
}

// recorder collects emitted events
type recorder struct {
	mu     stdsync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func (r *recorder) find(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}

func testConfig() EngineConfig {
	return EngineConfig{BatchSize: 5, MaxRetries: 3, BaseDelay: time.Millisecond}
}

func newTestEngine(store RemoteStore) (*Engine, *recorder) {
	rec := &recorder{}
	logger := loggy.NewNoopLogger()
	return NewEngine(store, NewNotifier(logger, rec), logger, testConfig()), rec
}

// newPlan creates a syncable plan created at base and last changed at
// base plus offset
func newPlan(name string, offset time.Duration) *plan.Plan {
	p := plan.New(base.Format(plan.MonthLayout), base)
	p.Name = name
	p.UpdatedAt = plan.Timestamp(base.Add(offset))
	return p
}

// withUpdate returns a copy of p renamed and changed at base plus offset
func withUpdate(p *plan.Plan, name string, offset time.Duration) *plan.Plan {
	c := p.Clone()
	c.Name = name
	c.UpdatedAt = plan.Timestamp(base.Add(offset))
	return c
}

func ids(plans []*plan.Plan) []string {
	out := make([]string, len(plans))
	for i, p := range plans {
		out[i] = p.ID
	}
	return out
}

func networkErr() error {
	return transport.NewError(transport.CodeNetwork, "connection refused", nil)
}
