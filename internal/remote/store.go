package remote

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/transport"
)

// Table is the remote plan table
const Table = "monthly_plans"

var columns = []string{"id", "user_id", "plan_id", "name", "data", "created_at", "updated_at"}

// selectColumns reads the uuid and jsonb columns as text so both adapters
// return the same shapes
var selectColumns = []string{"id::text AS id", "user_id", "plan_id", "name", "data::text AS data", "created_at", "updated_at"}

// Store runs plan statements through an adapter. Every statement filters on
// user_id and binds transport.UserIDParam; the adapter supplies the user.
type Store struct {
	adapter transport.Adapter
	sb      sq.StatementBuilderType
	logger  *loggy.Logger
}

// NewStore creates a remote store
func NewStore(adapter transport.Adapter, logger *loggy.Logger) *Store {
	return &Store{
		adapter: adapter,
		sb:      sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		logger:  logger,
	}
}

func ownRows() sq.Eq {
	return sq.Eq{"user_id": transport.UserIDParam}
}

// FetchOne returns the caller's row for planID, or nil when there is none
func (s *Store) FetchOne(ctx context.Context, planID string) (*Row, error) {
	q := s.sb.Select(selectColumns...).
		From(Table).
		Where(sq.And{ownRows(), sq.Eq{"plan_id": planID}}).
		Limit(1)

	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// FetchAll returns all of the caller's rows, newest first
func (s *Store) FetchAll(ctx context.Context) ([]Row, error) {
	q := s.sb.Select(selectColumns...).
		From(Table).
		Where(ownRows()).
		OrderBy("created_at DESC")

	return s.query(ctx, q)
}

// Count returns how many rows the caller has
func (s *Store) Count(ctx context.Context) (int, error) {
	query, args, err := s.sb.Select("COUNT(*) AS count").From(Table).Where(ownRows()).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	rows, err := s.adapter.Execute(ctx, transport.Query{SQL: query, Params: args})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := asInt(rows[0]["count"])
	if err != nil {
		return 0, fmt.Errorf("reading count: %w", err)
	}
	return n, nil
}

// Insert stores a new row. A surrogate id is generated when r.ID is empty.
func (s *Store) Insert(ctx context.Context, r Row) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	q := s.sb.Insert(Table).
		Columns(columns...).
		Values(r.ID, transport.UserIDParam, r.PlanID, r.Name, r.Data, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))

	if err := s.exec(ctx, q); err != nil {
		return err
	}
	s.logger.Debug("Inserted remote plan", "plan_id", r.PlanID, "id", r.ID)
	return nil
}

// UpdateByID overwrites the content of the row with surrogate id. The
// modification time is taken from r, not the server clock, so a later sync
// compares equal.
func (s *Store) UpdateByID(ctx context.Context, id string, r Row) error {
	q := s.sb.Update(Table).
		Set("name", r.Name).
		Set("data", r.Data).
		Set("updated_at", formatTime(r.UpdatedAt)).
		Where(sq.And{sq.Eq{"id": id}, ownRows()})

	if err := s.exec(ctx, q); err != nil {
		return err
	}
	s.logger.Debug("Updated remote plan", "plan_id", r.PlanID, "id", id)
	return nil
}

// DeleteByPlanID removes the caller's row for planID
func (s *Store) DeleteByPlanID(ctx context.Context, planID string) error {
	q := s.sb.Delete(Table).Where(sq.And{ownRows(), sq.Eq{"plan_id": planID}})
	return s.exec(ctx, q)
}

// ExportAll returns every row of every user. It is an administrative
// statement and only runs on a direct adapter.
func (s *Store) ExportAll(ctx context.Context) ([]Row, error) {
	q := s.sb.Select(selectColumns...).From(Table).OrderBy("user_id", "created_at")
	return s.query(transport.WithUnscoped(ctx), q)
}

func (s *Store) query(ctx context.Context, q sq.SelectBuilder) ([]Row, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	result, err := s.adapter.Execute(ctx, transport.Query{SQL: query, Params: args})
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(result))
	for _, m := range result {
		r, err := rowFromResult(m)
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func (s *Store) exec(ctx context.Context, q sq.Sqlizer) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building statement: %w", err)
	}
	_, err = s.adapter.Execute(ctx, transport.Query{SQL: query, Params: args})
	return err
}
