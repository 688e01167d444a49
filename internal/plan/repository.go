package plan

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/budgetsync/internal/database"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
)

var (
	// ErrPlanNotFound is returned when a plan is not in the local store
	ErrPlanNotFound = errors.New("plan not found")
)

var planColumns = []string{"id", "name", "month", "data", "syncable", "created_at", "updated_at"}

// Repository persists plans on the device
type Repository interface {
	Get(ctx context.Context, id string) (*Plan, error)
	List(ctx context.Context) ([]*Plan, error)
	Save(ctx context.Context, p *Plan) error
	Delete(ctx context.Context, id string) error
	ReplaceAll(ctx context.Context, plans []*Plan) error
}

// SQLRepository implements Repository on the local SQLite database
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new plan SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

// Get retrieves a plan by its ID
func (r *SQLRepository) Get(ctx context.Context, id string) (*Plan, error) {
	query, args, err := r.builder.
		Select(planColumns...).
		From("plans").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select plan query: %w", err)
	}

	p, err := scanPlan(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("scanning plan: %w", err)
	}
	return p, nil
}

// List returns every local plan, oldest first
func (r *SQLRepository) List(ctx context.Context) ([]*Plan, error) {
	query, args, err := r.builder.
		Select(planColumns...).
		From("plans").
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list plans query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list plans query: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning plan row: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating plan rows: %w", err)
	}

	return plans, nil
}

// Save inserts the plan or replaces the stored copy with the same ID
func (r *SQLRepository) Save(ctx context.Context, p *Plan) error {
	return saveWith(ctx, r.db, r.builder, p)
}

// Delete removes a plan. Deleting an unknown plan returns ErrPlanNotFound.
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	query, args, err := r.builder.
		Delete("plans").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete plan query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing delete plan query: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrPlanNotFound
	}

	r.logger.Debug("Deleted local plan", "id", id)
	return nil
}

// ReplaceAll swaps the whole local collection for plans in one transaction
func (r *SQLRepository) ReplaceAll(ctx context.Context, plans []*Plan) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		query, args, err := r.builder.Delete("plans").ToSql()
		if err != nil {
			return fmt.Errorf("building clear plans query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("executing clear plans query: %w", err)
		}

		for _, p := range plans {
			if err := saveWith(ctx, tx, r.builder, p); err != nil {
				return err
			}
		}
		return nil
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveWith(ctx context.Context, db execer, builder sq.StatementBuilderType, p *Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(p.Payload())
	if err != nil {
		return fmt.Errorf("encoding plan payload: %w", err)
	}

	query, args, err := builder.
		Insert("plans").
		Columns(planColumns...).
		Values(p.ID, p.Name, p.Month, string(data), p.Syncable, p.CreatedAt, p.UpdatedAt).
		Suffix("ON CONFLICT(id) DO UPDATE SET name = excluded.name, month = excluded.month, " +
			"data = excluded.data, syncable = excluded.syncable, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building save plan query: %w", err)
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing save plan query: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (*Plan, error) {
	var (
		p         Plan
		data      string
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Month, &data, &p.Syncable, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var payload Payload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("decoding plan %s payload: %w", p.ID, err)
	}
	month := p.Month
	p.ApplyPayload(payload)
	if month != "" {
		p.Month = month
	}
	p.CreatedAt = Timestamp(createdAt)
	p.UpdatedAt = Timestamp(updatedAt)

	return &p, nil
}
