package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/ulid"
)

// ErrRemoteDelete wraps a failed remote delete after the local delete succeeded
var ErrRemoteDelete = errors.New("plan deleted locally but not remotely")

// CloudSync is what the plan service needs from the sync engine
type CloudSync interface {
	// UploadNew stores a freshly created plan remotely, retrying on failure
	UploadNew(ctx context.Context, p *Plan) error
	// DeleteRemote removes the remote copy of p
	DeleteRemote(ctx context.Context, p *Plan) error
	// RequestSync schedules a debounced full sync
	RequestSync()
}

// Service implements the user facing plan operations
type Service struct {
	store  *Store
	cloud  CloudSync
	logger *loggy.Logger
	now    func() time.Time
}

// NewService creates a plan service. cloud may be nil while offline.
func NewService(store *Store, cloud CloudSync, logger *loggy.Logger) *Service {
	return &Service{
		store:  store,
		cloud:  cloud,
		logger: logger,
		now:    time.Now,
	}
}

// List returns every local plan
func (s *Service) List() []*Plan {
	return s.store.Plans()
}

// Get returns a plan by id
func (s *Service) Get(id string) (*Plan, error) {
	p, ok := s.store.Get(id)
	if !ok {
		return nil, ErrPlanNotFound
	}
	return p, nil
}

// Create stores a new plan for month and uploads it. A failed upload keeps
// the plan local only and is not returned as an error.
func (s *Service) Create(ctx context.Context, month, name string) (*Plan, error) {
	if _, err := time.Parse(MonthLayout, month); err != nil {
		return nil, fmt.Errorf("invalid month %q: expected YYYY-MM", month)
	}

	p := New(month, s.now())
	if name != "" {
		p.Name = name
	}

	if err := s.store.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("saving plan: %w", err)
	}
	s.logger.Info("Created plan", "id", p.ID, "month", month)

	if s.cloud != nil {
		if err := s.cloud.UploadNew(ctx, p); err != nil {
			s.logger.Warn("Plan kept local only", "id", p.ID, "error", err)
		}
	}

	return p, nil
}

// CreateDemo stores the tutorial plan, which never syncs
func (s *Service) CreateDemo(ctx context.Context) (*Plan, error) {
	p := NewDemo(s.now())
	if err := s.store.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("saving demo plan: %w", err)
	}
	return p, nil
}

// Update applies fn to a copy of the plan, bumps UpdatedAt, saves it and
// schedules a sync
func (s *Service) Update(ctx context.Context, id string, fn func(*Plan) error) (*Plan, error) {
	p, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if err := fn(p); err != nil {
		return nil, err
	}
	p.Touch(s.now())

	if err := s.store.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("saving plan: %w", err)
	}

	if s.cloud != nil && p.Syncable {
		s.cloud.RequestSync()
	}
	return p, nil
}

// Rename changes the plan label
func (s *Service) Rename(ctx context.Context, id, name string) (*Plan, error) {
	if name == "" {
		return nil, fmt.Errorf("plan name cannot be empty")
	}
	return s.Update(ctx, id, func(p *Plan) error {
		p.Name = name
		return nil
	})
}

// AddIncome appends an income line
func (s *Service) AddIncome(ctx context.Context, id, label string, amount int64) (*Plan, error) {
	return s.Update(ctx, id, func(p *Plan) error {
		p.Incomes = append(p.Incomes, LineItem{ID: ulid.LineItemID(), Label: label, Amount: amount})
		return nil
	})
}

// AddExpense appends an expense line
func (s *Service) AddExpense(ctx context.Context, id, label string, amount int64) (*Plan, error) {
	return s.Update(ctx, id, func(p *Plan) error {
		p.Expenses = append(p.Expenses, LineItem{ID: ulid.LineItemID(), Label: label, Amount: amount})
		return nil
	})
}

// AddEnvelope appends an envelope
func (s *Service) AddEnvelope(ctx context.Context, id, label string, budget int64) (*Plan, error) {
	return s.Update(ctx, id, func(p *Plan) error {
		p.Envelopes = append(p.Envelopes, Envelope{ID: ulid.LineItemID(), Label: label, Budget: budget})
		return nil
	})
}

// Delete removes the plan locally, then remotely. The local delete stands
// even when the remote one fails; that case is reported as ErrRemoteDelete.
func (s *Service) Delete(ctx context.Context, id string) error {
	p, err := s.Get(id)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting plan: %w", err)
	}
	s.logger.Info("Deleted plan", "id", id)

	if s.cloud == nil || !p.Syncable {
		return nil
	}

	if err := s.cloud.DeleteRemote(ctx, p); err != nil {
		return fmt.Errorf("%w: %w", ErrRemoteDelete, err)
	}
	return nil
}
