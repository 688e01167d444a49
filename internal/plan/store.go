package plan

import (
	"context"
	"fmt"
	"sync"

	"github.com/tildaslashalef/budgetsync/internal/loggy"
)

// Store is the in-memory plan collection backed by a Repository. It signals
// hydration once the initial load has completed; nothing should reconcile
// against the collection before that, since an empty slice would read as
// "no local data".
type Store struct {
	repo   Repository
	logger *loggy.Logger

	mu       sync.RWMutex
	plans    []*Plan
	hydrated chan struct{}
	once     sync.Once
}

// NewStore creates an unhydrated store
func NewStore(repo Repository, logger *loggy.Logger) *Store {
	return &Store{
		repo:     repo,
		logger:   logger,
		hydrated: make(chan struct{}),
	}
}

// Hydrate loads the collection from the repository and closes Hydrated().
// A failed load leaves the store unhydrated.
func (s *Store) Hydrate(ctx context.Context) error {
	plans, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("hydrating plan store: %w", err)
	}

	s.mu.Lock()
	s.plans = plans
	s.mu.Unlock()

	s.once.Do(func() { close(s.hydrated) })
	s.logger.Debug("Plan store hydrated", "plans", len(plans))
	return nil
}

// Hydrated is closed once the initial load has completed
func (s *Store) Hydrated() <-chan struct{} {
	return s.hydrated
}

// IsHydrated reports whether the initial load has completed
func (s *Store) IsHydrated() bool {
	select {
	case <-s.hydrated:
		return true
	default:
		return false
	}
}

// Plans returns a deep copy of the collection, in order
func (s *Store) Plans() []*Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Plan, len(s.plans))
	for i, p := range s.plans {
		out[i] = p.Clone()
	}
	return out
}

// Get returns a copy of the plan with id
func (s *Store) Get(id string) (*Plan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(id); i >= 0 {
		return s.plans[i].Clone(), true
	}
	return nil, false
}

// Put persists p and inserts or replaces it in the collection
func (s *Store) Put(ctx context.Context, p *Plan) error {
	if err := s.repo.Save(ctx, p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(p.ID); i >= 0 {
		s.plans[i] = p.Clone()
	} else {
		s.plans = append(s.plans, p.Clone())
	}
	return nil
}

// Delete removes the plan with id
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(id); i >= 0 {
		s.plans = append(s.plans[:i], s.plans[i+1:]...)
	}
	return nil
}

// Replace swaps the whole collection, as after a full sync
func (s *Store) Replace(ctx context.Context, plans []*Plan) error {
	if err := s.repo.ReplaceAll(ctx, plans); err != nil {
		return fmt.Errorf("replacing local plans: %w", err)
	}

	next := make([]*Plan, len(plans))
	for i, p := range plans {
		next[i] = p.Clone()
	}

	s.mu.Lock()
	s.plans = next
	s.mu.Unlock()
	return nil
}

// indexOf must be called with mu held
func (s *Store) indexOf(id string) int {
	for i, p := range s.plans {
		if p.ID == id {
			return i
		}
	}
	return -1
}
