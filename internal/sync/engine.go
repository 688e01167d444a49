package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/plan"
	"github.com/tildaslashalef/budgetsync/internal/remote"
	"github.com/tildaslashalef/budgetsync/internal/transport"
)

// ErrNotSyncable is returned when a demo plan is offered for upload
var ErrNotSyncable = errors.New("plan is not syncable")

// RemoteStore is the remote query surface the engine needs. remote.Store
// implements it.
type RemoteStore interface {
	FetchOne(ctx context.Context, planID string) (*remote.Row, error)
	FetchAll(ctx context.Context) ([]remote.Row, error)
	Count(ctx context.Context) (int, error)
	Insert(ctx context.Context, r remote.Row) error
	UpdateByID(ctx context.Context, id string, r remote.Row) error
	DeleteByPlanID(ctx context.Context, planID string) error
}

// EngineConfig tunes batching and upload retries
type EngineConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	BaseDelay    time.Duration
	Jitter       float64
}

// DefaultEngineConfig returns the default tuning
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BatchSize:  5,
		MaxRetries: 3,
		BaseDelay:  time.Second,
	}
}

// Engine syncs plans against the remote store. Its methods report failures
// in their results and never panic; only UploadWithRetry escalates with
// ErrRetriesExhausted.
type Engine struct {
	remote   RemoteStore
	notifier *Notifier
	logger   *loggy.Logger
	cfg      EngineConfig
}

// NewEngine creates a sync engine. notifier may be nil.
func NewEngine(store RemoteStore, notifier *Notifier, logger *loggy.Logger, cfg EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	return &Engine{
		remote:   store,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// Count returns how many plans the user has remotely
func (e *Engine) Count(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, notAuthenticated()
	}
	return e.remote.Count(ctx)
}

// SyncPlan reconciles one plan with its remote copy
func (e *Engine) SyncPlan(ctx context.Context, userID string, p *plan.Plan) (res PlanResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Plan sync panicked", "plan_id", p.ID, "panic", r)
			res = PlanResult{Plan: p, Err: transport.NewError(transport.CodeUnknown, fmt.Sprintf("sync panicked: %v", r), nil)}
		}
	}()

	if userID == "" {
		return PlanResult{Plan: p, Err: notAuthenticated()}
	}

	row, err := e.remote.FetchOne(ctx, p.ID)
	if err != nil {
		e.logger.Warn("Fetching remote plan failed", "plan_id", p.ID, "error", err)
		return PlanResult{Plan: p, Err: err}
	}

	if row == nil {
		if err := e.write(ctx, p, ""); err != nil {
			e.logger.Warn("Uploading new plan failed", "plan_id", p.ID, "error", err)
			return PlanResult{Plan: p, Err: err}
		}
		return PlanResult{Success: true, Plan: p}
	}

	remotePlan, err := remote.Decode(*row)
	if err != nil {
		return PlanResult{Plan: p, Err: transport.NewError(transport.CodeUnknown, "decoding remote plan", err)}
	}

	switch Resolve(p, remotePlan) {
	case OutcomeAdoptRemote:
		e.logger.Debug("Remote plan is newer", "plan_id", p.ID)
		e.conflict(remotePlan, SideRemote)
		return PlanResult{Success: true, Plan: remotePlan, Conflict: true}

	case OutcomeUploadLocal:
		e.logger.Debug("Local plan is newer", "plan_id", p.ID)
		if err := e.write(ctx, p, row.ID); err != nil {
			e.logger.Warn("Overwriting remote plan failed", "plan_id", p.ID, "error", err)
			return PlanResult{Plan: p, Conflict: true, Err: err}
		}
		e.conflict(p, SideLocal)
		return PlanResult{Success: true, Plan: p, Conflict: true}

	default:
		return PlanResult{Success: true, Plan: p}
	}
}

// Upload writes p remotely, updating the existing row when there is one
func (e *Engine) Upload(ctx context.Context, userID string, p *plan.Plan) UploadResult {
	if userID == "" {
		return UploadResult{Attempts: 1, Err: notAuthenticated()}
	}
	if !p.Syncable {
		return UploadResult{Err: ErrNotSyncable}
	}

	existing, err := e.remote.FetchOne(ctx, p.ID)
	if err != nil {
		return UploadResult{Attempts: 1, Err: err}
	}

	rowID := ""
	if existing != nil {
		rowID = existing.ID
	}
	if err := e.write(ctx, p, rowID); err != nil {
		return UploadResult{Attempts: 1, Err: err}
	}
	return UploadResult{Success: true, Attempts: 1}
}

// UploadWithRetry uploads p with exponential backoff. Non-retryable
// failures stop at the first attempt.
func (e *Engine) UploadWithRetry(ctx context.Context, userID string, p *plan.Plan) UploadResult {
	if !p.Syncable {
		return UploadResult{Err: ErrNotSyncable}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = e.cfg.Jitter
	b.MaxInterval = e.cfg.BaseDelay << e.cfg.MaxRetries
	b.MaxElapsedTime = 0

	attempts := 0
	var lastErr error
	operation := func() error {
		attempts++
		res := e.Upload(ctx, userID, p)
		if res.Success {
			return nil
		}
		lastErr = res.Err
		if !transport.CodeOf(res.Err).Retryable() {
			return backoff.Permanent(res.Err)
		}
		return res.Err
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Debug("Upload failed, retrying", "plan_id", p.ID, "attempt", attempts, "wait", wait, "error", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.MaxRetries-1)), ctx)
	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		e.notifier.Emit(Event{Kind: EventUploadSucceeded, PlanID: p.ID, PlanName: p.Name})
		return UploadResult{Success: true, Attempts: attempts}
	}

	if lastErr == nil {
		lastErr = err
	}
	if transport.CodeOf(lastErr) == transport.CodeNetwork {
		e.notifier.Emit(Event{Kind: EventNetworkError, PlanID: p.ID, PlanName: p.Name, Err: lastErr})
	}

	switch {
	case ctx.Err() != nil:
		return UploadResult{Attempts: attempts, Err: fmt.Errorf("upload canceled: %w", errors.Join(ctx.Err(), lastErr))}
	case !transport.CodeOf(lastErr).Retryable():
		return UploadResult{Attempts: attempts, Err: lastErr}
	default:
		e.logger.Warn("Upload retries exhausted", "plan_id", p.ID, "attempts", attempts, "error", lastErr)
		return UploadResult{Attempts: attempts, Err: &RetryError{Attempts: attempts, Last: lastErr}}
	}
}

// DeletePlan removes the remote copy of p. Demo plans never touch the
// network.
func (e *Engine) DeletePlan(ctx context.Context, userID string, p *plan.Plan) error {
	if !p.Syncable {
		return nil
	}
	if userID == "" {
		return notAuthenticated()
	}
	if err := e.remote.DeleteByPlanID(ctx, p.ID); err != nil {
		return err
	}
	e.notifier.Emit(Event{Kind: EventPlanDeleted, PlanID: p.ID, PlanName: p.Name})
	return nil
}

// Download returns every remote plan of the user, newest first. Rows that
// cannot be decoded are skipped.
func (e *Engine) Download(ctx context.Context, userID string) ([]*plan.Plan, error) {
	if userID == "" {
		return nil, notAuthenticated()
	}

	rows, err := e.remote.FetchAll(ctx)
	if err != nil {
		return nil, err
	}

	plans := make([]*plan.Plan, 0, len(rows))
	for _, row := range rows {
		p, err := remote.Decode(row)
		if err != nil {
			e.logger.Warn("Skipping undecodable remote plan", "id", row.ID, "error", err)
			continue
		}
		plans = append(plans, p)
	}
	e.notifier.Emit(Event{Kind: EventDownloadSucceeded, Downloaded: len(plans)})
	return plans, nil
}

// write inserts p, or updates the row with rowID when it is set
func (e *Engine) write(ctx context.Context, p *plan.Plan, rowID string) error {
	row, err := remote.Encode(p)
	if err != nil {
		return transport.NewError(transport.CodeUnknown, "encoding plan", err)
	}
	if rowID != "" {
		return e.remote.UpdateByID(ctx, rowID, row)
	}
	return e.remote.Insert(ctx, row)
}

func (e *Engine) conflict(p *plan.Plan, winner Side) {
	e.notifier.Emit(Event{Kind: EventConflictResolved, PlanID: p.ID, PlanName: p.Name, Winner: winner})
}

func notAuthenticated() error {
	return &transport.Error{Code: transport.CodeAuth, Message: ErrNotAuthenticated.Error(), Err: ErrNotAuthenticated}
}
