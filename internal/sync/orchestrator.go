package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/tildaslashalef/budgetsync/internal/auth"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/plan"
	"github.com/tildaslashalef/budgetsync/internal/transport"
)

// ErrSessionEnded is returned when the user signed out while a sync ran.
// The result of that sync is discarded.
var ErrSessionEnded = errors.New("session ended during sync")

// State is the orchestrator's session state
type State int

const (
	StateIdle State = iota
	StateWaitingForLocalHydration
	StateDeciding
	StateSyncing
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForLocalHydration:
		return "waiting_for_local_hydration"
	case StateDeciding:
		return "deciding"
	case StateSyncing:
		return "syncing"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// LocalStore is the local collection the orchestrator reconciles.
// plan.Store implements it.
type LocalStore interface {
	Plans() []*plan.Plan
	Hydrated() <-chan struct{}
	Replace(ctx context.Context, plans []*plan.Plan) error
}

// Choice describes the two sides when both hold plans
type Choice struct {
	LocalCount  int
	RemoteCount int
}

// Chooser asks the user how to reconcile when both sides hold plans
type Chooser interface {
	ChooseStrategy(ctx context.Context, c Choice) (Strategy, error)
}

// StaticChooser always answers with the same strategy
type StaticChooser Strategy

// ChooseStrategy implements Chooser
func (s StaticChooser) ChooseStrategy(context.Context, Choice) (Strategy, error) {
	return Strategy(s), nil
}

// SyncLogRecorder persists sync runs
type SyncLogRecorder interface {
	CreateSyncLog(ctx context.Context, log *SyncLog) error
}

// OrchestratorDeps wires an Orchestrator. Engine, Local and Identity are
// required.
type OrchestratorDeps struct {
	Engine    *Engine
	Local     LocalStore
	Identity  auth.Provider
	Chooser   Chooser
	Scheduler Scheduler
	Logs      SyncLogRecorder
	Notifier  *Notifier
	Logger    *loggy.Logger

	DebounceDelay time.Duration
	DeviceName    string
}

// Orchestrator decides when full syncs run. The first time a session is
// both authenticated and hydrated it runs one automatic sync; afterwards
// local mutations trigger debounced merge syncs.
type Orchestrator struct {
	engine    *Engine
	local     LocalStore
	identity  auth.Provider
	chooser   Chooser
	scheduler Scheduler
	logs      SyncLogRecorder
	notifier  *Notifier
	logger    *loggy.Logger
	debounce  time.Duration
	device    string

	mu      stdsync.Mutex
	state   State
	synced  bool
	session uint64
	pending bool
	cancel  context.CancelFunc

	// run serializes full syncs
	run stdsync.Mutex
}

// NewOrchestrator creates an idle orchestrator
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	o := &Orchestrator{
		engine:    deps.Engine,
		local:     deps.Local,
		identity:  deps.Identity,
		chooser:   deps.Chooser,
		scheduler: deps.Scheduler,
		logs:      deps.Logs,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		debounce:  deps.DebounceDelay,
		device:    deps.DeviceName,
	}
	if o.chooser == nil {
		o.chooser = StaticChooser(StrategyMerge)
	}
	if o.scheduler == nil {
		o.scheduler = NewDebouncer()
	}
	if o.logger == nil {
		o.logger = loggy.GetGlobalLogger()
	}
	if o.debounce <= 0 {
		o.debounce = 500 * time.Millisecond
	}
	return o
}

// State returns the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Signal re-evaluates the session after a sign in or a completed
// hydration. It runs the automatic sync when the session is ready and has
// not synced yet; repeated signals are no-ops.
func (o *Orchestrator) Signal(ctx context.Context) error {
	userID, ok := o.identity.UserID()

	o.mu.Lock()
	if !ok {
		o.mu.Unlock()
		return nil
	}
	switch o.state {
	case StateDeciding, StateSyncing, StateSettled:
		o.mu.Unlock()
		return nil
	}
	if o.synced {
		o.mu.Unlock()
		return nil
	}
	if !o.hydrated() {
		o.state = StateWaitingForLocalHydration
		o.mu.Unlock()
		o.logger.Debug("Waiting for local plans before syncing")
		return nil
	}
	o.state = StateDeciding
	session := o.session
	o.mu.Unlock()

	return o.decide(ctx, userID, session)
}

func (o *Orchestrator) decide(ctx context.Context, userID string, session uint64) error {
	localCount := 0
	for _, p := range o.local.Plans() {
		if p.Syncable {
			localCount++
		}
	}

	remoteCount, err := o.engine.Count(ctx, userID)
	if err != nil {
		o.abandon(session)
		return fmt.Errorf("counting remote plans: %w", err)
	}

	strategy := StrategyMerge
	switch {
	case remoteCount == 0:
		o.logger.Debug("Nothing to download", "local", localCount)
		o.settle(session)
		return nil
	case localCount > 0:
		strategy, err = o.chooser.ChooseStrategy(ctx, Choice{LocalCount: localCount, RemoteCount: remoteCount})
		if err != nil {
			o.abandon(session)
			return fmt.Errorf("choosing sync strategy: %w", err)
		}
	}

	if strategy == StrategyDismiss {
		o.settle(session)
		return nil
	}

	_, err = o.runSync(ctx, userID, session, strategy, true)
	return err
}

// SyncNow runs a full sync with an explicit strategy
func (o *Orchestrator) SyncNow(ctx context.Context, strategy Strategy) (BatchResult, error) {
	userID, ok := o.identity.UserID()
	if !ok {
		return BatchResult{}, ErrNotAuthenticated
	}
	if strategy == StrategyDismiss {
		return BatchResult{Success: true, Plans: o.local.Plans()}, nil
	}

	o.mu.Lock()
	session := o.session
	o.pending = false
	o.mu.Unlock()
	o.scheduler.CancelPending()

	return o.runSync(ctx, userID, session, strategy, false)
}

// RequestSync schedules a debounced merge sync. It is called after every
// local mutation and does nothing before the session sync has started.
// A request made while a sync is running is scheduled once it settles.
func (o *Orchestrator) RequestSync() {
	if _, ok := o.identity.UserID(); !ok {
		return
	}

	o.mu.Lock()
	switch o.state {
	case StateDeciding, StateSyncing:
		o.pending = true
		o.mu.Unlock()
		return
	case StateSettled:
		o.pending = true
		o.mu.Unlock()
	default:
		o.mu.Unlock()
		return
	}

	o.scheduler.Schedule(o.debounce, o.debounced)
}

// Flush runs a pending debounced sync immediately. Short lived processes
// call it before exiting.
func (o *Orchestrator) Flush(ctx context.Context) error {
	o.mu.Lock()
	pending := o.pending
	o.pending = false
	session := o.session
	o.mu.Unlock()

	if !pending {
		return nil
	}
	o.scheduler.CancelPending()

	userID, ok := o.identity.UserID()
	if !ok {
		return nil
	}
	_, err := o.runSync(ctx, userID, session, StrategyMerge, false)
	return err
}

func (o *Orchestrator) debounced() {
	userID, ok := o.identity.UserID()
	if !ok {
		return
	}

	o.mu.Lock()
	if o.state != StateSettled || !o.pending {
		o.mu.Unlock()
		return
	}
	o.pending = false
	session := o.session
	o.mu.Unlock()

	if _, err := o.runSync(context.Background(), userID, session, StrategyMerge, false); err != nil {
		o.logger.Warn("Debounced sync failed", "error", err)
	}
}

// Logout ends the session: the in-flight sync is canceled, its result is
// dropped and the next sign in starts over
func (o *Orchestrator) Logout() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.session++
	o.synced = false
	o.pending = false
	o.state = StateIdle
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.scheduler.CancelPending()
}

// runSync runs one full sync and applies its result to the local store.
// Automatic runs happen at most once per session.
func (o *Orchestrator) runSync(ctx context.Context, userID string, session uint64, strategy Strategy, automatic bool) (BatchResult, error) {
	o.mu.Lock()
	if session != o.session {
		o.mu.Unlock()
		return BatchResult{}, ErrSessionEnded
	}
	if automatic && o.synced {
		o.mu.Unlock()
		return BatchResult{}, nil
	}
	o.synced = true
	o.state = StateSyncing
	o.mu.Unlock()

	o.run.Lock()
	defer o.run.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	if session != o.session {
		o.mu.Unlock()
		return BatchResult{}, ErrSessionEnded
	}
	o.cancel = cancel
	o.mu.Unlock()

	entry := NewSyncLog(userID, o.device, strategy)
	snapshot := o.local.Plans()

	var res BatchResult
	if strategy == StrategyUploadLocal {
		res = o.engine.UploadAll(runCtx, userID, snapshot)
	} else {
		res = o.engine.SyncAll(runCtx, userID, snapshot)
	}
	entry.Complete(res)
	o.record(ctx, entry)

	o.mu.Lock()
	if session != o.session {
		o.mu.Unlock()
		o.logger.Info("Discarding sync result after sign out")
		return res, ErrSessionEnded
	}
	o.cancel = nil
	var merged []*plan.Plan
	if strategy != StrategyUploadLocal {
		merged = mergeConcurrent(snapshot, res.Plans, o.local.Plans())
	}
	o.mu.Unlock()

	if strategy != StrategyUploadLocal {
		if err := o.local.Replace(ctx, merged); err != nil {
			o.settle(session)
			return res, fmt.Errorf("applying sync result: %w", err)
		}
		res.Plans = merged
	}

	if !o.settle(session) {
		o.logger.Info("Discarding sync result after sign out")
		return res, ErrSessionEnded
	}

	if transport.CodeOf(res.Err) == transport.CodeAuth {
		return res, res.Err
	}
	return res, nil
}

// settle marks the session settled and schedules the mutations requested
// meanwhile. It reports false when the session ended first.
func (o *Orchestrator) settle(session uint64) bool {
	o.mu.Lock()
	if session != o.session {
		o.mu.Unlock()
		return false
	}
	o.state = StateSettled
	pending := o.pending
	o.mu.Unlock()

	if pending {
		o.scheduler.Schedule(o.debounce, o.debounced)
	}
	return true
}

func (o *Orchestrator) record(ctx context.Context, entry *SyncLog) {
	if o.logs == nil {
		return
	}
	if err := o.logs.CreateSyncLog(ctx, entry); err != nil {
		o.logger.Warn("Recording sync log failed", "error", err)
	}
}

// abandon returns to idle unless the session changed meanwhile. The next
// session sync covers any mutation requested in between.
func (o *Orchestrator) abandon(session uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if session == o.session {
		o.state = StateIdle
		o.pending = false
	}
}

// must be called with mu held
func (o *Orchestrator) hydrated() bool {
	select {
	case <-o.local.Hydrated():
		return true
	default:
		return false
	}
}

// UploadNew implements plan.CloudSync. A failed upload leaves the plan
// local only.
func (o *Orchestrator) UploadNew(ctx context.Context, p *plan.Plan) error {
	userID, ok := o.identity.UserID()
	if !ok {
		return ErrNotAuthenticated
	}

	res := o.engine.UploadWithRetry(ctx, userID, p)
	if !res.Success {
		o.notifier.Emit(Event{Kind: EventPlanCreatedLocalOnly, PlanID: p.ID, PlanName: p.Name, Err: res.Err})
		return res.Err
	}
	o.notifier.Emit(Event{Kind: EventPlanCreated, PlanID: p.ID, PlanName: p.Name})
	return nil
}

// DeleteRemote implements plan.CloudSync
func (o *Orchestrator) DeleteRemote(ctx context.Context, p *plan.Plan) error {
	userID, ok := o.identity.UserID()
	if !ok {
		return ErrNotAuthenticated
	}
	return o.engine.DeletePlan(ctx, userID, p)
}

// mergeConcurrent folds local changes made while a sync ran into its
// result: plans edited since the snapshot keep their newer local version,
// plans created meanwhile are kept and plans deleted meanwhile stay deleted.
func mergeConcurrent(snapshot, result, current []*plan.Plan) []*plan.Plan {
	before := make(map[string]bool, len(snapshot))
	for _, p := range snapshot {
		before[p.ID] = true
	}
	now := make(map[string]*plan.Plan, len(current))
	for _, p := range current {
		now[p.ID] = p
	}

	out := make([]*plan.Plan, 0, len(result))
	inResult := make(map[string]bool, len(result))
	for _, p := range result {
		inResult[p.ID] = true
		cur, exists := now[p.ID]
		switch {
		case before[p.ID] && !exists:
			continue
		case exists && cur.UpdatedAt.After(p.UpdatedAt):
			out = append(out, cur)
		default:
			out = append(out, p)
		}
	}
	for _, p := range current {
		if !before[p.ID] && !inResult[p.ID] {
			out = append(out, p)
		}
	}
	return out
}
