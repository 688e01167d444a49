// Package sync reconciles the local plan collection with the remote store:
// last-writer-wins conflict resolution, batched full syncs, retried uploads
// and the per-session orchestration around them.
package sync

import (
	"errors"
	"fmt"
	"time"

	"github.com/tildaslashalef/budgetsync/internal/plan"
	"github.com/tildaslashalef/budgetsync/internal/transport"
	"github.com/tildaslashalef/budgetsync/internal/ulid"
)

// Strategy is how a full sync treats the two sides
type Strategy string

const (
	// StrategyMerge reconciles both sides record by record
	StrategyMerge Strategy = "merge"
	// StrategyDownload behaves exactly like merge
	StrategyDownload Strategy = "download"
	// StrategyUploadLocal pushes every local plan and leaves the local
	// collection untouched
	StrategyUploadLocal Strategy = "upload_local"
	// StrategyDismiss skips the sync for this session
	StrategyDismiss Strategy = "dismiss"
)

// ParseStrategy parses a strategy name
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyMerge, StrategyDownload, StrategyUploadLocal, StrategyDismiss:
		return Strategy(s), nil
	case "upload-local", "upload":
		return StrategyUploadLocal, nil
	default:
		return "", fmt.Errorf("unknown sync strategy %q", s)
	}
}

// ErrorType is how a failed sync is recorded in the sync log
type ErrorType string

const (
	ErrorTypeNetwork  ErrorType = "network"
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeServer   ErrorType = "server"
	ErrorTypeConflict ErrorType = "conflict"
	ErrorTypeUnknown  ErrorType = "unknown"
)

func errorTypeOf(err error) ErrorType {
	switch transport.CodeOf(err) {
	case "":
		return ""
	case transport.CodeNetwork:
		return ErrorTypeNetwork
	case transport.CodeAuth:
		return ErrorTypeAuth
	case transport.CodeServer:
		return ErrorTypeServer
	case transport.CodeConflict:
		return ErrorTypeConflict
	default:
		return ErrorTypeUnknown
	}
}

var (
	// ErrNotAuthenticated is returned by operations that need a signed in user
	ErrNotAuthenticated = errors.New("not signed in")
	// ErrRetriesExhausted matches a RetryError
	ErrRetriesExhausted = errors.New("upload retries exhausted")
)

// RetryError is returned when every upload attempt failed
type RetryError struct {
	Attempts int
	Last     error
}

// Error implements the error interface
func (e *RetryError) Error() string {
	return fmt.Sprintf("upload failed after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last attempt's error
func (e *RetryError) Unwrap() error {
	return e.Last
}

// Is makes errors.Is(err, ErrRetriesExhausted) hold
func (e *RetryError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// PlanResult is the outcome of syncing one plan. Plan is the winning
// version; when Success is false it is the local version.
type PlanResult struct {
	Success  bool
	Plan     *plan.Plan
	Conflict bool
	Err      error
}

// UploadResult is the outcome of an upload
type UploadResult struct {
	Success  bool
	Attempts int
	Err      error
}

// BatchResult is the outcome of a full sync. Plans is the reconciled
// collection to apply locally.
type BatchResult struct {
	Success    bool
	Plans      []*plan.Plan
	Synced     int
	Conflicts  int
	Failed     int
	Downloaded int
	Err        error
}

// fail records err, keeping the first one
func (r *BatchResult) fail(err error) {
	r.Success = false
	if r.Err == nil {
		r.Err = err
	}
}

// SyncLog is the persisted record of one full sync run
type SyncLog struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	DeviceName   string    `json:"device_name"`
	Strategy     Strategy  `json:"strategy"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	Success      bool      `json:"success"`
	ItemsSynced  int       `json:"items_synced"`
	Conflicts    int       `json:"conflicts"`
	Failed       int       `json:"failed"`
	Downloaded   int       `json:"downloaded"`
	ErrorType    ErrorType `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// NewSyncLog starts a sync log entry
func NewSyncLog(userID, deviceName string, strategy Strategy) *SyncLog {
	now := time.Now().UTC()
	return &SyncLog{
		ID:          ulid.SyncLogID(),
		UserID:      userID,
		DeviceName:  deviceName,
		Strategy:    strategy,
		StartedAt:   now,
		CompletedAt: now,
	}
}

// Complete records the outcome of the run
func (l *SyncLog) Complete(res BatchResult) {
	l.Success = res.Success
	l.ItemsSynced = res.Synced
	l.Conflicts = res.Conflicts
	l.Failed = res.Failed
	l.Downloaded = res.Downloaded
	if res.Err != nil {
		l.ErrorType = errorTypeOf(res.Err)
		l.ErrorMessage = res.Err.Error()
	}
	l.CompletedAt = time.Now().UTC()
}

// Duration is how long the run took
func (l *SyncLog) Duration() time.Duration {
	return l.CompletedAt.Sub(l.StartedAt)
}
