package sync

import (
	"fmt"
	stdsync "sync"
	"time"

	"github.com/tildaslashalef/budgetsync/internal/loggy"
)

// EventKind names a user facing sync notification
type EventKind string

const (
	EventSyncStarted          EventKind = "sync_started"
	EventSyncSucceeded        EventKind = "sync_succeeded"
	EventSyncFailed           EventKind = "sync_failed"
	EventConflictResolved     EventKind = "conflict_resolved"
	EventUploadSucceeded      EventKind = "upload_succeeded"
	EventDownloadSucceeded    EventKind = "download_succeeded"
	EventNetworkError         EventKind = "network_error"
	EventPlanCreated          EventKind = "plan_created"
	EventPlanCreatedLocalOnly EventKind = "plan_created_local_only"
	EventPlanDeleted          EventKind = "plan_deleted"
)

// Side is the winner of a conflict
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Event is one notification
type Event struct {
	Kind     EventKind
	Time     time.Time
	PlanID   string
	PlanName string
	Winner   Side

	Total      int
	Synced     int
	Conflicts  int
	Failed     int
	Downloaded int

	Err error
}

// Message renders the event for people
func (e Event) Message() string {
	switch e.Kind {
	case EventSyncStarted:
		return fmt.Sprintf("Syncing %d plans", e.Total)
	case EventSyncSucceeded:
		return fmt.Sprintf("Sync complete: %d synced, %d conflicts resolved, %d downloaded", e.Synced, e.Conflicts, e.Downloaded)
	case EventSyncFailed:
		if e.Failed > 0 {
			return fmt.Sprintf("Sync incomplete: %d of %d plans failed: %v", e.Failed, e.Total, e.Err)
		}
		return fmt.Sprintf("Sync failed: %v", e.Err)
	case EventConflictResolved:
		return fmt.Sprintf("Conflict on %q resolved, kept the %s version", e.PlanName, e.Winner)
	case EventUploadSucceeded:
		return fmt.Sprintf("Uploaded %q", e.PlanName)
	case EventDownloadSucceeded:
		return fmt.Sprintf("Downloaded %d plans from the cloud", e.Downloaded)
	case EventNetworkError:
		return fmt.Sprintf("Network problem: %v", e.Err)
	case EventPlanCreated:
		return fmt.Sprintf("Created %q and saved it to the cloud", e.PlanName)
	case EventPlanCreatedLocalOnly:
		return fmt.Sprintf("Created %q on this device only; it will sync later", e.PlanName)
	case EventPlanDeleted:
		return fmt.Sprintf("Deleted %q", e.PlanName)
	default:
		return string(e.Kind)
	}
}

// Observer receives sync notifications
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// Notify implements Observer
func (f ObserverFunc) Notify(e Event) { f(e) }

// Notifier fans events out to observers. A nil Notifier drops events, and a
// panicking observer never reaches the caller.
type Notifier struct {
	mu        stdsync.RWMutex
	observers []Observer
	logger    *loggy.Logger
}

// NewNotifier creates a notifier
func NewNotifier(logger *loggy.Logger, observers ...Observer) *Notifier {
	return &Notifier{observers: observers, logger: logger}
}

// Subscribe adds an observer
func (n *Notifier) Subscribe(o Observer) {
	if n == nil || o == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers = append(n.observers, o)
}

// Emit delivers e to every observer
func (n *Notifier) Emit(e Event) {
	if n == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	n.mu.RLock()
	observers := append([]Observer(nil), n.observers...)
	n.mu.RUnlock()

	for _, o := range observers {
		n.deliver(o, e)
	}
}

func (n *Notifier) deliver(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil && n.logger != nil {
			n.logger.Warn("Sync observer panicked", "event", e.Kind, "panic", r)
		}
	}()
	o.Notify(e)
}
