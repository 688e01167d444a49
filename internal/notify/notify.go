// Package notify renders sync events for people and for the log
package notify

import (
	"fmt"
	"io"
	stdsync "sync"

	"github.com/fatih/color"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/sync"
)

// Console prints events as colored one line messages
type Console struct {
	mu      stdsync.Mutex
	out     io.Writer
	verbose bool
}

// NewConsole creates a console sink. Progress events are only printed
// when verbose is set.
func NewConsole(out io.Writer, verbose bool) *Console {
	return &Console{out: out, verbose: verbose}
}

// Notify implements sync.Observer
func (c *Console) Notify(e sync.Event) {
	if !c.verbose && quiet(e.Kind) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, symbol(e.Kind)+" "+e.Message())
}

func quiet(kind sync.EventKind) bool {
	switch kind {
	case sync.EventSyncStarted, sync.EventUploadSucceeded:
		return true
	default:
		return false
	}
}

func symbol(kind sync.EventKind) string {
	switch kind {
	case sync.EventSyncSucceeded, sync.EventUploadSucceeded, sync.EventDownloadSucceeded, sync.EventPlanCreated:
		return color.GreenString("✓")
	case sync.EventSyncFailed, sync.EventNetworkError:
		return color.RedString("✗")
	case sync.EventConflictResolved, sync.EventPlanCreatedLocalOnly:
		return color.YellowString("⚠")
	default:
		return color.BlueString("ℹ")
	}
}

// Log writes events to a structured logger
type Log struct {
	logger *loggy.Logger
}

// NewLog creates a log sink
func NewLog(logger *loggy.Logger) *Log {
	return &Log{logger: logger}
}

// Notify implements sync.Observer
func (l *Log) Notify(e sync.Event) {
	args := []any{"event", e.Kind}
	if e.PlanID != "" {
		args = append(args, "plan_id", e.PlanID)
	}
	if e.Winner != "" {
		args = append(args, "winner", e.Winner)
	}
	if e.Total > 0 || e.Synced > 0 || e.Failed > 0 {
		args = append(args, "total", e.Total, "synced", e.Synced, "conflicts", e.Conflicts, "failed", e.Failed)
	}
	if e.Downloaded > 0 {
		args = append(args, "downloaded", e.Downloaded)
	}

	if e.Err != nil {
		l.logger.Warn(e.Message(), append(args, "error", e.Err)...)
		return
	}
	l.logger.Info(e.Message(), args...)
}
