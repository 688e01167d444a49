// Package backup exports the remote plan table to timestamped JSON dumps
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/remote"
)

// Source lists every remote row. remote.Store implements it.
type Source interface {
	ExportAll(ctx context.Context) ([]remote.Row, error)
}

// Sink stores a finished dump and returns where it went
type Sink interface {
	Put(ctx context.Context, name string, body []byte) (string, error)
}

// Dump is the exported document
type Dump struct {
	CreatedAt time.Time      `json:"created_at"`
	Total     int            `json:"total"`
	Users     map[string]int `json:"users"`
	Plans     []remote.Row   `json:"plans"`
}

// Summary describes a finished export
type Summary struct {
	Location string
	Total    int
	Users    map[string]int
}

// UserIDs returns the exported users sorted
func (s Summary) UserIDs() []string {
	ids := make([]string, 0, len(s.Users))
	for id := range s.Users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Exporter writes dumps of a Source into a Sink
type Exporter struct {
	source Source
	sink   Sink
	logger *loggy.Logger
	now    func() time.Time
}

// NewExporter creates an exporter
func NewExporter(source Source, sink Sink, logger *loggy.Logger) *Exporter {
	return &Exporter{
		source: source,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Run exports every row
func (e *Exporter) Run(ctx context.Context) (Summary, error) {
	rows, err := e.source.ExportAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("reading remote plans: %w", err)
	}

	now := e.now().UTC()
	dump := Dump{
		CreatedAt: now,
		Total:     len(rows),
		Users:     make(map[string]int),
		Plans:     rows,
	}
	for _, r := range rows {
		dump.Users[r.UserID]++
	}

	body, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return Summary{}, fmt.Errorf("encoding backup: %w", err)
	}

	name := fmt.Sprintf("budgetsync-backup-%s.json", now.Format("20060102-150405"))
	location, err := e.sink.Put(ctx, name, body)
	if err != nil {
		return Summary{}, fmt.Errorf("storing backup: %w", err)
	}

	e.logger.Info("Backup written", "location", location, "plans", dump.Total, "users", len(dump.Users))
	return Summary{Location: location, Total: dump.Total, Users: dump.Users}, nil
}

// DirSink writes dumps to a local directory
type DirSink struct {
	Dir string
}

// Put implements Sink
func (s DirSink) Put(_ context.Context, name string, body []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, body, 0600); err != nil {
		return "", fmt.Errorf("writing backup file: %w", err)
	}
	return path, nil
}
