// Package migrations provides the embedded SQL migrations for the local
// SQLite store and the shared Postgres plan store
package migrations

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql
var migrationsFS embed.FS

// Schema selects one of the embedded migration sets
type Schema string

const (
	// Local is the on-device SQLite schema
	Local Schema = "local"
	// Remote is the shared Postgres schema
	Remote Schema = "remote"
)

// GetSource creates a migrate source from the embedded migrations of schema
func GetSource(schema Schema) (source.Driver, error) {
	sub, err := fs.Sub(migrationsFS, "sql/"+string(schema))
	if err != nil {
		return nil, fmt.Errorf("failed to access embedded %s migrations: %w", schema, err)
	}

	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create %s migration source: %w", schema, err)
	}

	return src, nil
}
