package transport

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/tildaslashalef/budgetsync/internal/loggy"
)

// Wire reasons reported by the proxy, carried on Error.Reason
const (
	ReasonUnauthorized     = "UNAUTHORIZED"
	ReasonInvalidRequest   = "INVALID_REQUEST"
	ReasonSQLSyntax        = "SQL_SYNTAX_ERROR"
	ReasonPermissionDenied = "PERMISSION_DENIED"
	ReasonDatabase         = "DATABASE_ERROR"
	ReasonRateLimited      = "RATE_LIMITED"
	ReasonConflict         = "CONFLICT"
)

// Identity reports the user a direct adapter acts for
type Identity interface {
	UserID() (string, bool)
}

// Direct runs queries over a database/sql connection to Postgres. It is
// used in trusted environments and behind the proxy server.
type Direct struct {
	db       *sql.DB
	identity Identity
	strict   bool
	logger   *loggy.Logger
}

// DirectOption configures a Direct adapter
type DirectOption func(*Direct)

// WithStrictScoping rejects statements that don't reference user_id instead
// of logging a warning
func WithStrictScoping(strict bool) DirectOption {
	return func(d *Direct) {
		d.strict = strict
	}
}

// OpenPostgres opens a pooled connection through the pgx stdlib driver
func OpenPostgres(dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// NewDirect creates a direct adapter. identity may be nil when every call
// carries a user through WithUserID.
func NewDirect(db *sql.DB, identity Identity, logger *loggy.Logger, opts ...DirectOption) *Direct {
	d := &Direct{
		db:       db,
		identity: identity,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Close closes the underlying connection pool
func (d *Direct) Close() error {
	return d.db.Close()
}

// Execute implements Adapter
func (d *Direct) Execute(ctx context.Context, q Query) (Rows, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok && d.identity != nil {
		userID, ok = d.identity.UserID()
	}

	if NeedsUser(q.Params) && !ok {
		return nil, &Error{Code: CodeAuth, Message: "no authenticated user", Reason: ReasonUnauthorized}
	}

	if !isUnscoped(ctx) {
		if d.strict {
			if err := CheckScope(q); err != nil {
				return nil, err
			}
		} else if !IsUserScoped(q.SQL) {
			d.logger.Warn("Query is not scoped to a user", "query", q.SQL)
		}
	}

	rows, err := d.db.QueryContext(ctx, q.SQL, BindUser(q.Params, userID)...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// scanRows reads every row into a column keyed map
func scanRows(rows *sql.Rows) (Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := Rows{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// classify maps driver errors to transport errors
func classify(err error) *Error {
	var terr *Error
	if errors.As(err, &terr) {
		return terr
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		e := &Error{Message: pgErr.Message, Details: pgErr.Detail, Err: err}
		switch {
		case pgErr.Code == "23505":
			e.Code, e.Reason = CodeConflict, ReasonConflict
		case pgErr.Code == "42501":
			e.Code, e.Reason = CodeServer, ReasonPermissionDenied
		case strings.HasPrefix(pgErr.Code, "42"):
			e.Code, e.Reason = CodeServer, ReasonSQLSyntax
		case strings.HasPrefix(pgErr.Code, "28"):
			e.Code, e.Reason = CodeAuth, ReasonDatabase
		case strings.HasPrefix(pgErr.Code, "08"):
			e.Code, e.Reason = CodeNetwork, ReasonDatabase
		default:
			e.Code, e.Reason = CodeServer, ReasonDatabase
		}
		return e
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connErr), errors.As(err, &netErr), pgconn.Timeout(err),
		errors.Is(err, driver.ErrBadConn), errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeNetwork, Message: "database unreachable", Reason: ReasonDatabase, Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Code: CodeNetwork, Message: "request canceled", Err: err}
	}

	return &Error{Code: CodeUnknown, Message: err.Error(), Reason: ReasonDatabase, Err: err}
}
