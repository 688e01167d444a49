// Package transport executes parameterized SQL against the remote plan store,
// either directly over a Postgres connection or through the HTTP proxy.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// Code classifies a remote failure
type Code string

const (
	// CodeNetwork is a connectivity failure or timeout; worth retrying
	CodeNetwork Code = "NETWORK"
	// CodeAuth is a missing or rejected credential
	CodeAuth Code = "AUTH"
	// CodeServer is a failure reported by the database or proxy
	CodeServer Code = "SERVER"
	// CodeConflict is a uniqueness violation, e.g. a concurrent insert
	CodeConflict Code = "CONFLICT"
	// CodeUnknown is anything else
	CodeUnknown Code = "UNKNOWN"
)

// Retryable reports whether an operation failing with c may succeed on retry
func (c Code) Retryable() bool {
	return c == CodeNetwork || c == CodeUnknown
}

// UserIDParam is the placeholder value clients bind for the caller's user id.
// The trusted side of the transport substitutes the authenticated id; a
// client can never name another user.
const UserIDParam = "__USER_ID__"

// Error is the typed failure returned by every adapter
type Error struct {
	Code    Code
	Message string
	Details string

	// Reason is the proxy wire code, e.g. SQL_SYNTAX_ERROR, when known
	Reason string
	Err    error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a transport error
func NewError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf classifies err. Errors that did not come from an adapter are
// classified as NETWORK when they look like connectivity problems.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var terr *Error
	if errors.As(err, &terr) {
		return terr.Code
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CodeNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// Query is a parameterized statement
type Query struct {
	SQL    string `json:"query"`
	Params []any  `json:"params"`
}

// Row is one result row keyed by column name
type Row map[string]any

// Rows is an ordered result set
type Rows []Row

// Adapter executes queries against the remote store
type Adapter interface {
	Execute(ctx context.Context, q Query) (Rows, error)
}

var (
	userFilter  = regexp.MustCompile(`(?is)\bwhere\b.*\buser_id\b`)
	userInsert  = regexp.MustCompile(`(?is)^\s*insert\b.*\buser_id\b`)
	userCompare = regexp.MustCompile(`(?i)\buser_id\s*(?:=|<>|!=|\blike\b)\s*(\$(\d+))?`)
	userLeft    = regexp.MustCompile(`(?i)('[^']*'|\$\d+|[\w.]+)\s*(?:=|<>|!=)\s*(?:\w+\.)?user_id\b`)
	userList    = regexp.MustCompile(`(?i)\buser_id\s+(?:not\s+)?in\b`)
	insertShape = regexp.MustCompile(`(?is)^\s*insert\s+into\s+[^\s(]+\s*\(([^)]*)\)\s*values\s*\((.*)\)\s*;?\s*$`)
	multiRow    = regexp.MustCompile(`\)\s*,\s*\(`)
)

// IsUserScoped reports whether the statement filters on user_id, or is an
// insert that sets it. Statements that don't are flagged rather than
// silently run.
func IsUserScoped(sql string) bool {
	return userFilter.MatchString(sql) || userInsert.MatchString(sql)
}

// CheckScope verifies that q only touches the caller's rows. Besides
// referencing user_id, every user_id it compares against or inserts must be
// bound to UserIDParam; a literal or any other bound value is rejected.
func CheckScope(q Query) error {
	if !IsUserScoped(q.SQL) {
		return scopeError("query is not scoped to a user")
	}
	if !NeedsUser(q.Params) {
		return scopeError("query does not bind the user placeholder")
	}

	if userList.MatchString(q.SQL) {
		return scopeError("user_id lists are not allowed")
	}
	for _, m := range userCompare.FindAllStringSubmatch(q.SQL, -1) {
		if !boundToUser(q.Params, m[2]) {
			return scopeError("user_id must be bound to the user placeholder")
		}
	}
	for _, m := range userLeft.FindAllStringSubmatch(q.SQL, -1) {
		if !strings.HasPrefix(m[1], "$") || !boundToUser(q.Params, m[1][1:]) {
			return scopeError("user_id must be bound to the user placeholder")
		}
	}

	if userInsert.MatchString(q.SQL) {
		m := insertShape.FindStringSubmatch(q.SQL)
		if m == nil || multiRow.MatchString(m[2]) {
			return scopeError("only single row inserts with a column list are allowed")
		}
		columns := strings.Split(m[1], ",")
		values := strings.Split(m[2], ",")
		for i, col := range columns {
			if !strings.EqualFold(strings.TrimSpace(col), "user_id") {
				continue
			}
			if i >= len(values) || !boundToUser(q.Params, strings.TrimPrefix(strings.TrimSpace(values[i]), "$")) {
				return scopeError("user_id must be bound to the user placeholder")
			}
		}
	}
	return nil
}

// boundToUser reports whether the 1-based placeholder n carries UserIDParam
func boundToUser(params []any, n string) bool {
	i, err := strconv.Atoi(n)
	if err != nil || i < 1 || i > len(params) {
		return false
	}
	s, ok := params[i-1].(string)
	return ok && s == UserIDParam
}

func scopeError(message string) *Error {
	return &Error{Code: CodeServer, Message: message, Reason: ReasonPermissionDenied}
}

// BindUser returns params with every UserIDParam placeholder replaced by
// userID
func BindUser(params []any, userID string) []any {
	out := make([]any, len(params))
	for i, p := range params {
		if s, ok := p.(string); ok && s == UserIDParam {
			out[i] = userID
			continue
		}
		out[i] = p
	}
	return out
}

// NeedsUser reports whether any param is the UserIDParam placeholder
func NeedsUser(params []any) bool {
	for _, p := range params {
		if s, ok := p.(string); ok && s == UserIDParam {
			return true
		}
	}
	return false
}

type contextKey int

const (
	userIDKey contextKey = iota
	unscopedKey
)

// WithUserID attaches an authenticated user id to ctx. The proxy server uses
// it to hand the token subject to the direct adapter.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the user id attached by WithUserID
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// WithUnscoped marks ctx as running administrative statements that are not
// tied to one user, such as backups. Only the direct adapter honors it.
func WithUnscoped(ctx context.Context) context.Context {
	return context.WithValue(ctx, unscopedKey, true)
}

func isUnscoped(ctx context.Context) bool {
	v, _ := ctx.Value(unscopedKey).(bool)
	return v
}
