// Package ulid wraps github.com/oklog/ulid/v2 with typed prefixes for the
// identifiers budgetsync hands out.
//
// Plan identifiers double as the remote natural key, so they must be globally
// unique and stable from the moment a plan is created on a device. ULIDs give
// that without coordination and also sort by creation time.
package ulid

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes for the identifiers issued by the application
const (
	PrefixPlan     = "plan"
	PrefixLineItem = "item"
	PrefixRequest  = "req"
	PrefixSyncLog  = "sync"
	PrefixSetting  = "set"

	// PrefixSeparator is used to separate the prefix from the ULID
	PrefixSeparator = "-"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// ULID is a ulid.ULID with an optional prefix
type ULID struct {
	ulid.ULID
	prefix string
}

// Generate creates a new ULID with the current timestamp
func Generate() ULID {
	return NewWithTime(time.Now())
}

// GenerateWithPrefix creates a new ULID with the current timestamp and a prefix
func GenerateWithPrefix(prefix string) ULID {
	id := NewWithTime(time.Now())
	id.prefix = prefix
	return id
}

// NewWithTime creates a new ULID with a specific timestamp
func NewWithTime(t time.Time) ULID {
	entropyLock.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	entropyLock.Unlock()
	return ULID{id, ""}
}

// Parse parses a plain ("01AN4Z07BY79KA1307SR9X4MV3") or prefixed
// ("plan-01AN4Z07BY79KA1307SR9X4MV3") ULID string.
func Parse(id string) (ULID, error) {
	prefix, raw, found := strings.Cut(id, PrefixSeparator)
	if !found {
		raw, prefix = prefix, ""
	}

	parsed, err := ulid.Parse(raw)
	if err != nil {
		return ULID{}, err
	}
	return ULID{parsed, prefix}, nil
}

// Validate reports whether id is a valid plain or prefixed ULID
func Validate(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// Prefix returns the prefix of the ULID
func (u ULID) Prefix() string {
	return u.prefix
}

// HasPrefix returns true if the ULID has a prefix
func (u ULID) HasPrefix() bool {
	return u.prefix != ""
}

// IsZero returns true if the ULID is the zero value
func (u ULID) IsZero() bool {
	return u.ULID == ulid.ULID{}
}

// String returns "prefix-ulid" when a prefix is set, the bare ULID otherwise
func (u ULID) String() string {
	if u.prefix != "" {
		return u.prefix + PrefixSeparator + u.ULID.String()
	}
	return u.ULID.String()
}

// Time returns the timestamp component of the ULID
func (u ULID) Time() time.Time {
	return ulid.Time(u.ULID.Time())
}

// PlanID generates a new plan identifier
func PlanID() string {
	return GenerateWithPrefix(PrefixPlan).String()
}

// LineItemID generates a new identifier for an income, expense or envelope line
func LineItemID() string {
	return GenerateWithPrefix(PrefixLineItem).String()
}

// RequestID generates a new request identifier
func RequestID() string {
	return GenerateWithPrefix(PrefixRequest).String()
}

// SyncLogID generates a new sync log identifier
func SyncLogID() string {
	return GenerateWithPrefix(PrefixSyncLog).String()
}

// SettingID generates a new setting identifier
func SettingID() string {
	return GenerateWithPrefix(PrefixSetting).String()
}
