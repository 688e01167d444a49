// Package remote maps plans to rows of the remote monthly_plans table and
// runs the statements the sync engine needs through a transport adapter
package remote

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tildaslashalef/budgetsync/internal/plan"
	"github.com/tildaslashalef/budgetsync/internal/transport"
)

// Row is one record of the remote table
type Row struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	PlanID    string    `json:"plan_id"`
	Name      string    `json:"name"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// postgresLayout is how Postgres renders timestamptz as text
const postgresLayout = "2006-01-02 15:04:05.999999999-07"

// Encode converts a plan into a remote row. ID and UserID are left for the
// store to fill.
func Encode(p *plan.Plan) (Row, error) {
	data, err := json.Marshal(p.Payload())
	if err != nil {
		return Row{}, fmt.Errorf("encoding plan %s: %w", p.ID, err)
	}

	return Row{
		PlanID:    p.ID,
		Name:      p.Name,
		Data:      string(data),
		CreatedAt: plan.Timestamp(p.CreatedAt),
		UpdatedAt: plan.Timestamp(p.UpdatedAt),
	}, nil
}

// Decode converts a remote row into a plan. Anything stored remotely is
// syncable by definition.
func Decode(r Row) (*plan.Plan, error) {
	if r.PlanID == "" {
		return nil, fmt.Errorf("remote row %s has no plan id", r.ID)
	}

	var payload plan.Payload
	if r.Data != "" {
		if err := json.Unmarshal([]byte(r.Data), &payload); err != nil {
			return nil, fmt.Errorf("decoding plan %s: %w", r.PlanID, err)
		}
	}

	p := &plan.Plan{
		ID:        r.PlanID,
		Name:      r.Name,
		CreatedAt: plan.Timestamp(r.CreatedAt),
		UpdatedAt: plan.Timestamp(r.UpdatedAt),
		Syncable:  true,
	}
	p.ApplyPayload(payload)
	if p.Name == "" {
		p.Name = plan.DefaultName(p.Month)
	}
	return p, nil
}

// rowFromResult reads a row from an adapter result. Values arrive as
// native driver types over the direct adapter and as JSON over the proxy.
func rowFromResult(m transport.Row) (Row, error) {
	var r Row
	var err error

	r.ID = asString(m["id"])
	r.UserID = asString(m["user_id"])
	r.PlanID = asString(m["plan_id"])
	r.Name = asString(m["name"])

	if r.Data, err = asJSON(m["data"]); err != nil {
		return Row{}, fmt.Errorf("reading data of %s: %w", r.PlanID, err)
	}
	if r.CreatedAt, err = asTime(m["created_at"]); err != nil {
		return Row{}, fmt.Errorf("reading created_at of %s: %w", r.PlanID, err)
	}
	if r.UpdatedAt, err = asTime(m["updated_at"]); err != nil {
		return Row{}, fmt.Errorf("reading updated_at of %s: %w", r.PlanID, err)
	}
	return r, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func asJSON(v any) (string, error) {
	switch d := v.(type) {
	case nil:
		return "", nil
	case string:
		return d, nil
	case []byte:
		return string(d), nil
	case json.RawMessage:
		return string(d), nil
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, nil
		}
		return time.Parse(postgresLayout, t)
	case nil:
		return time.Time{}, fmt.Errorf("missing timestamp")
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
}

// formatTime renders a timestamp parameter. Both adapters send text so the
// statement behaves the same whichever path it takes.
func formatTime(t time.Time) string {
	return plan.Timestamp(t).Format(time.RFC3339Nano)
}
