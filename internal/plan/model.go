// Package plan holds the monthly budget plan model, its local SQLite
// persistence and the in-memory store the sync engine reconciles.
package plan

import (
	"fmt"
	"time"

	"github.com/tildaslashalef/budgetsync/internal/ulid"
)

// MonthLayout is the format of Plan.Month
const MonthLayout = "2006-01"

// LineItem is an income or expense line. Amounts are in cents.
type LineItem struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
}

// Envelope is a spending category with a monthly budget. Amounts are in cents.
type Envelope struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Budget int64  `json:"budget"`
	Spent  int64  `json:"spent"`
}

// Plan is a monthly budget, the unit of synchronization
type Plan struct {
	ID        string
	Name      string
	Month     string
	Incomes   []LineItem
	Expenses  []LineItem
	Envelopes []Envelope
	CreatedAt time.Time
	UpdatedAt time.Time

	// Syncable is false for demo content, which never leaves the device
	Syncable bool
}

// Payload is the serialized content of a plan, stored as a JSON blob both
// locally and remotely
type Payload struct {
	Month     string     `json:"month"`
	Incomes   []LineItem `json:"incomes"`
	Expenses  []LineItem `json:"expenses"`
	Envelopes []Envelope `json:"envelopes"`
}

// Timestamp normalizes t to UTC with millisecond precision, the resolution
// both stores keep. Every timestamp written to a plan goes through it.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// DefaultName returns the label given to a plan for month
func DefaultName(month string) string {
	return "Plan " + month
}

// New creates an empty syncable plan for month
func New(month string, now time.Time) *Plan {
	ts := Timestamp(now)
	return &Plan{
		ID:        ulid.PlanID(),
		Name:      DefaultName(month),
		Month:     month,
		Incomes:   []LineItem{},
		Expenses:  []LineItem{},
		Envelopes: []Envelope{},
		CreatedAt: ts,
		UpdatedAt: ts,
		Syncable:  true,
	}
}

// NewDemo creates the tutorial plan shown to new users. It is never synced.
func NewDemo(now time.Time) *Plan {
	p := New(now.Format(MonthLayout), now)
	p.Name = "Demo plan"
	p.Syncable = false
	p.Incomes = []LineItem{{ID: ulid.LineItemID(), Label: "Salary", Amount: 320000}}
	p.Expenses = []LineItem{
		{ID: ulid.LineItemID(), Label: "Rent", Amount: 110000},
		{ID: ulid.LineItemID(), Label: "Utilities", Amount: 15000},
	}
	p.Envelopes = []Envelope{
		{ID: ulid.LineItemID(), Label: "Groceries", Budget: 45000},
		{ID: ulid.LineItemID(), Label: "Leisure", Budget: 20000},
	}
	return p
}

// Touch records a local mutation. UpdatedAt never moves backwards.
func (p *Plan) Touch(now time.Time) {
	ts := Timestamp(now)
	if ts.After(p.UpdatedAt) {
		p.UpdatedAt = ts
	} else {
		p.UpdatedAt = p.UpdatedAt.Add(time.Millisecond)
	}
}

// Validate checks the fields every stored plan must carry
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan id cannot be empty")
	}
	if p.Name == "" {
		return fmt.Errorf("plan name cannot be empty")
	}
	if p.Month != "" {
		if _, err := time.Parse(MonthLayout, p.Month); err != nil {
			return fmt.Errorf("invalid month %q: expected YYYY-MM", p.Month)
		}
	}
	if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
		return fmt.Errorf("plan timestamps must be set")
	}
	return nil
}

// Payload returns the serializable content of the plan
func (p *Plan) Payload() Payload {
	return Payload{
		Month:     p.Month,
		Incomes:   nonNil(p.Incomes),
		Expenses:  nonNil(p.Expenses),
		Envelopes: nonNil(p.Envelopes),
	}
}

// ApplyPayload replaces the plan content with pl
func (p *Plan) ApplyPayload(pl Payload) {
	p.Month = pl.Month
	p.Incomes = nonNil(pl.Incomes)
	p.Expenses = nonNil(pl.Expenses)
	p.Envelopes = nonNil(pl.Envelopes)
}

// Clone returns a deep copy of the plan
func (p *Plan) Clone() *Plan {
	c := *p
	c.Incomes = append([]LineItem{}, p.Incomes...)
	c.Expenses = append([]LineItem{}, p.Expenses...)
	c.Envelopes = append([]Envelope{}, p.Envelopes...)
	return &c
}

// TotalIncome sums the income lines
func (p *Plan) TotalIncome() int64 {
	return sumItems(p.Incomes)
}

// TotalExpenses sums the expense lines
func (p *Plan) TotalExpenses() int64 {
	return sumItems(p.Expenses)
}

// TotalBudgeted sums the envelope budgets
func (p *Plan) TotalBudgeted() int64 {
	var total int64
	for _, e := range p.Envelopes {
		total += e.Budget
	}
	return total
}

// Unallocated is income left after expenses and envelope budgets
func (p *Plan) Unallocated() int64 {
	return p.TotalIncome() - p.TotalExpenses() - p.TotalBudgeted()
}

func sumItems(items []LineItem) int64 {
	var total int64
	for _, it := range items {
		total += it.Amount
	}
	return total
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
