package event

import (
	"sort"
	"time"
)

// Column names the events query must return. Anything else the query
// yields is carried along as a display-only extra column.
const (
	ColID         = "id"
	ColName       = "event_name"
	ColCreatedAt  = "created_at"
	ColRoutingKey = "email"
)

// RequiredColumns lists the columns validated on every non-empty query result.
var RequiredColumns = []string{ColID, ColName, ColCreatedAt, ColRoutingKey}

// Event is one candidate row from the events query. It is immutable
// within a run; Router and renderers work on copies.
type Event struct {
	ID         int64
	Name       string
	CreatedAt  time.Time
	RoutingKey string // classification attribute, e.g. a contact email

	// Extra holds display-only columns in query order.
	Extra []Column
}

// Column is a display-only column carried through to rendering.
type Column struct {
	Name  string
	Value string
}

// WithoutRoutingKey returns a copy whose routing key is cleared so it
// never shows up in rendered output.
func (e Event) WithoutRoutingKey() Event {
	cp := e
	cp.RoutingKey = ""
	cp.Extra = append([]Column(nil), e.Extra...)
	return cp
}

// IDs returns the ids of events in order.
func IDs(events []Event) []int64 {
	out := make([]int64, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}

// IDSet is the set of event ids confirmed sent during a run.
type IDSet map[int64]struct{}

func (s IDSet) Add(ids ...int64) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the set as an ascending slice, mostly for logs and tests.
func (s IDSet) Sorted() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
