// Package source executes the events query against PostgreSQL and maps
// rows into domain events. SQL lives in files on disk; the package only
// validates and runs them.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"eventwatch/internal/event"
	"eventwatch/pkg/logx"
)

// ErrMissingColumns marks a query result that lacks required columns.
// The orchestrator treats it as a configuration error: the run aborts,
// the process keeps cycling.
var ErrMissingColumns = errors.New("query result missing required columns")

// Params are the filter criteria bound to the events query, in
// positional order $1..$5.
type Params struct {
	TypeID       int
	StatusID     int
	NameFilter   string // bound as %filter%
	NameExclude  string // bound as %exclude%
	LookbackDays int
}

// TypeStatus carries the display labels for the queried type/status ids.
type TypeStatus struct {
	TypeName   string
	StatusName string
}

// Source runs queries loaded from the queries directory.
type Source struct {
	db  *sql.DB
	dir string
	log logx.Logger
}

func New(db *sql.DB, queriesDir string, log logx.Logger) *Source {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Source{db: db, dir: queriesDir, log: log}
}

// FetchEvents loads the query file, executes it with the given params,
// and maps rows to events. Required columns are validated only when the
// result set is non-empty; extra columns are carried through in query
// order as display-only values.
func (s *Source) FetchEvents(ctx context.Context, queryFile string, p Params) ([]event.Event, error) {
	query, err := LoadQuery(s.dir, queryFile)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query,
		p.TypeID, p.StatusID, "%"+p.NameFilter+"%", "%"+p.NameExclude+"%", p.LookbackDays)
	if err != nil {
		return nil, fmt.Errorf("events query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("events query columns: %w", err)
	}

	var records []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("events query scan: %w", err)
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			rec[c] = values[i]
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events query rows: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}
	if err := validateColumns(cols); err != nil {
		return nil, err
	}

	events := make([]event.Event, 0, len(records))
	for _, rec := range records {
		e, err := mapRecord(cols, rec)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	s.log.Info("events query returned rows", logx.Int("rows", len(events)))
	return events, nil
}

// FetchTypeStatus resolves the display names of the configured type and
// status ids. Failures degrade to defaults; the report is still useful
// without pretty labels.
func (s *Source) FetchTypeStatus(ctx context.Context, queryFile string, typeID, statusID int) TypeStatus {
	def := TypeStatus{TypeName: "Default Type", StatusName: "Default Status"}
	if queryFile == "" {
		return def
	}
	query, err := LoadQuery(s.dir, queryFile)
	if err != nil {
		s.log.Warn("type/status query unavailable", logx.Err(err))
		return def
	}

	var ts TypeStatus
	err = s.db.QueryRowContext(ctx, query, typeID, statusID).Scan(&ts.TypeName, &ts.StatusName)
	if err != nil {
		s.log.Warn("type/status lookup failed", logx.Err(err))
		return def
	}
	return ts
}

func validateColumns(cols []string) error {
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c] = true
	}
	var missing []string
	for _, req := range event.RequiredColumns {
		if !have[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %v (available: %v)", ErrMissingColumns, missing, cols)
	}
	return nil
}

func mapRecord(cols []string, rec map[string]any) (event.Event, error) {
	var e event.Event

	id, err := asInt64(rec[event.ColID])
	if err != nil {
		return e, fmt.Errorf("column %q: %w", event.ColID, err)
	}
	e.ID = id
	e.Name = asString(rec[event.ColName])
	e.RoutingKey = asString(rec[event.ColRoutingKey])

	at, err := asTime(rec[event.ColCreatedAt])
	if err != nil {
		return e, fmt.Errorf("column %q: %w", event.ColCreatedAt, err)
	}
	e.CreatedAt = at

	for _, c := range cols {
		switch c {
		case event.ColID, event.ColName, event.ColCreatedAt, event.ColRoutingKey:
			continue
		}
		e.Extra = append(e.Extra, event.Column{Name: c, Value: asString(rec[c])})
	}
	return e, nil
}

func asInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	case string:
		return strconv.ParseInt(x, 10, 64)
	case nil:
		return 0, errors.New("null value")
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func asTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case []byte:
		return parseDBTime(string(x))
	case string:
		return parseDBTime(x)
	case nil:
		return time.Time{}, errors.New("null value")
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", v)
	}
}

func parseDBTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(x)
	}
}
