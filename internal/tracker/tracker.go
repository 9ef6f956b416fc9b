package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eventwatch/internal/event"
	"eventwatch/pkg/logx"
)

// Store is the in-memory view of the tracking state for one run. It is
// owned by the orchestrator and never shared across runs.
type Store struct {
	entries map[int64]time.Time
}

func NewStore() *Store {
	return &Store{entries: map[int64]time.Time{}}
}

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

func (s *Store) Has(id int64) bool {
	if s == nil {
		return false
	}
	_, ok := s.entries[id]
	return ok
}

func (s *Store) SentAt(id int64) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	t, ok := s.entries[id]
	return t, ok
}

// Tracker owns the persisted record of already-notified event ids.
type Tracker struct {
	backend Backend
	window  time.Duration
	now     func() time.Time
	log     logx.Logger
}

// New opens the configured backend. now may be nil (wall clock).
func New(cfg Config, log logx.Logger, now func() time.Time) (*Tracker, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if now == nil {
		now = time.Now
	}

	var (
		b   Backend
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		b, err = openFile(cfg, log, now)
	case "sqlite", "sqlite3":
		b, err = openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("tracker: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	return &Tracker{backend: b, window: cfg.Window, now: now, log: log}, nil
}

func (t *Tracker) Close() error { return t.backend.Close() }

// Load reads the persisted state and prunes expired entries.
//
// When pruning removed anything, or the backend dropped or migrated
// entries on the way in, the result is persisted right away so a crash
// before the next explicit Persist can never resurrect stale or
// invalid entries.
func (t *Tracker) Load(ctx context.Context) (*Store, error) {
	entries, rewrite, err := t.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	loaded := len(entries)
	t.log.Info("tracking store loaded", logx.Int("entries", loaded))

	now := t.now()
	kept, removed := prune(entries, now, t.window)
	store := &Store{entries: kept}

	if removed > 0 {
		t.log.Info("expired entries pruned from tracking store",
			logx.Int("removed", removed), logx.Duration("window", t.window))
	}
	if removed > 0 || rewrite {
		if err := t.Persist(ctx, store); err != nil {
			return nil, fmt.Errorf("persist after prune: %w", err)
		}
	}
	return store, nil
}

// FilterUnsent returns the candidates whose id is not tracked yet.
func (t *Tracker) FilterUnsent(candidates []event.Event, store *Store) []event.Event {
	if len(candidates) == 0 {
		return candidates
	}
	out := make([]event.Event, 0, len(candidates))
	for _, c := range candidates {
		if !store.Has(c.ID) {
			out = append(out, c)
		}
	}
	if dropped := len(candidates) - len(out); dropped > 0 {
		t.log.Info("previously sent events filtered out",
			logx.Int("dropped", dropped), logx.Int("remaining", len(out)))
	}
	return out
}

// Commit marks ids as sent at now. It mutates the store in memory only;
// the caller decides when to Persist.
func (t *Tracker) Commit(store *Store, ids []int64, now time.Time) {
	if store.entries == nil {
		store.entries = map[int64]time.Time{}
	}
	for _, id := range ids {
		store.entries[id] = now
	}
}

// Persist writes the store through the backend. A failure here risks
// duplicate notifications on the next run, so it propagates.
func (t *Tracker) Persist(ctx context.Context, store *Store) error {
	if store == nil {
		return errors.New("tracker: nil store")
	}
	if err := t.backend.Save(ctx, store.entries, t.now()); err != nil {
		return fmt.Errorf("save tracking store: %w", err)
	}
	t.log.Info("tracking store persisted", logx.Int("entries", store.Len()))
	return nil
}

// prune drops entries strictly older than now-window. An entry sitting
// exactly on the cutoff is retained. Already-parsed timestamps are
// always valid here; unparseable ones never make it out of a backend.
func prune(entries map[int64]time.Time, now time.Time, window time.Duration) (map[int64]time.Time, int) {
	kept := make(map[int64]time.Time, len(entries))
	if window <= 0 {
		for id, at := range entries {
			kept[id] = at
		}
		return kept, 0
	}
	cutoff := now.Add(-window)
	removed := 0
	for id, at := range entries {
		if at.Before(cutoff) {
			removed++
			continue
		}
		kept[id] = at
	}
	return kept, removed
}
