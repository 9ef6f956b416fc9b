package tracker

import (
	"context"
	"errors"
	"time"
)

// Config configures the tracking store.
//
// Driver values:
//   - "file": JSON file with atomic replace (default)
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver string
	Path   string

	// Window is how long a sent event suppresses re-notification.
	Window time.Duration

	BusyTimeout time.Duration // sqlite only; 0 means default
}

var ErrNoPath = errors.New("tracker: path is required")

// Backend loads and saves the raw id -> sentAt mapping.
//
// Load must fail soft: a missing or unreadable store comes back as an
// empty map, never an error, so a corrupted file cannot stall the
// pipeline. rewrite reports that the on-disk state differs from what
// was loaded (legacy representation, or entries dropped as invalid)
// and must be persisted again immediately.
type Backend interface {
	Load(ctx context.Context) (entries map[int64]time.Time, rewrite bool, err error)
	Save(ctx context.Context, entries map[int64]time.Time, now time.Time) error
	Close() error
}
