package tracker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"eventwatch/pkg/logx"
)

// fileBackend persists the tracking store as a single JSON document:
//
//	{
//	  "sent_events": { "101": "2025-10-29T08:00:00+02:00" },
//	  "last_updated": "2025-10-29T10:00:00+02:00"
//	}
//
// A legacy layout {"sent_event_ids": [101, ...]} is still accepted on
// read; each id gets the load time as its synthetic sent timestamp.
type fileBackend struct {
	path string
	log  logx.Logger
	now  func() time.Time
}

type wireStore struct {
	SentEvents  map[string]string `json:"sent_events"`
	LastUpdated string            `json:"last_updated,omitempty"`

	// Legacy field, read-only.
	SentEventIDs []int64 `json:"sent_event_ids,omitempty"`
}

func openFile(cfg Config, log logx.Logger, now func() time.Time) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, ErrNoPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileBackend{path: path, log: log, now: now}, nil
}

func (b *fileBackend) Close() error { return nil }

func (b *fileBackend) Load(ctx context.Context) (map[int64]time.Time, bool, error) {
	_ = ctx
	entries := map[int64]time.Time{}

	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			b.log.Info("tracking file not found, starting with empty history", logx.String("path", b.path))
			return entries, false, nil
		}
		b.log.Warn("tracking file unreadable, starting with empty history",
			logx.String("path", b.path), logx.Err(err))
		return entries, false, nil
	}

	var wire wireStore
	if err := json.Unmarshal(data, &wire); err != nil {
		b.log.Warn("tracking file corrupted, starting with empty history",
			logx.String("path", b.path), logx.Err(err))
		return entries, false, nil
	}

	// Legacy list of bare ids: stamp each with the load time so the
	// expiry window starts counting from now.
	if len(wire.SentEvents) == 0 && len(wire.SentEventIDs) > 0 {
		b.log.Info("converting legacy tracking format",
			logx.Int("ids", len(wire.SentEventIDs)))
		now := b.now()
		for _, id := range wire.SentEventIDs {
			entries[id] = now
		}
		return entries, true, nil
	}

	invalid := 0
	for key, raw := range wire.SentEvents {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			b.log.Warn("dropping tracking entry with invalid id", logx.String("id", key))
			invalid++
			continue
		}
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			// Never keep an entry we cannot date; it would suppress
			// notifications forever.
			b.log.Warn("dropping tracking entry with invalid timestamp",
				logx.Int64("id", id), logx.String("sent_at", raw))
			invalid++
			continue
		}
		entries[id] = at
	}
	// Dropped entries must not survive on disk; ask for a rewrite.
	return entries, invalid > 0, nil
}

// Save writes to a temp file in the same directory and renames it over
// the target, so a crash mid-write leaves the previous file intact.
func (b *fileBackend) Save(ctx context.Context, entries map[int64]time.Time, now time.Time) error {
	_ = ctx

	wire := wireStore{
		SentEvents:  make(map[string]string, len(entries)),
		LastUpdated: now.Format(time.RFC3339Nano),
	}
	for id, at := range entries {
		// RFC3339Nano keeps sub-second precision so a reload returns
		// exactly what was committed; whole-second values still render
		// without a fraction.
		wire.SentEvents[strconv.FormatInt(id, 10)] = at.Format(time.RFC3339Nano)
	}

	data, err := json.MarshalIndent(sortedWire(wire), "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, ".sent_events-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// sortedWire keeps the file diff-friendly: ids ascend numerically.
// encoding/json sorts map keys lexically, which misorders numbers, so
// emit an ordered document instead.
func sortedWire(w wireStore) orderedWire {
	keys := make([]string, 0, len(w.SentEvents))
	for k := range w.SentEvents {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.ParseInt(keys[i], 10, 64)
		b, _ := strconv.ParseInt(keys[j], 10, 64)
		return a < b
	})
	return orderedWire{keys: keys, w: w}
}

type orderedWire struct {
	keys []string
	w    wireStore
}

func (o orderedWire) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteString(`{"sent_events":{`)
	for i, k := range o.keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(o.w.SentEvents[k])
		sb.Write(kb)
		sb.WriteByte(':')
		sb.Write(vb)
	}
	sb.WriteString(`},"last_updated":`)
	lb, _ := json.Marshal(o.w.LastUpdated)
	sb.Write(lb)
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}
