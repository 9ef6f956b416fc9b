package app

import (
	"context"
	"errors"
	"time"

	"eventwatch/internal/config"
	"eventwatch/internal/delivery"
	"eventwatch/internal/event"
	"eventwatch/internal/render"
	"eventwatch/internal/router"
	"eventwatch/internal/source"
	"eventwatch/internal/tracker"
	"eventwatch/pkg/logx"
)

// eventSource is the slice of internal/source the runner needs.
type eventSource interface {
	FetchEvents(ctx context.Context, queryFile string, p source.Params) ([]event.Event, error)
	FetchTypeStatus(ctx context.Context, queryFile string, typeID, statusID int) source.TypeStatus
}

// deliverer is the slice of internal/delivery the runner needs.
type deliverer interface {
	Enabled() bool
	DeliverAll(ctx context.Context, order []string, groups map[string][]event.Event, rc render.Context) (event.IDSet, []delivery.Outcome)
}

// Runner executes one fetch, filter, route, deliver, commit pass.
// It owns the tracking store for the duration of the pass; the loop
// guarantees passes never overlap.
type Runner struct {
	cfg     *config.Config
	tracker *tracker.Tracker
	source  eventSource
	router  *router.Router
	co      deliverer
	log     logx.Logger
	now     func() time.Time
	dryRun  bool
}

func NewRunner(cfg *config.Config, tr *tracker.Tracker, src eventSource, rt *router.Router, co deliverer, log logx.Logger, now func() time.Time, dryRun bool) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &Runner{cfg: cfg, tracker: tr, source: src, router: rt, co: co, log: log, now: now, dryRun: dryRun}
}

// RunOnce executes a single pass. Errors carry a Kind so the loop can
// log and delay appropriately; a nil return covers both "notified" and
// the normal early exits (no rows, nothing new).
func (r *Runner) RunOnce(ctx context.Context) error {
	start := r.now().In(r.cfg.Location())
	r.log.Info("run started", logx.Time("at", start))

	store, err := r.tracker.Load(ctx)
	if err != nil {
		return runErr(KindPersist, "load tracking store: %w", err)
	}

	events, err := r.source.FetchEvents(ctx, r.cfg.Query.File, source.Params{
		TypeID:       r.cfg.Query.TypeID,
		StatusID:     r.cfg.Query.StatusID,
		NameFilter:   r.cfg.Query.NameFilter,
		NameExclude:  r.cfg.Query.NameExclude,
		LookbackDays: r.cfg.Query.LookbackDays,
	})
	if err != nil {
		if errors.Is(err, source.ErrMissingColumns) {
			return runErr(KindConfig, "events query: %w", err)
		}
		return runErr(KindTransient, "events query: %w", err)
	}
	if len(events) == 0 {
		r.log.Info("no events matched the query")
		return nil
	}

	unsent := r.tracker.FilterUnsent(events, store)
	if len(unsent) == 0 {
		r.log.Info("all matching events already notified",
			logx.Int("matched", len(events)),
			logx.Int("tracked", store.Len()))
		return nil
	}

	groups := r.router.Partition(unsent)
	order := r.router.Groups()

	ts := r.source.FetchTypeStatus(ctx, r.cfg.Query.TypeStatusFile, r.cfg.Query.TypeID, r.cfg.Query.StatusID)
	rc := render.Context{
		RunTime:       start,
		TypeLabel:     ts.TypeName,
		TypeName:      ts.TypeName,
		StatusName:    ts.StatusName,
		LookbackDays:  r.cfg.Query.LookbackDays,
		Frequency:     r.cfg.Schedule.Every,
		CompanyName:   r.cfg.Query.CompanyName,
		EventsBaseURL: r.cfg.Query.EventsBaseURL,
	}

	if r.dryRun {
		r.log.Info("dry run, skipping delivery and commit",
			logx.Int("unsent", len(unsent)),
			logx.Any("ids", event.IDs(unsent)))
		return nil
	}
	if !r.co.Enabled() {
		r.log.Warn("no delivery channels enabled, nothing sent",
			logx.Int("unsent", len(unsent)))
		return nil
	}

	delivered, outcomes := r.co.DeliverAll(ctx, order, groups, rc)
	var failures int
	for _, o := range outcomes {
		if o.Err != nil {
			failures++
		}
	}
	if len(delivered) == 0 {
		if failures == len(outcomes) {
			return runErr(KindTransient, "all %d delivery attempts failed, candidates retained for retry", len(outcomes))
		}
		// Attempts went through but every channel skipped the batch;
		// that points at recipient config, not a flaky transport.
		return runErr(KindConfig, "%d delivery attempts succeeded but nothing was sent, check group recipients", len(outcomes))
	}

	r.tracker.Commit(store, delivered.Sorted(), r.now())
	if err := r.tracker.Persist(ctx, store); err != nil {
		return runErr(KindPersist, "persist tracking store after delivery: %w", err)
	}

	r.log.Info("run completed",
		logx.Int("candidates", len(events)),
		logx.Int("unsent", len(unsent)),
		logx.Int("delivered", len(delivered)),
		logx.Int("failed_attempts", failures),
		logx.Duration("took", r.now().Sub(start)))
	return nil
}
