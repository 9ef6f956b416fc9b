package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventwatch/internal/config"
	"eventwatch/internal/delivery"
	"eventwatch/internal/event"
	"eventwatch/internal/render"
	"eventwatch/internal/router"
	"eventwatch/internal/source"
	"eventwatch/internal/tracker"
	"eventwatch/pkg/logx"
)

type fakeSource struct {
	events []event.Event
	err    error
	calls  int
}

func (f *fakeSource) FetchEvents(ctx context.Context, queryFile string, p source.Params) ([]event.Event, error) {
	f.calls++
	return f.events, f.err
}

func (f *fakeSource) FetchTypeStatus(ctx context.Context, queryFile string, typeID, statusID int) source.TypeStatus {
	return source.TypeStatus{TypeName: "Permits", StatusName: "Pending"}
}

type fakeCoordinator struct {
	fail    bool
	skipAll bool
	calls   int
}

func (f *fakeCoordinator) Enabled() bool { return true }

func (f *fakeCoordinator) DeliverAll(ctx context.Context, order []string, groups map[string][]event.Event, rc render.Context) (event.IDSet, []delivery.Outcome) {
	f.calls++
	delivered := make(event.IDSet)
	if f.fail {
		return delivered, []delivery.Outcome{
			{Group: router.InternalGroup, Channel: "email", Err: errors.New("smtp refused")},
		}
	}
	if f.skipAll {
		// every channel ran without error but sent to nobody
		return delivered, []delivery.Outcome{
			{Group: router.InternalGroup, Channel: "email"},
		}
	}
	for _, evs := range groups {
		delivered.Add(event.IDs(evs)...)
	}
	return delivered, []delivery.Outcome{
		{Group: router.InternalGroup, Channel: "email", IDs: delivered.Sorted()},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Timezone: "UTC",
		Query: config.QueryConfig{
			File:         "events.sql",
			LookbackDays: 17,
			CompanyName:  "Acme Marine",
		},
		Schedule: config.ScheduleConfig{Every: "1h", Cooldown: "5m"},
	}
}

func newTestRunner(t *testing.T, src eventSource, co deliverer, dryRun bool) (*Runner, *tracker.Tracker) {
	t.Helper()
	tr, err := tracker.New(tracker.Config{
		Path:   filepath.Join(t.TempDir(), "sent_events.json"),
		Window: 30 * 24 * time.Hour,
	}, logx.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	rt := router.New(nil, logx.Nop())
	return NewRunner(testConfig(), tr, src, rt, co, logx.Nop(), nil, dryRun), tr
}

func candidates() []event.Event {
	now := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	return []event.Event{
		{ID: 5, Name: "hot work", CreatedAt: now, RoutingKey: "ops@acme.test"},
		{ID: 6, Name: "enclosed space entry", CreatedAt: now, RoutingKey: "ops@acme.test"},
	}
}

func TestRunOnceCommitsDeliveredIDs(t *testing.T) {
	src := &fakeSource{events: candidates()}
	co := &fakeCoordinator{}
	r, tr := newTestRunner(t, src, co, false)

	require.NoError(t, r.RunOnce(context.Background()))
	assert.Equal(t, 1, co.calls)

	store, err := tr.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, store.Has(5))
	assert.True(t, store.Has(6))
	assert.Equal(t, 2, store.Len())
}

func TestRunOnceSecondPassSkipsNotified(t *testing.T) {
	src := &fakeSource{events: candidates()}
	co := &fakeCoordinator{}
	r, _ := newTestRunner(t, src, co, false)

	require.NoError(t, r.RunOnce(context.Background()))
	require.NoError(t, r.RunOnce(context.Background()))

	// second pass found everything already tracked and never delivered
	assert.Equal(t, 1, co.calls)
}

func TestRunOnceAllDeliveryFailedRetainsCandidates(t *testing.T) {
	src := &fakeSource{events: candidates()}
	co := &fakeCoordinator{fail: true}
	r, tr := newTestRunner(t, src, co, false)

	err := r.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindTransient, kindOf(err))

	store, lerr := tr.Load(context.Background())
	require.NoError(t, lerr)
	assert.Equal(t, 0, store.Len())

	// next cycle retries the same candidates
	co.fail = false
	require.NoError(t, r.RunOnce(context.Background()))
	store, lerr = tr.Load(context.Background())
	require.NoError(t, lerr)
	assert.True(t, store.Has(5))
	assert.True(t, store.Has(6))
}

func TestRunOnceNothingSentIsConfigError(t *testing.T) {
	src := &fakeSource{events: candidates()}
	co := &fakeCoordinator{skipAll: true}
	r, tr := newTestRunner(t, src, co, false)

	err := r.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindConfig, kindOf(err))

	// nothing was sent, so nothing may be marked as notified
	store, lerr := tr.Load(context.Background())
	require.NoError(t, lerr)
	assert.Equal(t, 0, store.Len())
}

func TestRunOnceMissingColumnsIsConfigError(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("scan: %w", source.ErrMissingColumns)}
	co := &fakeCoordinator{}
	r, _ := newTestRunner(t, src, co, false)

	err := r.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindConfig, kindOf(err))
	assert.Equal(t, 0, co.calls)
}

func TestRunOnceQueryFailureIsTransient(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	r, _ := newTestRunner(t, src, &fakeCoordinator{}, false)

	err := r.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindTransient, kindOf(err))
}

func TestRunOnceNoEventsEndsQuietly(t *testing.T) {
	src := &fakeSource{}
	co := &fakeCoordinator{}
	r, _ := newTestRunner(t, src, co, false)

	require.NoError(t, r.RunOnce(context.Background()))
	assert.Equal(t, 0, co.calls)
}

func TestRunOnceDryRunSkipsDeliveryAndCommit(t *testing.T) {
	src := &fakeSource{events: candidates()}
	co := &fakeCoordinator{}
	r, tr := newTestRunner(t, src, co, true)

	require.NoError(t, r.RunOnce(context.Background()))
	assert.Equal(t, 0, co.calls)

	store, err := tr.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestParseSchedule(t *testing.T) {
	now := time.Date(2026, 8, 26, 10, 15, 0, 0, time.UTC)

	sched, err := parseSchedule("1h")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), sched.Next(now))

	sched, err = parseSchedule("0 * * * *")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC), sched.Next(now))

	sched, err = parseSchedule("@every 90m")
	require.NoError(t, err)
	assert.Equal(t, now.Add(90*time.Minute), sched.Next(now))

	_, err = parseSchedule("soonish")
	assert.Error(t, err)

	_, err = parseSchedule("-5m")
	assert.Error(t, err)
}

func TestKindOfUnwrapped(t *testing.T) {
	assert.Equal(t, KindInternal, kindOf(errors.New("plain")))
	assert.Equal(t, KindPersist, kindOf(fmt.Errorf("outer: %w", runErr(KindPersist, "disk full"))))
}

func writeAppConfig(t *testing.T, dir, driver, company string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	data := fmt.Sprintf(`query:
  file: events.sql
  company_name: %s
tracker:
  driver: %s
  path: %s
schedule:
  every: 1h
`, company, driver, filepath.Join(dir, "state.json"))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func newTestApp(t *testing.T, cfgPath string) *App {
	t.Helper()
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	a := &App{
		opts:    Options{ConfigPath: cfgPath},
		secrets: &config.Secrets{DBHost: "db", DBName: "events", DBUser: "svc"},
		log:     logx.Nop(),
	}
	require.NoError(t, a.buildRunner(cfg))
	t.Cleanup(a.Close)
	return a
}

func TestReloadAppliesNewConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeAppConfig(t, dir, "file", "Acme Marine")
	a := newTestApp(t, cfgPath)
	oldRunner := a.runner

	writeAppConfig(t, dir, "file", "Poseidon Lines")
	a.reload()

	assert.Equal(t, "Poseidon Lines", a.cfg.Query.CompanyName)
	assert.NotSame(t, oldRunner, a.runner)
}

func TestReloadKeepsOldConfigWhenRebuildFails(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeAppConfig(t, dir, "file", "Acme Marine")
	a := newTestApp(t, cfgPath)
	oldRunner := a.runner

	// the file loads and validates but the tracker driver cannot open
	writeAppConfig(t, dir, "bogus", "Poseidon Lines")
	a.reload()

	assert.Equal(t, "Acme Marine", a.cfg.Query.CompanyName)
	assert.Equal(t, "file", a.cfg.Tracker.Driver)
	assert.Same(t, oldRunner, a.runner)
}
