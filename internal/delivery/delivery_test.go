package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventwatch/internal/event"
	"eventwatch/internal/render"
	"eventwatch/internal/router"
	"eventwatch/pkg/logx"
)

type fakeChannel struct {
	name     string
	internal bool // restrict to the internal group
	err      error
	calls    []string // groups delivered to, in order
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Wants(group string, eventCount int) bool {
	if f.internal {
		return group == router.InternalGroup
	}
	return group == router.InternalGroup || eventCount > 0
}

func (f *fakeChannel) Deliver(ctx context.Context, group string, events []event.Event, rc render.Context) ([]int64, error) {
	f.calls = append(f.calls, group)
	if f.err != nil {
		return nil, f.err
	}
	return event.IDs(events), nil
}

func testBatch() (order []string, groups map[string][]event.Event) {
	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	internal := []event.Event{
		{ID: 5, Name: "hot work", CreatedAt: now},
		{ID: 6, Name: "enclosed space entry", CreatedAt: now},
	}
	traders := []event.Event{
		{ID: 6, Name: "enclosed space entry", CreatedAt: now},
	}
	order = []string{router.InternalGroup, "traders", "quiet"}
	groups = map[string][]event.Event{
		router.InternalGroup: internal,
		"traders":            traders,
		"quiet":              {},
	}
	return order, groups
}

func TestDeliverAllUnionsSuccessfulAttempts(t *testing.T) {
	order, groups := testBatch()
	good := &fakeChannel{name: "email"}
	bad := &fakeChannel{name: "chat", internal: true, err: errors.New("webhook down")}

	co := NewWithChannels([]Channel{good, bad}, logx.Nop())
	delivered, outcomes := co.DeliverAll(context.Background(), order, groups, render.Context{})

	assert.Equal(t, []int64{5, 6}, delivered.Sorted())
	assert.True(t, delivered.Has(5) && delivered.Has(6))

	// internal and traders for email, internal only for chat; the
	// empty external group is skipped entirely.
	assert.Equal(t, []string{router.InternalGroup, "traders"}, good.calls)
	assert.Equal(t, []string{router.InternalGroup}, bad.calls)

	require.Len(t, outcomes, 3)
	var failed int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			assert.Equal(t, "chat", o.Channel)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestDeliverAllAllChannelsFail(t *testing.T) {
	order, groups := testBatch()
	a := &fakeChannel{name: "email", err: errors.New("smtp refused")}
	b := &fakeChannel{name: "chat", internal: true, err: errors.New("webhook down")}

	co := NewWithChannels([]Channel{a, b}, logx.Nop())
	delivered, outcomes := co.DeliverAll(context.Background(), order, groups, render.Context{})

	assert.Empty(t, delivered)
	for _, o := range outcomes {
		assert.Error(t, o.Err)
	}
}

func TestDeliverAllPartialGroupFailure(t *testing.T) {
	order, groups := testBatch()
	// email succeeds only for the external group
	flaky := &fakeChannel{name: "email"}
	co := NewWithChannels([]Channel{&selectiveChannel{inner: flaky, failGroup: router.InternalGroup}}, logx.Nop())

	delivered, _ := co.DeliverAll(context.Background(), order, groups, render.Context{})

	// only the traders batch {6} went out
	assert.Equal(t, []int64{6}, delivered.Sorted())
}

func TestDeliverAllFinishesEveryAttemptDespiteCancel(t *testing.T) {
	order, groups := testBatch()
	ch := &fakeChannel{name: "email"}
	co := NewWithChannels([]Channel{ch}, logx.Nop())

	// A shutdown signal mid-run must not cut the cross-product short;
	// the loop only observes cancellation between runs.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	delivered, outcomes := co.DeliverAll(context.WithoutCancel(ctx), order, groups, render.Context{})
	assert.Equal(t, []int64{5, 6}, delivered.Sorted())
	assert.Len(t, outcomes, 2)
	assert.Equal(t, []string{router.InternalGroup, "traders"}, ch.calls)
}

func TestEmailChannelSkipsGroupWithoutRecipients(t *testing.T) {
	var sent []message
	ch := &EmailChannel{
		internal:   []string{"ops@example.test"},
		recipients: map[string][]string{},
		send: func(ctx context.Context, msg message) error {
			sent = append(sent, msg)
			return nil
		},
		log: logx.Nop(),
	}

	_, groups := testBatch()
	ids, err := ch.Deliver(context.Background(), "traders", groups["traders"], render.Context{})
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, sent)

	ids, err = ch.Deliver(context.Background(), router.InternalGroup, groups[router.InternalGroup], render.Context{})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6}, ids)
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"ops@example.test"}, sent[0].To)
	assert.NotEmpty(t, sent[0].HTML)
}

func TestSpecialChannelSendsInternalReport(t *testing.T) {
	var sent []message
	ch := &SpecialChannel{
		address: "alerts-room@example.test",
		send: func(ctx context.Context, msg message) error {
			sent = append(sent, msg)
			return nil
		},
		log: logx.Nop(),
	}

	_, groups := testBatch()
	ids, err := ch.Deliver(context.Background(), router.InternalGroup, groups[router.InternalGroup], render.Context{})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6}, ids)
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"alerts-room@example.test"}, sent[0].To)
	assert.Contains(t, sent[0].Plain, "hot work")
	assert.Contains(t, sent[0].HTML, "hot work")
}

// selectiveChannel fails delivery for one group and defers to the
// wrapped channel otherwise.
type selectiveChannel struct {
	inner     Channel
	failGroup string
}

func (s *selectiveChannel) Name() string { return s.inner.Name() }

func (s *selectiveChannel) Wants(group string, n int) bool { return s.inner.Wants(group, n) }

func (s *selectiveChannel) Deliver(ctx context.Context, group string, events []event.Event, rc render.Context) ([]int64, error) {
	if group == s.failGroup {
		return nil, errors.New("transient failure")
	}
	return s.inner.Deliver(ctx, group, events, rc)
}
