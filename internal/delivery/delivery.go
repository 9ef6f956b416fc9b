package delivery

import (
	"context"

	"eventwatch/internal/config"
	"eventwatch/internal/event"
	"eventwatch/internal/render"
	"eventwatch/internal/router"
	"eventwatch/pkg/logx"
)

// Channel is one delivery transport. Deliver returns the ids of the
// events actually represented in what went out; only those may be
// marked as sent.
type Channel interface {
	Name() string

	// Wants reports whether the channel takes part for this group.
	Wants(group string, eventCount int) bool

	Deliver(ctx context.Context, group string, events []event.Event, rc render.Context) ([]int64, error)
}

// Outcome records one (group, channel) delivery attempt.
type Outcome struct {
	Group   string
	Channel string
	IDs     []int64
	Err     error
}

// Coordinator fans a routed batch out to every enabled channel.
// Attempts are independent: one channel failing never blocks another,
// and an id counts as delivered once any attempt that included it
// succeeds.
type Coordinator struct {
	channels []Channel
	log      logx.Logger
}

// New builds the coordinator with the channels the config enables.
func New(cfg *config.Config, secrets *config.Secrets, log logx.Logger) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	var channels []Channel
	if cfg.Email.Enabled {
		channels = append(channels, NewEmailChannel(cfg, secrets, log))
	}
	if cfg.Email.SpecialChannel.Enabled {
		channels = append(channels, NewSpecialChannel(cfg, secrets, log))
	}
	if cfg.Chat.Enabled {
		channels = append(channels, NewChatChannel(cfg, secrets, log))
	}
	return &Coordinator{channels: channels, log: log}
}

// NewWithChannels wires an explicit channel list, mainly for tests.
func NewWithChannels(channels []Channel, log logx.Logger) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{channels: channels, log: log}
}

// Enabled reports whether any channel is configured at all.
func (c *Coordinator) Enabled() bool { return len(c.channels) > 0 }

// DeliverAll attempts every applicable (group, channel) pair in order
// and returns the union of ids from successful attempts plus the full
// per-attempt record. The cross-product always runs to completion;
// shutdown is a run-boundary concern, so the caller hands in a context
// that outlives any signal.
func (c *Coordinator) DeliverAll(ctx context.Context, order []string, groups map[string][]event.Event, rc render.Context) (event.IDSet, []Outcome) {
	delivered := make(event.IDSet)
	var outcomes []Outcome

	for _, group := range order {
		events := groups[group]
		for _, ch := range c.channels {
			if !ch.Wants(group, len(events)) {
				continue
			}

			ids, err := ch.Deliver(ctx, group, events, rc)
			outcomes = append(outcomes, Outcome{Group: group, Channel: ch.Name(), IDs: ids, Err: err})
			if err != nil {
				c.log.Error("delivery attempt failed",
					logx.String("group", group),
					logx.String("channel", ch.Name()),
					logx.Int("events", len(events)),
					logx.Err(err))
				continue
			}
			delivered.Add(ids...)
			c.log.Info("delivery attempt succeeded",
				logx.String("group", group),
				logx.String("channel", ch.Name()),
				logx.Int("events", len(ids)))
		}
	}
	return delivered, outcomes
}

// internalOnly is shared by channels that only ever see the full batch.
func internalOnly(group string) bool { return group == router.InternalGroup }
