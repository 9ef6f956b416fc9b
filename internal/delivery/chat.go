package delivery

import (
	"context"
	"fmt"

	goteamsnotify "github.com/atc0005/go-teams-notify/v2"
	"github.com/atc0005/go-teams-notify/v2/messagecard"
	"golang.org/x/time/rate"

	"eventwatch/internal/config"
	"eventwatch/internal/event"
	"eventwatch/internal/render"
	"eventwatch/pkg/logx"
)

// postFunc is the webhook seam; tests swap it for a recorder.
type postFunc func(ctx context.Context, url string, card *messagecard.MessageCard) error

// ChatChannel posts one card per run to the Teams webhook, always over
// the full internal batch. The card body truncates long batches but
// still names the total, so every id in the batch counts as delivered.
type ChatChannel struct {
	webhookURL string
	limiter    *rate.Limiter
	post       postFunc
	log        logx.Logger
}

func NewChatChannel(cfg *config.Config, secrets *config.Secrets, log logx.Logger) *ChatChannel {
	perSec := cfg.Chat.RatePerSec
	if perSec <= 0 {
		perSec = 1
	}
	client := goteamsnotify.NewTeamsClient()
	return &ChatChannel{
		webhookURL: secrets.TeamsWebhookURL,
		limiter:    rate.NewLimiter(rate.Limit(perSec), 1),
		post: func(ctx context.Context, url string, card *messagecard.MessageCard) error {
			return client.SendWithContext(ctx, url, card)
		},
		log: log,
	}
}

func (c *ChatChannel) Name() string { return "chat" }

func (c *ChatChannel) Wants(group string, eventCount int) bool {
	return internalOnly(group)
}

func (c *ChatChannel) Deliver(ctx context.Context, group string, events []event.Event, rc render.Context) ([]int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	card := render.TeamsCard(events, rc)
	if err := c.post(ctx, c.webhookURL, card); err != nil {
		return nil, fmt.Errorf("post card: %w", err)
	}
	return event.IDs(events), nil
}

var _ Channel = (*ChatChannel)(nil)
