package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"eventwatch/internal/config"
	"eventwatch/internal/event"
	"eventwatch/internal/render"
	"eventwatch/pkg/logx"
)

// message is a fully rendered mail ready to hand to the transport.
type message struct {
	To      []string
	Subject string
	Plain   string
	HTML    string // empty for plain-only mail
}

// sendFunc is the transport seam; tests swap it for a recorder.
type sendFunc func(ctx context.Context, msg message) error

// EmailChannel mails the rendered report to each group's recipients.
// The internal group uses the configured internal list, every other
// group its own recipient list from the routing rules.
type EmailChannel struct {
	internal   []string
	recipients map[string][]string
	send       sendFunc
	log        logx.Logger
}

func NewEmailChannel(cfg *config.Config, secrets *config.Secrets, log logx.Logger) *EmailChannel {
	byGroup := make(map[string][]string, len(cfg.Groups))
	for _, g := range cfg.Groups {
		byGroup[g.Name] = g.Recipients
	}
	return &EmailChannel{
		internal:   cfg.Email.InternalRecipients,
		recipients: byGroup,
		send:       smtpSend(secrets),
		log:        log,
	}
}

func (c *EmailChannel) Name() string { return "email" }

// Wants skips empty external groups; the internal report goes out even
// when a rule drained every candidate into external groups.
func (c *EmailChannel) Wants(group string, eventCount int) bool {
	if internalOnly(group) {
		return true
	}
	return eventCount > 0
}

func (c *EmailChannel) Deliver(ctx context.Context, group string, events []event.Event, rc render.Context) ([]int64, error) {
	to := c.internal
	if !internalOnly(group) {
		to = c.recipients[group]
	}
	if len(to) == 0 {
		c.log.Warn("no recipients configured, skipping group",
			logx.String("group", group))
		return nil, nil
	}

	ids, html, err := render.HTML(events, rc)
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	msg := message{
		To:      to,
		Subject: render.Subject(len(events), rc.TypeLabel),
		Plain:   render.PlainText(events, rc),
		HTML:    html,
	}
	if err := c.send(ctx, msg); err != nil {
		return nil, fmt.Errorf("send to %s: %w", strings.Join(to, ", "), err)
	}
	return ids, nil
}

// SpecialChannel mails the internal report to a single extra address,
// typically a chat channel's inbound mailbox. It carries the same
// HTML body as the internal mail (the report is link-branded, no
// attachments, so it renders fine in a channel).
type SpecialChannel struct {
	address string
	send    sendFunc
	log     logx.Logger
}

func NewSpecialChannel(cfg *config.Config, secrets *config.Secrets, log logx.Logger) *SpecialChannel {
	return &SpecialChannel{
		address: cfg.Email.SpecialChannel.Address,
		send:    smtpSend(secrets),
		log:     log,
	}
}

func (c *SpecialChannel) Name() string { return "special-email" }

func (c *SpecialChannel) Wants(group string, eventCount int) bool {
	return internalOnly(group)
}

func (c *SpecialChannel) Deliver(ctx context.Context, group string, events []event.Event, rc render.Context) ([]int64, error) {
	if strings.TrimSpace(c.address) == "" {
		c.log.Warn("special channel enabled without an address, skipping")
		return nil, nil
	}
	ids, html, err := render.HTML(events, rc)
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	msg := message{
		To:      []string{c.address},
		Subject: render.Subject(len(events), rc.TypeLabel),
		Plain:   render.PlainText(events, rc),
		HTML:    html,
	}
	if err := c.send(ctx, msg); err != nil {
		return nil, fmt.Errorf("send to %s: %w", c.address, err)
	}
	return ids, nil
}

// smtpSend builds the real transport. A fresh client per message keeps
// connection state out of the channel; runs are infrequent enough that
// reuse buys nothing.
func smtpSend(secrets *config.Secrets) sendFunc {
	return func(ctx context.Context, msg message) error {
		m := mail.NewMsg()
		if err := m.From(secrets.SMTPUser); err != nil {
			return fmt.Errorf("from address: %w", err)
		}
		if err := m.To(msg.To...); err != nil {
			return fmt.Errorf("to addresses: %w", err)
		}
		m.Subject(msg.Subject)
		m.SetBodyString(mail.TypeTextPlain, msg.Plain)
		if msg.HTML != "" {
			m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
		}

		opts := []mail.Option{
			mail.WithPort(secrets.SMTPPort),
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(secrets.SMTPUser),
			mail.WithPassword(secrets.SMTPPass),
		}
		if secrets.SMTPPort == 465 {
			opts = append(opts, mail.WithSSL())
		} else {
			opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
		}
		client, err := mail.NewClient(secrets.SMTPHost, opts...)
		if err != nil {
			return fmt.Errorf("smtp client: %w", err)
		}
		defer client.Close()
		return client.DialAndSendWithContext(ctx, m)
	}
}

var _ Channel = (*EmailChannel)(nil)
var _ Channel = (*SpecialChannel)(nil)
