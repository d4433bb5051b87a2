// Package mailgun implements the Mailer port on the Mailgun messages API.
package mailgun

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/mailgun/mailgun-go/v4"

	"github.com/nlecoy/recheck/internal/config"
	"github.com/nlecoy/recheck/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Mailer = (*Mailer)(nil)

const (
	sendAttempts     = 3
	sendInitialDelay = 1 * time.Second
	sendMaxDelay     = 10 * time.Second
)

// Mailer implements the driven.Mailer port through the Mailgun messages API.
// Bodies are markdown: the plain-text part carries them verbatim and the
// HTML part is rendered and sanitized.
type Mailer struct {
	client    *mailgun.MailgunImpl
	sender    string
	recipient string
}

// NewMailer creates a Mailer for the given Mailgun configuration. APIBase
// overrides the endpoint, for the EU region or a test server.
func NewMailer(cfg config.MailgunConfig) *Mailer {
	client := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	if cfg.APIBase != "" {
		client.SetAPIBase(cfg.APIBase)
	}

	return &Mailer{
		client:    client,
		sender:    cfg.Sender,
		recipient: cfg.Recipient,
	}
}

// Send delivers one message. Transient delivery failures are retried with
// exponential backoff before the last error is surfaced.
func (m *Mailer) Send(ctx context.Context, subject, body string) error {
	message := m.client.NewMessage(m.sender, subject, body, m.recipient)
	message.SetHtml(RenderMarkdown(body))

	err := retry.Do(
		func() error {
			_, _, err := m.client.Send(ctx, message)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(sendAttempts),
		retry.Delay(sendInitialDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(sendMaxDelay),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("mail delivery failed, retrying",
				"attempt", n+1,
				"subject", subject,
				"error", err,
			)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("sending %q through mailgun: %w", subject, err)
	}

	return nil
}
