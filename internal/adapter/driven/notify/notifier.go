// Package notify implements the Notifier port over outbound channels.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nlecoy/recheck/internal/config"
	"github.com/nlecoy/recheck/internal/domain/model"
	"github.com/nlecoy/recheck/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.Notifier = (*MailNotifier)(nil)
	_ driven.Notifier = (*LogNotifier)(nil)
)

// New returns the Notifier registered under name. The mailer is required
// only by the mail-backed notifier.
func New(name string, mailer driven.Mailer) (driven.Notifier, error) {
	switch name {
	case config.NotifierMailgun:
		if mailer == nil {
			return nil, fmt.Errorf("notifier %q needs a configured mailer", name)
		}
		return NewMailNotifier(mailer), nil
	case config.NotifierLog:
		return &LogNotifier{}, nil
	default:
		return nil, fmt.Errorf("unknown notifier %q", name)
	}
}

// MailNotifier delivers cycle outcomes by email, one message per event.
// Subjects follow the "<OUTCOME> owner/repo#number" convention so a mailbox
// filter can sort on the first word.
type MailNotifier struct {
	mailer driven.Mailer
}

// NewMailNotifier creates a MailNotifier delivering through the given mailer.
func NewMailNotifier(mailer driven.Mailer) *MailNotifier {
	return &MailNotifier{mailer: mailer}
}

// TooManyFailures reports that at least one check exhausted its retry budget.
func (n *MailNotifier) TooManyFailures(ctx context.Context, pr model.PullRequest, report *model.ChecksReport) error {
	return n.send(ctx, "FAILED", pr, report)
}

// Retrying reports that failed checks are being re-run.
func (n *MailNotifier) Retrying(ctx context.Context, pr model.PullRequest, report *model.ChecksReport) error {
	return n.send(ctx, "Retrying", pr, report)
}

// Success reports that every check passed.
func (n *MailNotifier) Success(ctx context.Context, pr model.PullRequest, report *model.ChecksReport) error {
	return n.send(ctx, "SUCCESS", pr, report)
}

func (n *MailNotifier) send(ctx context.Context, outcome string, pr model.PullRequest, report *model.ChecksReport) error {
	subject := fmt.Sprintf("%s %s", outcome, pr.Slug())
	body := fmt.Sprintf("[%s](%s)\n\n%s", pr.Slug(), pr.URL(), report.Table())
	return n.mailer.Send(ctx, subject, body)
}

// LogNotifier writes cycle outcomes to the structured log. It is meant for
// local runs and setups without mail credentials.
type LogNotifier struct{}

// TooManyFailures logs that at least one check exhausted its retry budget.
func (n *LogNotifier) TooManyFailures(_ context.Context, pr model.PullRequest, report *model.ChecksReport) error {
	slog.Warn("checks failed permanently",
		"pr", pr.Slug(),
		"url", pr.URL(),
		"too_many_failures", len(report.TooManyFailures),
	)
	return nil
}

// Retrying logs that failed checks are being re-run.
func (n *LogNotifier) Retrying(_ context.Context, pr model.PullRequest, report *model.ChecksReport) error {
	slog.Info("retrying failed checks",
		"pr", pr.Slug(),
		"retrying", len(report.Retrying),
		"retry_pending", len(report.RetryPending),
	)
	return nil
}

// Success logs that every check passed.
func (n *LogNotifier) Success(_ context.Context, pr model.PullRequest, report *model.ChecksReport) error {
	slog.Info("all checks successful",
		"pr", pr.Slug(),
		"checks", len(report.Successful),
	)
	return nil
}
