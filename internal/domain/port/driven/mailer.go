package driven

import "context"

// Mailer defines the driven port for outbound mail. Bodies are markdown;
// the adapter decides how to render them.
type Mailer interface {
	Send(ctx context.Context, subject string, body string) error
}
