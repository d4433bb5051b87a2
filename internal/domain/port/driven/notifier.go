package driven

import (
	"context"

	"github.com/nlecoy/recheck/internal/domain/model"
)

// Notifier defines the driven port for telling the author how an
// evaluation cycle ended.
type Notifier interface {
	// TooManyFailures reports that at least one check exhausted its retry budget.
	TooManyFailures(ctx context.Context, pr model.PullRequest, report *model.ChecksReport) error
	// Retrying reports that failed checks are being re-run.
	Retrying(ctx context.Context, pr model.PullRequest, report *model.ChecksReport) error
	// Success reports that every check passed.
	Success(ctx context.Context, pr model.PullRequest, report *model.ChecksReport) error
}
