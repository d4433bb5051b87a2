package driven

import (
	"context"

	"github.com/nlecoy/recheck/internal/domain/model"
)

// Retrier defines the driven port for re-running failed checks.
//
// Retry may mutate pr: the git strategy rewrites the head commit and must
// record the pushed revision, so the next cycle does not mistake its own
// push for a new patch from the author.
type Retrier interface {
	// Retry triggers a re-run of the checks in the report's retrying bucket.
	Retry(ctx context.Context, pr *model.PullRequest, report *model.ChecksReport) error
	// Cleanup removes whatever residue the strategy leaves on the pull
	// request once retrying is over (e.g. directive comments).
	Cleanup(ctx context.Context, pr model.PullRequest) error
}
