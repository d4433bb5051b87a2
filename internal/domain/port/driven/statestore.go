package driven

import (
	"context"

	"github.com/nlecoy/recheck/internal/domain/model"
)

// StateStore defines the driven port for triage state persistence.
type StateStore interface {
	// GetPullRequest returns the tracked pull request, or nil when it has
	// never been evaluated.
	GetPullRequest(ctx context.Context, repoFullName string, number int) (*model.PullRequest, error)
	ListPullRequests(ctx context.Context) ([]model.PullRequest, error)
	ListChecks(ctx context.Context, repoFullName string, number int) ([]model.Check, error)
	// SaveEvaluation upserts the pull request and the given check records
	// in a single transaction. Records not in checks are left alone.
	SaveEvaluation(ctx context.Context, pr model.PullRequest, checks []model.Check) error
	// DeletePullRequest removes the pull request; its check records go with it.
	DeletePullRequest(ctx context.Context, repoFullName string, number int) error
}
