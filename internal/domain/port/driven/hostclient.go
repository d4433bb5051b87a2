package driven

import (
	"context"

	"github.com/nlecoy/recheck/internal/domain/model"
)

// HostClient defines the driven port for the source-code host (GitHub).
// Read methods fetch PR state; write methods manage retry comments.
type HostClient interface {
	// Read methods

	// SearchAuthoredPullRequests returns the HTML URLs of every open,
	// non-archived pull request authored by user.
	SearchAuthoredPullRequests(ctx context.Context, user string) ([]string, error)
	// HeadRevision returns the 40-hex revision at the head of the pull request.
	HeadRevision(ctx context.Context, repoFullName string, number int) (string, error)
	// HeadBranch returns the name of the pull request's source branch.
	HeadBranch(ctx context.Context, repoFullName string, number int) (string, error)
	// ListCheckObservations returns the commit statuses reported against the
	// given revision, most recent first.
	ListCheckObservations(ctx context.Context, repoFullName string, revision string) ([]model.Observation, error)

	// Write methods

	// PostComment adds a PR-level comment (via the Issues API).
	PostComment(ctx context.Context, repoFullName string, number int, body string) error
	// ListCommentsByUser returns the PR-level comments authored by user,
	// oldest first.
	ListCommentsByUser(ctx context.Context, repoFullName string, number int, user string) ([]model.Comment, error)
	// DeleteComment removes a PR-level comment by ID.
	DeleteComment(ctx context.Context, repoFullName string, commentID int64) error
}
