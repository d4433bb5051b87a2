package retrier

import (
	"context"
	"fmt"
	"strings"

	"github.com/nlecoy/recheck/internal/config"
	"github.com/nlecoy/recheck/internal/domain/model"
	"github.com/nlecoy/recheck/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Retrier = (*CommentRetrier)(nil)

const (
	markerPrefix = "<!-- recheck:directive:"
	markerSuffix = " -->"
)

// directiveMarker tags a retry comment with the check context it re-runs,
// so later cycles can tell this program's comments from human ones.
func directiveMarker(checkContext string) string {
	return markerPrefix + checkContext + markerSuffix
}

// parseDirectiveMarker extracts the check context from a previously posted
// retry comment. ok is false for comments without a marker.
func parseDirectiveMarker(body string) (string, bool) {
	start := strings.Index(body, markerPrefix)
	if start < 0 {
		return "", false
	}
	rest := body[start+len(markerPrefix):]
	end := strings.Index(rest, markerSuffix)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// CommentRetrier re-triggers checks by posting re-run directive comments,
// the convention CI systems like Jenkins understand. Each comment carries
// an HTML marker naming the check context so a later cycle can find and
// prune its own comments without touching anyone else's.
type CommentRetrier struct {
	host driven.HostClient
	user string
	cfg  *config.Config
}

// NewCommentRetrier creates a CommentRetrier posting as user. The directive
// text per check resolves through cfg.
func NewCommentRetrier(host driven.HostClient, user string, cfg *config.Config) *CommentRetrier {
	return &CommentRetrier{host: host, user: user, cfg: cfg}
}

// Retry posts one directive comment per retrying check, replacing any
// earlier directive for the same context, and prunes duplicate directives
// left outstanding for checks still in cooldown.
func (r *CommentRetrier) Retry(ctx context.Context, pr *model.PullRequest, report *model.ChecksReport) error {
	comments, err := r.host.ListCommentsByUser(ctx, pr.Repo, pr.Number, r.user)
	if err != nil {
		return fmt.Errorf("listing directive comments on %s: %w", pr.Slug(), err)
	}

	// Oldest first from the API; group our earlier directives by context.
	byContext := make(map[string][]model.Comment)
	for _, c := range comments {
		checkContext, ok := parseDirectiveMarker(c.Body)
		if !ok {
			continue
		}
		byContext[checkContext] = append(byContext[checkContext], c)
	}

	for _, check := range report.Retrying {
		// Replace any earlier directive so exactly one is outstanding.
		for _, stale := range byContext[check.Context] {
			if err := r.host.DeleteComment(ctx, pr.Repo, stale.ID); err != nil {
				return fmt.Errorf("deleting stale directive for %s on %s: %w", check.Context, pr.Slug(), err)
			}
		}

		directive := r.cfg.DirectiveFor(pr.Repo, check.Context)
		body := directive + "\n\n" + directiveMarker(check.Context)
		if err := r.host.PostComment(ctx, pr.Repo, pr.Number, body); err != nil {
			return fmt.Errorf("posting directive for %s on %s: %w", check.Context, pr.Slug(), err)
		}
	}

	// Checks still cooling down keep their newest outstanding directive
	// and nothing else.
	for _, check := range report.RetryPending {
		outstanding := byContext[check.Context]
		if len(outstanding) <= 1 {
			continue
		}
		for _, stale := range outstanding[:len(outstanding)-1] {
			if err := r.host.DeleteComment(ctx, pr.Repo, stale.ID); err != nil {
				return fmt.Errorf("pruning duplicate directives for %s on %s: %w", check.Context, pr.Slug(), err)
			}
		}
	}

	return nil
}

// Cleanup deletes every directive comment this program posted on the pull
// request. Safe to call with none outstanding.
func (r *CommentRetrier) Cleanup(ctx context.Context, pr model.PullRequest) error {
	comments, err := r.host.ListCommentsByUser(ctx, pr.Repo, pr.Number, r.user)
	if err != nil {
		return fmt.Errorf("listing directive comments on %s: %w", pr.Slug(), err)
	}

	for _, c := range comments {
		if _, ok := parseDirectiveMarker(c.Body); !ok {
			continue
		}
		if err := r.host.DeleteComment(ctx, pr.Repo, c.ID); err != nil {
			return fmt.Errorf("deleting directive comment %d on %s: %w", c.ID, pr.Slug(), err)
		}
	}

	return nil
}
