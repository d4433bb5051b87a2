// Package github implements the HostClient port using the go-github library.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/nlecoy/recheck/internal/domain/model"
	"github.com/nlecoy/recheck/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.HostClient = (*Client)(nil)

// Client implements the driven.HostClient port using the go-github library.
type Client struct {
	gh *gh.Client
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{gh: client}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{gh: client}, nil
}

// ValidateToken verifies that the client's token is valid and returns the
// authenticated username on success. Called once at startup so a bad
// credential fails the process before the first poll.
func (c *Client) ValidateToken(ctx context.Context) (string, error) {
	user, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("token validation failed: %w", err)
	}
	return user.GetLogin(), nil
}

// SearchAuthoredPullRequests returns the HTML URLs of every open pull request
// authored by user, excluding archived repositories. It handles pagination
// automatically.
func (c *Client) SearchAuthoredPullRequests(ctx context.Context, user string) ([]string, error) {
	query := fmt.Sprintf("is:open is:pr author:%s archived:false", user)

	opts := &gh.SearchOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var urls []string

	for {
		result, resp, err := c.gh.Search.Issues(ctx, query, opts)
		if err != nil {
			return nil, fmt.Errorf("searching pull requests authored by %s (page %d): %w", user, opts.Page, err)
		}

		logRateLimit(resp, "search/issues", opts.Page, len(result.Issues))

		for _, issue := range result.Issues {
			urls = append(urls, issue.GetHTMLURL())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return urls, nil
}

// HeadRevision returns the 40-hex revision at the head of the pull request.
func (c *Client) HeadRevision(ctx context.Context, repoFullName string, number int) (string, error) {
	pr, err := c.getPullRequest(ctx, repoFullName, number)
	if err != nil {
		return "", err
	}
	return pr.GetHead().GetSHA(), nil
}

// HeadBranch returns the name of the pull request's source branch.
func (c *Client) HeadBranch(ctx context.Context, repoFullName string, number int) (string, error) {
	pr, err := c.getPullRequest(ctx, repoFullName, number)
	if err != nil {
		return "", err
	}
	return pr.GetHead().GetRef(), nil
}

// getPullRequest fetches a single pull request. HeadRevision and HeadBranch
// within one poll cycle share the cached response through httpcache.
func (c *Client) getPullRequest(ctx context.Context, repoFullName string, number int) (*gh.PullRequest, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	pr, resp, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("fetching pull request %s#%d: %w", repoFullName, number, err)
	}

	logRateLimit(resp, repoFullName+"/pull", 0, 1)

	return pr, nil
}

// ListCheckObservations returns the commit statuses reported against the
// given revision, most recent first (the upstream list order). It handles
// pagination automatically and maps go-github types to domain model types.
func (c *Client) ListCheckObservations(ctx context.Context, repoFullName string, revision string) ([]model.Observation, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListOptions{PerPage: 100}

	var observations []model.Observation

	for {
		statuses, resp, err := c.gh.Repositories.ListStatuses(ctx, owner, repo, revision, opts)
		if err != nil {
			return nil, fmt.Errorf("listing statuses for %s@%s (page %d): %w", repoFullName, revision, opts.Page, err)
		}

		logRateLimit(resp, repoFullName+"/statuses", opts.Page, len(statuses))

		for _, s := range statuses {
			observations = append(observations, mapObservation(s))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return observations, nil
}

// PostComment adds a pull-request-level comment through the Issues API.
func (c *Client) PostComment(ctx context.Context, repoFullName string, number int, body string) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	_, _, err = c.gh.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{
		Body: gh.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("creating comment on %s#%d: %w", repoFullName, number, err)
	}

	return nil
}

// ListCommentsByUser returns the pull-request-level comments authored by
// user, oldest first (the Issues API default order). Comments by anyone
// else are filtered out. It handles pagination automatically.
func (c *Client) ListCommentsByUser(ctx context.Context, repoFullName string, number int, user string) ([]model.Comment, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var comments []model.Comment

	for {
		page, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing comments for %s#%d (page %d): %w", repoFullName, number, opts.Page, err)
		}

		for _, comment := range page {
			if comment.GetUser().GetLogin() != user {
				continue
			}
			comments = append(comments, model.Comment{
				ID:        comment.GetID(),
				Body:      comment.GetBody(),
				CreatedAt: comment.GetCreatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return comments, nil
}

// DeleteComment removes a pull-request-level comment by ID.
func (c *Client) DeleteComment(ctx context.Context, repoFullName string, commentID int64) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	_, err = c.gh.Issues.DeleteComment(ctx, owner, repo, commentID)
	if err != nil {
		return fmt.Errorf("deleting comment %d on %s: %w", commentID, repoFullName, err)
	}

	return nil
}

// mapObservation converts a go-github RepoStatus to a domain model Observation.
// The state string is carried verbatim; the classifier owns the state
// vocabulary and rejects anything it does not recognize.
func mapObservation(s *gh.RepoStatus) model.Observation {
	return model.Observation{
		Context: s.GetContext(),
		State:   model.CheckState(s.GetState()),
		EventID: s.GetID(),
	}
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
