// Package model contains the domain entities for pull request check triage.
package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrMalformedURL reports a pull request URL that does not match the
	// host's naming rules.
	ErrMalformedURL = errors.New("malformed pull request URL")

	// ErrInvalidRevision reports a revision identifier that is not a full
	// 40-character hex digest.
	ErrInvalidRevision = errors.New("invalid revision identifier")
)

// GitHub naming limits: 39 characters for an account, 100 for a repository
// name, so a full "owner/name" slug tops out at 140 characters. Both halves
// follow the account rule: letters, digits, and single interior hyphens.
const (
	maxOwnerLength = 39
	maxNameLength  = 100
)

var (
	slugPartPattern = regexp.MustCompile(`^[A-Za-z0-9]+(?:-[A-Za-z0-9]+)*$`)
	prURLPattern    = regexp.MustCompile(`(?i)^(?:https://)?github\.com/([^/]+)/([^/]+)/pull/([0-9]+)$`)
	revisionPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

// PullRequest is the persisted triage record for one open pull request
// authored by the configured user. Identity is (Repo, Number).
//
// Status is pending whenever the current head revision differs from
// LastProcessedSHA; successful and failed are terminal until a new revision
// arrives.
type PullRequest struct {
	Repo             string // "owner/name" slug.
	Number           int
	LastProcessedSHA string // Head revision last evaluated; empty until the first cycle.
	Status           PRStatus
}

// ParsePullRequestURL parses a pull request web URL into a fresh record.
// The scheme is optional; owner and repository segments are validated
// against host naming rules.
func ParsePullRequestURL(raw string) (PullRequest, error) {
	m := prURLPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return PullRequest{}, fmt.Errorf("%w: %q", ErrMalformedURL, raw)
	}

	owner, name := m[1], m[2]
	if !validSlugParts(owner, name) {
		return PullRequest{}, fmt.Errorf("%w: %q", ErrMalformedURL, raw)
	}

	number, err := strconv.Atoi(m[3])
	if err != nil || number <= 0 {
		return PullRequest{}, fmt.Errorf("%w: %q", ErrMalformedURL, raw)
	}

	return PullRequest{
		Repo:   owner + "/" + name,
		Number: number,
		Status: PRStatusPending,
	}, nil
}

// Slug returns the "owner/name#number" identity string used in logs and
// notification subjects.
func (pr PullRequest) Slug() string {
	return fmt.Sprintf("%s#%d", pr.Repo, pr.Number)
}

// URL returns the canonical web URL for the pull request.
func (pr PullRequest) URL() string {
	return fmt.Sprintf("https://github.com/%s/pull/%d", pr.Repo, pr.Number)
}

// IsValidRevision reports whether s is a full 40-character lowercase hex
// commit digest.
func IsValidRevision(s string) bool {
	return revisionPattern.MatchString(s)
}

// IsValidRepoSlug reports whether s is an "owner/name" slug within host
// naming rules.
func IsValidRepoSlug(s string) bool {
	owner, name, ok := strings.Cut(s, "/")
	return ok && validSlugParts(owner, name)
}

func validSlugParts(owner, name string) bool {
	if len(owner) > maxOwnerLength || !slugPartPattern.MatchString(owner) {
		return false
	}
	return len(name) <= maxNameLength && slugPartPattern.MatchString(name)
}
