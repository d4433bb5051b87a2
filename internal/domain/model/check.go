package model

import "time"

// Check is the persisted retry ledger for one named CI status on one pull
// request. Identity is (Repo, Number, Context) -- the record survives across
// revisions and is deleted only in cascade with its pull request.
type Check struct {
	Repo    string
	Number  int
	Context string

	// FailureCount is the number of consecutive failures accounted for on
	// the current revision. Reset to zero when the pull request advances to
	// a new revision.
	FailureCount int

	// LastErroredID identifies the most recent remote failure event already
	// accounted for, so a re-observed failure is not counted twice. Nil
	// until the first failure.
	LastErroredID *int64

	// LastRetriedAt is stamped when a retry is issued for this check. Nil
	// until the first retry.
	LastRetriedAt *time.Time
}

// NewCheck returns a fresh record with zero failures for a context first
// observed on the given pull request.
func NewCheck(pr PullRequest, context string) Check {
	return Check{Repo: pr.Repo, Number: pr.Number, Context: context}
}
