// Package sqlite persists triage state in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nlecoy/recheck/internal/domain/model"
	"github.com/nlecoy/recheck/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.StateStore = (*StateRepo)(nil)

// StateRepo is the SQLite implementation of the StateStore port interface.
type StateRepo struct {
	db *DB
}

// NewStateRepo creates a new StateRepo backed by the given DB.
func NewStateRepo(db *DB) *StateRepo {
	return &StateRepo{db: db}
}

// GetPullRequest retrieves a single tracked pull request.
// Returns nil, nil if the pull request has never been evaluated.
func (r *StateRepo) GetPullRequest(ctx context.Context, repoFullName string, number int) (*model.PullRequest, error) {
	const query = `
		SELECT repo, number, last_processed_sha, status
		FROM pull_requests
		WHERE repo = ? AND number = ?
	`

	pr, err := scanPullRequest(r.db.Reader.QueryRowContext(ctx, query, repoFullName, number))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pull request %s#%d: %w", repoFullName, number, err)
	}

	return pr, nil
}

// ListPullRequests returns every tracked pull request, ordered by repository
// and number.
func (r *StateRepo) ListPullRequests(ctx context.Context) ([]model.PullRequest, error) {
	const query = `
		SELECT repo, number, last_processed_sha, status
		FROM pull_requests
		ORDER BY repo, number
	`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pull requests: %w", err)
	}
	defer rows.Close()

	var prs []model.PullRequest
	for rows.Next() {
		pr, err := scanPullRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		prs = append(prs, *pr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pull requests: %w", err)
	}

	return prs, nil
}

// ListChecks returns the check records of a pull request, ordered by context.
func (r *StateRepo) ListChecks(ctx context.Context, repoFullName string, number int) ([]model.Check, error) {
	const query = `
		SELECT repo, number, context, failure_count, last_errored_id, last_retried_at
		FROM checks
		WHERE repo = ? AND number = ?
		ORDER BY context
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoFullName, number)
	if err != nil {
		return nil, fmt.Errorf("query checks of %s#%d: %w", repoFullName, number, err)
	}
	defer rows.Close()

	var checks []model.Check
	for rows.Next() {
		check, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check: %w", err)
		}
		checks = append(checks, *check)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checks: %w", err)
	}

	return checks, nil
}

// SaveEvaluation upserts the pull request and its check records in a single
// transaction. Records for contexts not present in checks are left alone.
func (r *StateRepo) SaveEvaluation(ctx context.Context, pr model.PullRequest, checks []model.Check) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const prQuery = `
		INSERT INTO pull_requests (repo, number, last_processed_sha, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repo, number) DO UPDATE SET
			last_processed_sha = excluded.last_processed_sha,
			status = excluded.status
	`

	if _, err := tx.ExecContext(ctx, prQuery,
		pr.Repo, pr.Number, pr.LastProcessedSHA, string(pr.Status),
	); err != nil {
		return fmt.Errorf("upsert pull request %s: %w", pr.Slug(), err)
	}

	const checkQuery = `
		INSERT INTO checks (repo, number, context, failure_count, last_errored_id, last_retried_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo, number, context) DO UPDATE SET
			failure_count = excluded.failure_count,
			last_errored_id = excluded.last_errored_id,
			last_retried_at = excluded.last_retried_at
	`

	for _, check := range checks {
		var lastErroredID any
		if check.LastErroredID != nil {
			lastErroredID = *check.LastErroredID
		}

		var lastRetriedAt any
		if check.LastRetriedAt != nil {
			lastRetriedAt = check.LastRetriedAt.UTC()
		}

		if _, err := tx.ExecContext(ctx, checkQuery,
			check.Repo, check.Number, check.Context,
			check.FailureCount, lastErroredID, lastRetriedAt,
		); err != nil {
			return fmt.Errorf("upsert check %q of %s: %w", check.Context, pr.Slug(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit evaluation of %s: %w", pr.Slug(), err)
	}

	return nil
}

// DeletePullRequest removes a pull request; its check records are
// cascade-deleted. Returns an error if the pull request does not exist.
func (r *StateRepo) DeletePullRequest(ctx context.Context, repoFullName string, number int) error {
	const query = `DELETE FROM pull_requests WHERE repo = ? AND number = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, repoFullName, number)
	if err != nil {
		return fmt.Errorf("delete pull request %s#%d: %w", repoFullName, number, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("pull request %s#%d not found", repoFullName, number)
	}

	return nil
}

func scanPullRequest(s scanner) (*model.PullRequest, error) {
	var pr model.PullRequest
	var status string

	if err := s.Scan(&pr.Repo, &pr.Number, &pr.LastProcessedSHA, &status); err != nil {
		return nil, err
	}

	pr.Status = model.PRStatus(status)
	return &pr, nil
}

func scanCheck(s scanner) (*model.Check, error) {
	var check model.Check
	var lastErroredID sql.NullInt64
	var lastRetriedAt sql.NullString

	err := s.Scan(
		&check.Repo, &check.Number, &check.Context,
		&check.FailureCount, &lastErroredID, &lastRetriedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastErroredID.Valid {
		id := lastErroredID.Int64
		check.LastErroredID = &id
	}

	if lastRetriedAt.Valid {
		t, err := parseTime(lastRetriedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_retried_at: %w", err)
		}
		check.LastRetriedAt = &t
	}

	return &check, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
