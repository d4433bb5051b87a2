package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nlecoy/recheck/internal/config"
	"github.com/nlecoy/recheck/internal/domain/model"
	"github.com/nlecoy/recheck/internal/domain/port/driven"
)

// TriageService evaluates a tracked pull request: it classifies the checks
// reported against its head revision, dispatches retries and notifications,
// and persists the outcome.
type TriageService struct {
	host     driven.HostClient
	store    driven.StateStore
	notifier driven.Notifier
	cfg      *config.Config
	now      func() time.Time
}

// NewTriageService creates a TriageService. now defaults to time.Now when nil;
// tests inject a fixed clock.
func NewTriageService(host driven.HostClient, store driven.StateStore, notifier driven.Notifier, cfg *config.Config, now func() time.Time) *TriageService {
	if now == nil {
		now = time.Now
	}
	return &TriageService{
		host:     host,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		now:      now,
	}
}

// Evaluate runs one triage cycle for the pull request using the repository's
// retry strategy. It returns the updated pull request and the bucket report,
// or a nil report when the pull request is already resolved and unchanged.
//
// State is persisted after retries and cleanups have been dispatched, so a
// crash mid-cycle re-issues side effects rather than losing them.
func (s *TriageService) Evaluate(ctx context.Context, pr model.PullRequest, strategy driven.Retrier) (model.PullRequest, *model.ChecksReport, error) {
	head, err := s.host.HeadRevision(ctx, pr.Repo, pr.Number)
	if err != nil {
		return pr, nil, fmt.Errorf("fetching head revision of %s: %w", pr.Slug(), err)
	}
	if !model.IsValidRevision(head) {
		return pr, nil, fmt.Errorf("head revision of %s: %w: %q", pr.Slug(), model.ErrInvalidRevision, head)
	}

	isNewRevision := head != pr.LastProcessedSHA
	pr.LastProcessedSHA = head
	if isNewRevision {
		pr.Status = model.PRStatusPending
	} else if pr.Status != model.PRStatusPending {
		// Already resolved and unchanged: nothing to do until a new revision.
		return pr, nil, nil
	}

	records, err := s.loadRecords(ctx, pr, isNewRevision)
	if err != nil {
		return pr, nil, err
	}

	observations, err := s.host.ListCheckObservations(ctx, pr.Repo, head)
	if err != nil {
		return pr, nil, fmt.Errorf("listing check observations of %s: %w", pr.Slug(), err)
	}

	now := s.now()
	report := model.NewChecksReport()
	classified := make(map[string]struct{}, len(observations))

	for _, obs := range observations {
		if _, done := classified[obs.Context]; done {
			// Observations arrive most recent first; only that one counts.
			continue
		}
		if s.cfg.IsIgnored(pr.Repo, obs.Context) {
			continue
		}

		record, ok := records[obs.Context]
		if !ok {
			record = model.NewCheck(pr, obs.Context)
		}

		policy := checkPolicy{
			maxRetries:    s.cfg.MaxRetriesFor(pr.Repo, obs.Context),
			maxRetryDelay: s.cfg.MaxRetryDelayFor(pr.Repo, obs.Context),
		}

		bucket, updated, err := classifyCheck(obs, record, policy, now)
		if err != nil {
			return pr, nil, fmt.Errorf("evaluating %s: %w", pr.Slug(), err)
		}

		report.Add(bucket, updated)
		classified[obs.Context] = struct{}{}
	}

	switch {
	case len(report.TooManyFailures) > 0:
		pr.Status = model.PRStatusFailed
		s.notify(ctx, "too many failures", s.notifier.TooManyFailures, pr, report)
		if err := strategy.Cleanup(ctx, pr); err != nil {
			return pr, report, fmt.Errorf("cleaning up %s: %w", pr.Slug(), err)
		}

	case len(report.Retrying) > 0:
		s.notify(ctx, "retrying", s.notifier.Retrying, pr, report)
		if err := strategy.Retry(ctx, &pr, report); err != nil {
			// A failed remediation must not be recorded as a done retry;
			// the unstamped records make the next cycle try again.
			return pr, report, fmt.Errorf("retrying checks of %s: %w", pr.Slug(), err)
		}
		report.StampRetried(now)

	case len(report.RetryPending)+len(report.Pending) == 0:
		pr.Status = model.PRStatusSuccessful
		s.notify(ctx, "success", s.notifier.Success, pr, report)
		if err := strategy.Cleanup(ctx, pr); err != nil {
			return pr, report, fmt.Errorf("cleaning up %s: %w", pr.Slug(), err)
		}
	}

	// Persist the classified records plus the carried-over ones no
	// observation matched this cycle.
	checks := report.All()
	for name, record := range records {
		if _, ok := classified[name]; !ok {
			checks = append(checks, record)
		}
	}
	if err := s.store.SaveEvaluation(ctx, pr, checks); err != nil {
		return pr, report, fmt.Errorf("saving evaluation of %s: %w", pr.Slug(), err)
	}

	return pr, report, nil
}

// Remove retires a pull request that is gone or superseded upstream: the
// strategy's remediation artifacts are cleaned up once, then the stored
// state is deleted.
func (s *TriageService) Remove(ctx context.Context, pr model.PullRequest, strategy driven.Retrier) error {
	if err := strategy.Cleanup(ctx, pr); err != nil {
		return fmt.Errorf("cleaning up %s: %w", pr.Slug(), err)
	}
	if err := s.store.DeletePullRequest(ctx, pr.Repo, pr.Number); err != nil {
		return fmt.Errorf("deleting state of %s: %w", pr.Slug(), err)
	}
	return nil
}

// loadRecords returns the stored check records keyed by context. A new
// revision resets every carried-over failure count, once, before any
// classification happens.
func (s *TriageService) loadRecords(ctx context.Context, pr model.PullRequest, isNewRevision bool) (map[string]model.Check, error) {
	stored, err := s.store.ListChecks(ctx, pr.Repo, pr.Number)
	if err != nil {
		return nil, fmt.Errorf("loading check records of %s: %w", pr.Slug(), err)
	}

	records := make(map[string]model.Check, len(stored))
	for _, record := range stored {
		if isNewRevision {
			record.FailureCount = 0
		}
		records[record.Context] = record
	}
	return records, nil
}

// notify delivers an outcome notification. Delivery trouble is logged and
// otherwise ignored: it never blocks the evaluation or its persistence.
func (s *TriageService) notify(ctx context.Context, outcome string, send func(context.Context, model.PullRequest, *model.ChecksReport) error, pr model.PullRequest, report *model.ChecksReport) {
	if err := send(ctx, pr, report); err != nil {
		slog.Error("notification failed", "pr", pr.Slug(), "outcome", outcome, "error", err)
	}
}
