// Package application contains use-case orchestration services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nlecoy/recheck/internal/config"
	"github.com/nlecoy/recheck/internal/domain/model"
	"github.com/nlecoy/recheck/internal/domain/port/driven"
)

// PollService orchestrates the periodic triage loop: it discovers the
// configured user's open pull requests, evaluates each one, and retires
// stored state for pull requests that are gone or no longer configured.
type PollService struct {
	host     driven.HostClient
	store    driven.StateStore
	triage   *TriageService
	retriers map[string]driven.Retrier
	fallback driven.Retrier
	cfg      *config.Config
}

// NewPollService creates a PollService. retriers maps repository slugs
// (lowercase) to their configured retry strategy; fallback serves pull
// requests whose repository has since left the configuration.
func NewPollService(
	host driven.HostClient,
	store driven.StateStore,
	triage *TriageService,
	retriers map[string]driven.Retrier,
	fallback driven.Retrier,
	cfg *config.Config,
) *PollService {
	return &PollService{
		host:     host,
		store:    store,
		triage:   triage,
		retriers: retriers,
		fallback: fallback,
		cfg:      cfg,
	}
}

// Start begins the polling loop. It runs an immediate cycle, then polls on
// the configured interval. Start blocks until the context is canceled.
func (s *PollService) Start(ctx context.Context) {
	if err := s.Run(ctx); err != nil {
		slog.Error("initial poll failed", "error", err)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("poll service stopped")
			return
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				slog.Error("poll cycle failed", "error", err)
			}
		}
	}
}

// Run performs one full triage cycle: discover open pull requests, evaluate
// the configured ones, retire state for the rest. A failure on one pull
// request is logged and counted, never allowed to sink the whole cycle.
func (s *PollService) Run(ctx context.Context) error {
	start := time.Now()

	urls, err := s.host.SearchAuthoredPullRequests(ctx, s.cfg.GitHub.User)
	if err != nil {
		return fmt.Errorf("searching pull requests of %s: %w", s.cfg.GitHub.User, err)
	}

	// processed collects the slugs this cycle is responsible for; anything
	// tracked but absent from it is a leftover to retire.
	processed := make(map[string]struct{}, len(urls))
	var evaluated, failures int

	for _, url := range urls {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		parsed, err := model.ParsePullRequestURL(url)
		if err != nil {
			slog.Error("skipping malformed pull request url", "url", url, "error", err)
			failures++
			continue
		}

		if !s.cfg.HasRepository(parsed.Repo) {
			continue
		}
		processed[parsed.Slug()] = struct{}{}

		pr := parsed
		tracked, err := s.store.GetPullRequest(ctx, parsed.Repo, parsed.Number)
		if err != nil {
			slog.Error("loading pull request failed", "pr", parsed.Slug(), "error", err)
			failures++
			continue
		}
		if tracked != nil {
			pr = *tracked
		}

		evaluated++
		pr, report, err := s.triage.Evaluate(ctx, pr, s.strategyFor(pr.Repo))
		if err != nil {
			slog.Error("evaluation failed", "pr", pr.Slug(), "error", err)
			failures++
			continue
		}
		if report != nil {
			slog.Debug("pull request evaluated",
				"pr", pr.Slug(),
				"status", pr.Status,
				"successful", len(report.Successful),
				"pending", len(report.Pending),
				"retrying", len(report.Retrying),
				"retry_pending", len(report.RetryPending),
				"too_many_failures", len(report.TooManyFailures),
			)
		}
	}

	removed, removeFailures := s.removeLeftovers(ctx, processed)
	failures += removeFailures

	slog.Info("poll cycle complete",
		"open", len(urls),
		"evaluated", evaluated,
		"removed", removed,
		"errors", failures,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return nil
}

// removeLeftovers retires every tracked pull request the current cycle did
// not process: closed or merged ones, and ones whose repository is no
// longer configured.
func (s *PollService) removeLeftovers(ctx context.Context, processed map[string]struct{}) (removed, failures int) {
	tracked, err := s.store.ListPullRequests(ctx)
	if err != nil {
		slog.Error("listing tracked pull requests failed", "error", err)
		return 0, 1
	}

	for _, pr := range tracked {
		if _, ok := processed[pr.Slug()]; ok {
			continue
		}
		if err := s.triage.Remove(ctx, pr, s.strategyFor(pr.Repo)); err != nil {
			slog.Error("retiring pull request failed", "pr", pr.Slug(), "error", err)
			failures++
			continue
		}
		removed++
		slog.Info("retired pull request", "pr", pr.Slug())
	}

	return removed, failures
}

// strategyFor returns the retry strategy for the repository, or the
// fallback when the repository is not configured.
func (s *PollService) strategyFor(repo string) driven.Retrier {
	if strategy, ok := s.retriers[strings.ToLower(repo)]; ok {
		return strategy
	}
	return s.fallback
}
