package application_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlecoy/recheck/internal/application"
	"github.com/nlecoy/recheck/internal/config"
	"github.com/nlecoy/recheck/internal/domain/model"
	"github.com/nlecoy/recheck/internal/domain/port/driven"
)

func pollConfig(repos ...string) *config.Config {
	cfg := testConfig()
	cfg.Repositories = make(map[string]config.RepoConfig, len(repos))
	for _, repo := range repos {
		cfg.Repositories[repo] = config.RepoConfig{Retrier: config.RetrierComment}
	}
	return cfg
}

func prURL(repo string, number int) string {
	return fmt.Sprintf("https://github.com/%s/pull/%d", repo, number)
}

func newPoll(host *mockHost, store *mockStateStore, cfg *config.Config, retriers map[string]driven.Retrier, fallback *mockRetrier) *application.PollService {
	triage := application.NewTriageService(host, store, &mockNotifier{}, cfg, func() time.Time { return cycleTime })
	return application.NewPollService(host, store, triage, retriers, fallback, cfg)
}

func TestRun_EvaluatesConfiguredRepositoriesOnly(t *testing.T) {
	host := &mockHost{
		search: func(_ context.Context, user string) ([]string, error) {
			assert.Equal(t, "wendy", user)
			return []string{
				prURL("moby/moby", 38349),
				prURL("other/repo", 7),
			}, nil
		},
		observations: func(_ context.Context, _ string, _ string) ([]model.Observation, error) {
			return []model.Observation{{Context: "blah", State: model.CheckStateSuccess, EventID: 40}}, nil
		},
	}
	store := newMockStore()
	moby := &mockRetrier{}
	svc := newPoll(host, store, pollConfig("moby/moby"),
		map[string]driven.Retrier{"moby/moby": moby}, &mockRetrier{})

	err := svc.Run(context.Background())

	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "moby/moby#38349", store.saved[0].pr.Slug())
	_, tracked := store.pulls["other/repo#7"]
	assert.False(t, tracked, "unconfigured repositories are never tracked")
	assert.Len(t, moby.cleanups, 1, "an all-green pull request gets its artifacts cleaned up")
}

func TestRun_RetiresClosedPullRequests(t *testing.T) {
	host := &mockHost{
		search: func(_ context.Context, _ string) ([]string, error) { return nil, nil },
	}
	store := newMockStore()
	pr := testPR(model.PRStatusPending, revA)
	store.pulls[pr.Slug()] = pr

	moby := &mockRetrier{}
	svc := newPoll(host, store, pollConfig("moby/moby"),
		map[string]driven.Retrier{"moby/moby": moby}, &mockRetrier{})

	err := svc.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{pr.Slug()}, store.deletes)
	assert.Len(t, moby.cleanups, 1, "cleanup runs before the state is deleted")
}

func TestRun_RetiresTrackedPullRequestsOfUnconfiguredRepositories(t *testing.T) {
	// The pull request is still open upstream, but its repository has left
	// the configuration, so its state is retired via the fallback strategy.
	host := &mockHost{
		search: func(_ context.Context, _ string) ([]string, error) {
			return []string{prURL("legacy/repo", 5)}, nil
		},
	}
	store := newMockStore()
	legacy := model.PullRequest{Repo: "legacy/repo", Number: 5, LastProcessedSHA: revA, Status: model.PRStatusPending}
	store.pulls[legacy.Slug()] = legacy

	fallback := &mockRetrier{}
	svc := newPoll(host, store, pollConfig("moby/moby"),
		map[string]driven.Retrier{"moby/moby": &mockRetrier{}}, fallback)

	err := svc.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{legacy.Slug()}, store.deletes)
	assert.Len(t, fallback.cleanups, 1)
}

func TestRun_EvaluationFailureDoesNotSinkTheCycle(t *testing.T) {
	host := &mockHost{
		search: func(_ context.Context, _ string) ([]string, error) {
			return []string{
				prURL("moby/moby", 1),
				prURL("moby/moby", 2),
			}, nil
		},
		headRevision: func(_ context.Context, _ string, number int) (string, error) {
			if number == 1 {
				return "", errors.New("api down")
			}
			return revA, nil
		},
		observations: func(_ context.Context, _ string, _ string) ([]model.Observation, error) {
			return []model.Observation{{Context: "blah", State: model.CheckStateSuccess, EventID: 40}}, nil
		},
	}
	store := newMockStore()
	svc := newPoll(host, store, pollConfig("moby/moby"),
		map[string]driven.Retrier{"moby/moby": &mockRetrier{}}, &mockRetrier{})

	err := svc.Run(context.Background())

	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "moby/moby#2", store.saved[0].pr.Slug())
	assert.Empty(t, store.deletes, "a pull request is not retired just because its evaluation failed")
}

func TestRun_SkipsMalformedURLs(t *testing.T) {
	host := &mockHost{
		search: func(_ context.Context, _ string) ([]string, error) {
			return []string{
				"https://github.com/moby/moby/issues/1",
				prURL("moby/moby", 38349),
			}, nil
		},
		observations: func(_ context.Context, _ string, _ string) ([]model.Observation, error) {
			return nil, nil
		},
	}
	store := newMockStore()
	svc := newPoll(host, store, pollConfig("moby/moby"),
		map[string]driven.Retrier{"moby/moby": &mockRetrier{}}, &mockRetrier{})

	err := svc.Run(context.Background())

	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "moby/moby#38349", store.saved[0].pr.Slug())
}

func TestRun_SearchFailureAbortsTheCycle(t *testing.T) {
	host := &mockHost{
		search: func(_ context.Context, _ string) ([]string, error) {
			return nil, errors.New("rate limited")
		},
	}
	store := newMockStore()
	pr := testPR(model.PRStatusPending, revA)
	store.pulls[pr.Slug()] = pr
	svc := newPoll(host, store, pollConfig("moby/moby"),
		map[string]driven.Retrier{"moby/moby": &mockRetrier{}}, &mockRetrier{})

	err := svc.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Empty(t, store.deletes, "nothing is retired when discovery itself failed")
}

func TestRun_SecondCycleShortCircuitsResolvedPullRequests(t *testing.T) {
	var observationCalls int
	host := &mockHost{
		search: func(_ context.Context, _ string) ([]string, error) {
			return []string{prURL("moby/moby", 38349)}, nil
		},
		observations: func(_ context.Context, _ string, _ string) ([]model.Observation, error) {
			observationCalls++
			return []model.Observation{{Context: "blah", State: model.CheckStateSuccess, EventID: 40}}, nil
		},
	}
	store := newMockStore()
	svc := newPoll(host, store, pollConfig("moby/moby"),
		map[string]driven.Retrier{"moby/moby": &mockRetrier{}}, &mockRetrier{})

	require.NoError(t, svc.Run(context.Background()))
	require.NoError(t, svc.Run(context.Background()))

	assert.Equal(t, 1, observationCalls, "a resolved, unchanged pull request is not re-examined")
	assert.Len(t, store.saved, 1)
}

func TestStart_StopsOnCancel(t *testing.T) {
	host := &mockHost{}
	store := newMockStore()
	svc := newPoll(host, store, pollConfig(),
		map[string]driven.Retrier{}, &mockRetrier{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poll service did not stop on cancel")
	}
}
