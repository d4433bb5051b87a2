package ops_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nlecoy/recheck/internal/adapter/driving/ops"
	"github.com/nlecoy/recheck/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockStateStore struct {
	prs       []model.PullRequest
	checks    map[string][]model.Check
	listErr   error
	checksErr error
}

func (m *mockStateStore) GetPullRequest(_ context.Context, _ string, _ int) (*model.PullRequest, error) {
	return nil, nil
}

func (m *mockStateStore) ListPullRequests(_ context.Context) ([]model.PullRequest, error) {
	return m.prs, m.listErr
}

func (m *mockStateStore) ListChecks(_ context.Context, repo string, number int) ([]model.Check, error) {
	if m.checksErr != nil {
		return nil, m.checksErr
	}
	return m.checks[fmt.Sprintf("%s#%d", repo, number)], nil
}

func (m *mockStateStore) SaveEvaluation(_ context.Context, _ model.PullRequest, _ []model.Check) error {
	return nil
}

func (m *mockStateStore) DeletePullRequest(_ context.Context, _ string, _ int) error { return nil }

// --- Test helpers ---

var (
	testTime    = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	testTimeStr = "2026-03-14T09:30:00Z"
)

func int64p(v int64) *int64 { return &v }

func timep(v time.Time) *time.Time { return &v }

func setupMux(store *mockStateStore) http.Handler {
	h := ops.NewHandler(store, slog.Default())
	return ops.NewServeMux(h, slog.Default())
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	err := json.NewDecoder(rec.Body).Decode(v)
	require.NoError(t, err)
}

// --- Tests ---

func TestListPulls(t *testing.T) {
	tests := []struct {
		name       string
		store      *mockStateStore
		wantStatus int
		wantLen    int
		checkFirst func(t *testing.T, pull map[string]any)
	}{
		{
			name:       "empty list",
			store:      &mockStateStore{prs: nil},
			wantStatus: http.StatusOK,
			wantLen:    0,
		},
		{
			name: "two tracked pulls",
			store: &mockStateStore{
				prs: []model.PullRequest{
					{
						Repo:             "moby/moby",
						Number:           38349,
						LastProcessedSHA: "63a101b93d176dbb1b5ba1a2eb168eaa8aebb139",
						Status:           model.PRStatusFailed,
					},
					{
						Repo:   "moby/moby",
						Number: 38400,
						Status: model.PRStatusPending,
					},
				},
				checks: map[string][]model.Check{
					"moby/moby#38349": {
						{
							Repo:          "moby/moby",
							Number:        38349,
							Context:       "ci/janky",
							FailureCount:  8,
							LastErroredID: int64p(9001),
							LastRetriedAt: timep(testTime),
						},
						{
							Repo:    "moby/moby",
							Number:  38349,
							Context: "ci/docs",
						},
					},
				},
			},
			wantStatus: http.StatusOK,
			wantLen:    2,
			checkFirst: func(t *testing.T, pull map[string]any) {
				assert.Equal(t, "moby/moby", pull["repository"])
				assert.Equal(t, float64(38349), pull["number"])
				assert.Equal(t, "https://github.com/moby/moby/pull/38349", pull["url"])
				assert.Equal(t, "failed", pull["status"])
				assert.Equal(t, "63a101b93d176dbb1b5ba1a2eb168eaa8aebb139", pull["last_processed_sha"])

				checks, ok := pull["checks"].([]any)
				require.True(t, ok)
				require.Len(t, checks, 2)

				first, ok := checks[0].(map[string]any)
				require.True(t, ok)
				assert.Equal(t, "ci/janky", first["context"])
				assert.Equal(t, float64(8), first["failure_count"])
				assert.Equal(t, float64(9001), first["last_errored_id"])
				assert.Equal(t, testTimeStr, first["last_retried_at"])

				second, ok := checks[1].(map[string]any)
				require.True(t, ok)
				assert.Equal(t, "ci/docs", second["context"])
				assert.Equal(t, float64(0), second["failure_count"])
				assert.Nil(t, second["last_errored_id"])
				assert.Nil(t, second["last_retried_at"])
			},
		},
		{
			name:       "store error",
			store:      &mockStateStore{listErr: errors.New("db fail")},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "check listing error",
			store: &mockStateStore{
				prs:       []model.PullRequest{{Repo: "moby/moby", Number: 38349}},
				checksErr: errors.New("db fail"),
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := setupMux(tt.store)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/pulls", nil)
			rec := httptest.NewRecorder()

			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantStatus == http.StatusOK {
				var resp []map[string]any
				decodeJSON(t, rec, &resp)
				assert.Len(t, resp, tt.wantLen)

				if tt.checkFirst != nil && len(resp) > 0 {
					tt.checkFirst(t, resp[0])
				}
			}
		})
	}
}

func TestListPullsChecksIsEmptyArrayNotNull(t *testing.T) {
	store := &mockStateStore{
		prs: []model.PullRequest{{Repo: "moby/moby", Number: 38349, Status: model.PRStatusPending}},
	}
	mux := setupMux(store)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/pulls", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `"checks":[]`)
	assert.NotContains(t, body, `"checks":null`)
}

func TestHealthz(t *testing.T) {
	mux := setupMux(&mockStateStore{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, resp["time"])
}

func TestUnknownRouteReturns404(t *testing.T) {
	mux := setupMux(&mockStateStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
