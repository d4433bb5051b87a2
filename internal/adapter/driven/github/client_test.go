package github_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	ghAdapter "github.com/nlecoy/recheck/internal/adapter/driven/github"
	"github.com/nlecoy/recheck/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const headSHA = "63a101b93d176dbb1b5ba1a2eb168eaa8aebb139"

// newTestClient creates a Client backed by the given httptest handler.
func newTestClient(t *testing.T, handler http.Handler) (*ghAdapter.Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := ghAdapter.NewClientWithHTTPClient(server.Client(), server.URL+"/")
	require.NoError(t, err)

	return client, server
}

// searchResultJSON is a helper struct for building GitHub search API responses.
type searchResultJSON struct {
	TotalCount int         `json:"total_count"`
	Items      []issueJSON `json:"items"`
}

type issueJSON struct {
	HTMLURL string `json:"html_url"`
}

type userJSON struct {
	Login string `json:"login"`
}

type prJSON struct {
	Number int     `json:"number"`
	Head   refJSON `json:"head"`
}

type refJSON struct {
	Ref string `json:"ref"`
	SHA string `json:"sha,omitempty"`
}

type statusJSON struct {
	ID      int64  `json:"id"`
	State   string `json:"state"`
	Context string `json:"context"`
}

type commentJSON struct {
	ID      int64    `json:"id"`
	Body    string   `json:"body"`
	Created string   `json:"created_at"`
	User    userJSON `json:"user"`
}

func TestSearchAuthoredPullRequests(t *testing.T) {
	var gotQuery string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(searchResultJSON{
			TotalCount: 2,
			Items: []issueJSON{
				{HTMLURL: "https://github.com/moby/moby/pull/38349"},
				{HTMLURL: "https://github.com/wendy/sandbox/pull/7"},
			},
		})
	})

	client, _ := newTestClient(t, handler)
	urls, err := client.SearchAuthoredPullRequests(context.Background(), "crierbot")

	require.NoError(t, err)
	assert.Equal(t, "is:open is:pr author:crierbot archived:false", gotQuery)
	assert.Equal(t, []string{
		"https://github.com/moby/moby/pull/38349",
		"https://github.com/wendy/sandbox/pull/7",
	}, urls)
}

func TestSearchAuthoredPullRequests_Pagination(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")

		w.Header().Set("Content-Type", "application/json")

		if page == "" || page == "1" {
			// Page 1: include Link header pointing to page 2
			w.Header().Set("Link", fmt.Sprintf(`<%s?page=2>; rel="next"`, "http://"+r.Host+r.URL.Path))
			json.NewEncoder(w).Encode(searchResultJSON{
				TotalCount: 2,
				Items:      []issueJSON{{HTMLURL: "https://github.com/moby/moby/pull/1"}},
			})
		} else {
			// Page 2: no Link header (last page)
			json.NewEncoder(w).Encode(searchResultJSON{
				TotalCount: 2,
				Items:      []issueJSON{{HTMLURL: "https://github.com/moby/moby/pull/2"}},
			})
		}
	})

	client, _ := newTestClient(t, handler)
	urls, err := client.SearchAuthoredPullRequests(context.Background(), "crierbot")

	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://github.com/moby/moby/pull/1",
		"https://github.com/moby/moby/pull/2",
	}, urls)
}

func TestHeadRevision(t *testing.T) {
	var gotPath string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(prJSON{
			Number: 38349,
			Head:   refJSON{Ref: "fix-flaky-test", SHA: headSHA},
		})
	})

	client, _ := newTestClient(t, handler)
	rev, err := client.HeadRevision(context.Background(), "moby/moby", 38349)

	require.NoError(t, err)
	assert.Equal(t, "/repos/moby/moby/pulls/38349", gotPath)
	assert.Equal(t, headSHA, rev)
}

func TestHeadBranch(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(prJSON{
			Number: 38349,
			Head:   refJSON{Ref: "fix-flaky-test", SHA: headSHA},
		})
	})

	client, _ := newTestClient(t, handler)
	branch, err := client.HeadBranch(context.Background(), "moby/moby", 38349)

	require.NoError(t, err)
	assert.Equal(t, "fix-flaky-test", branch)
}

// --- ListCheckObservations tests ---

func TestListCheckObservations(t *testing.T) {
	statuses := []statusJSON{
		{ID: 9102, State: "error", Context: "ci/janky"},
		{ID: 9088, State: "success", Context: "ci/docs"},
		{ID: 9001, State: "error", Context: "ci/janky"},
	}

	var gotPath string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statuses)
	})

	client, _ := newTestClient(t, handler)
	obs, err := client.ListCheckObservations(context.Background(), "moby/moby", headSHA)

	require.NoError(t, err)
	assert.Equal(t, "/repos/moby/moby/commits/"+headSHA+"/statuses", gotPath)
	require.Len(t, obs, 3)

	// Upstream order (most recent first) is preserved, duplicates included;
	// the triage engine owns deduplication.
	assert.Equal(t, model.Observation{Context: "ci/janky", State: model.CheckStateError, EventID: 9102}, obs[0])
	assert.Equal(t, model.Observation{Context: "ci/docs", State: model.CheckStateSuccess, EventID: 9088}, obs[1])
	assert.Equal(t, model.Observation{Context: "ci/janky", State: model.CheckStateError, EventID: 9001}, obs[2])
}

func TestListCheckObservations_VerbatimState(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]statusJSON{
			{ID: 9200, State: "failure", Context: "ci/odd"},
		})
	})

	client, _ := newTestClient(t, handler)
	obs, err := client.ListCheckObservations(context.Background(), "moby/moby", headSHA)

	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, model.CheckState("failure"), obs[0].State,
		"state strings outside the known vocabulary pass through for the classifier to reject")
}

func TestListCheckObservations_InvalidRepoName(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be called for invalid repo name")
	})

	client, _ := newTestClient(t, handler)

	tests := []struct {
		name string
		repo string
	}{
		{name: "no slash", repo: "invalid"},
		{name: "empty owner", repo: "/repo"},
		{name: "empty repo", repo: "owner/"},
		{name: "empty string", repo: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.ListCheckObservations(context.Background(), tc.repo, headSHA)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid repo name")
		})
	}
}

// --- Comment tests ---

func TestPostComment(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody struct {
		Body string `json:"body"`
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": int64(456), "body": gotBody.Body})
	})

	client, _ := newTestClient(t, handler)
	err := client.PostComment(context.Background(), "moby/moby", 38349, "/retest")

	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/repos/moby/moby/issues/38349/comments", gotPath)
	assert.Equal(t, "/retest", gotBody.Body)
}

func TestListCommentsByUser(t *testing.T) {
	comments := []commentJSON{
		{ID: 1, Body: "/retest", Created: "2026-01-10T10:00:00Z", User: userJSON{Login: "crierbot"}},
		{ID: 2, Body: "nice work!", Created: "2026-01-10T11:00:00Z", User: userJSON{Login: "alice"}},
		{ID: 3, Body: "/retest", Created: "2026-01-10T12:00:00Z", User: userJSON{Login: "crierbot"}},
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(comments)
	})

	client, _ := newTestClient(t, handler)
	result, err := client.ListCommentsByUser(context.Background(), "moby/moby", 38349, "crierbot")

	require.NoError(t, err)
	require.Len(t, result, 2, "other users' comments should be filtered out")

	assert.Equal(t, int64(1), result[0].ID)
	assert.Equal(t, "/retest", result[0].Body)
	assert.False(t, result[0].CreatedAt.IsZero())
	assert.Equal(t, int64(3), result[1].ID)
}

func TestDeleteComment(t *testing.T) {
	var gotMethod, gotPath string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	client, _ := newTestClient(t, handler)
	err := client.DeleteComment(context.Background(), "moby/moby", 456)

	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/repos/moby/moby/issues/comments/456", gotPath)
}

// --- ValidateToken tests ---

func TestValidateToken(t *testing.T) {
	var gotPath string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(userJSON{Login: "crierbot"})
	})

	client, _ := newTestClient(t, handler)
	login, err := client.ValidateToken(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "/user", gotPath)
	assert.Equal(t, "crierbot", login)
}

func TestValidateToken_BadCredentials(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"message": "Bad credentials"})
	})

	client, _ := newTestClient(t, handler)
	_, err := client.ValidateToken(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "token validation failed")
}
