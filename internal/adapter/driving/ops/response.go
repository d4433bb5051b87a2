package ops

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nlecoy/recheck/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// PullResponse is the JSON representation of a tracked pull request.
type PullResponse struct {
	Repository       string          `json:"repository"`
	Number           int             `json:"number"`
	URL              string          `json:"url"`
	Status           string          `json:"status"`
	LastProcessedSHA string          `json:"last_processed_sha"`
	Checks           []CheckResponse `json:"checks"`
}

// CheckResponse is the JSON representation of one check retry ledger entry.
// LastErroredID and LastRetriedAt render as null until the first failure and
// first retry respectively.
type CheckResponse struct {
	Context       string  `json:"context"`
	FailureCount  int     `json:"failure_count"`
	LastErroredID *int64  `json:"last_errored_id"`
	LastRetriedAt *string `json:"last_retried_at"`
}

// HealthResponse is the JSON representation of the liveness endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toPullResponse converts a tracked pull request and its check records to
// the JSON response representation.
func toPullResponse(pr model.PullRequest, checks []model.Check) PullResponse {
	cs := make([]CheckResponse, 0, len(checks))
	for _, c := range checks {
		cs = append(cs, toCheckResponse(c))
	}

	return PullResponse{
		Repository:       pr.Repo,
		Number:           pr.Number,
		URL:              pr.URL(),
		Status:           string(pr.Status),
		LastProcessedSHA: pr.LastProcessedSHA,
		Checks:           cs,
	}
}

// toCheckResponse converts a check record to its JSON representation.
func toCheckResponse(c model.Check) CheckResponse {
	resp := CheckResponse{
		Context:       c.Context,
		FailureCount:  c.FailureCount,
		LastErroredID: c.LastErroredID,
	}
	if c.LastRetriedAt != nil {
		s := c.LastRetriedAt.UTC().Format(time.RFC3339)
		resp.LastRetriedAt = &s
	}
	return resp
}
