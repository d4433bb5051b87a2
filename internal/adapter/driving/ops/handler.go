// Package ops is the HTTP driving adapter that serves the read-only
// operational surface: a liveness probe and a dump of tracked triage state.
package ops

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/nlecoy/recheck/internal/domain/port/driven"
)

// Handler serves the operational endpoints off the triage state store.
type Handler struct {
	store  driven.StateStore
	logger *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(store driven.StateStore, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /api/v1/pulls", h.ListPulls)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListPulls returns every tracked pull request with its check records.
func (h *Handler) ListPulls(w http.ResponseWriter, r *http.Request) {
	prs, err := h.store.ListPullRequests(r.Context())
	if err != nil {
		h.logger.Error("failed to list pull requests", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]PullResponse, 0, len(prs))
	for _, pr := range prs {
		checks, err := h.store.ListChecks(r.Context(), pr.Repo, pr.Number)
		if err != nil {
			h.logger.Error("failed to list checks", "pr", pr.Slug(), "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		resp = append(resp, toPullResponse(pr, checks))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Healthz returns a simple liveness response.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}
