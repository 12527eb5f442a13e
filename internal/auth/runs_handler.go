// runs_handler.go -- GET /api/dags/{dag_id}/runs/{run_id}.
package auth

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
)

type runResponse struct {
	ID            int64      `json:"id"`
	RunID         string     `json:"run_id"`
	State         string     `json:"state"`
	DagID         string     `json:"dag_id"`
	ExecutionDate time.Time  `json:"execution_date"`
	StartDate     *time.Time `json:"start_date"`
	DagRunURL     string     `json:"dag_run_url"`
}

// GetRun handles the dag run lookup. Requires RequireBearer upstream.
// A missing run is a 404 whose message tells an unknown dag from an unknown run.
func (h *AuthHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	dagID := chi.URLParam(r, "dag_id")
	runID := chi.URLParam(r, "run_id")

	run, err := h.Runs.GetRun(r.Context(), dagID, runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			h.runNotFound(w, r, dagID)
			return
		}
		InternalServerError(w, r, err)
		return
	}

	q := url.Values{
		"dag_id":         {run.DagID},
		"execution_date": {run.ExecutionDate.UTC().Format(time.RFC3339)},
	}
	writeJSON(w, http.StatusOK, runResponse{
		ID:            run.ID,
		RunID:         run.RunID,
		State:         run.State,
		DagID:         run.DagID,
		ExecutionDate: run.ExecutionDate,
		StartDate:     run.StartDate,
		DagRunURL:     "/graph?" + q.Encode(),
	})
}

// runNotFound answers a missed run lookup.
func (h *AuthHandler) runNotFound(w http.ResponseWriter, r *http.Request, dagID string) {
	exists, err := h.Runs.DagExists(r.Context(), dagID)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	if !exists {
		NotFound(w, "dag not found")
		return
	}
	NotFound(w, "dag run not found")
}
