package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/foreman/internal/store"
)

// listResultsResponse wraps the paginated result list.
type listResultsResponse struct {
	Results []store.StoredResult `json:"results"`
	Total   int                  `json:"total"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	results, total, err := s.store.ListResults(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list results", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}

	if results == nil {
		results = []store.StoredResult{}
	}

	s.writeJSON(w, http.StatusOK, listResultsResponse{
		Results: results,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Server) handleGetLatestResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.store.LatestResult(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no result for worker")
		return
	}
	if err != nil {
		s.logger.Error("get latest result", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get result")
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetCaptures(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	captures, err := s.store.ListCaptures(r.Context(), id)
	if err != nil {
		s.logger.Error("list captures", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list captures")
		return
	}

	if captures == nil {
		captures = []store.Capture{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"worker_id": id,
		"captures":  captures,
	})
}

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total              int            `json:"total"`
	ByStatus           map[string]int `json:"by_status"`
	AvgDurationSeconds float64        `json:"avg_duration_seconds"`
	RegisteredWorkers  int            `json:"registered_workers"`
	GateCapacity       int            `json:"gate_capacity"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("get result stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:              stats.Total,
		ByStatus:           stats.CountByStatus,
		AvgDurationSeconds: stats.AvgDurationSeconds,
		RegisteredWorkers:  len(s.manager.List()),
		GateCapacity:       s.manager.Capacity(),
	})
}
