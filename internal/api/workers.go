package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/foreman/internal/manager"
	"github.com/seantiz/foreman/internal/worker"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// spawnRequest is the JSON body for POST /v1/workers.
type spawnRequest struct {
	WorkerType string `json:"worker_type"`
	Count      int    `json:"count"`
}

// spawnResponse carries the ids of freshly spawned workers.
type spawnResponse struct {
	WorkerIDs  []string `json:"worker_ids"`
	WorkerType string   `json:"worker_type"`
}

// executeRequest is the JSON body for POST /v1/workers/{id}/execute.
type executeRequest struct {
	Task           string  `json:"task"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

// executeBatchRequest is the JSON body for POST /v1/workers/execute.
type executeBatchRequest struct {
	WorkerIDs      []string `json:"worker_ids"`
	Tasks          []string `json:"tasks"`
	TimeoutSeconds float64  `json:"timeout_seconds"`
}

// listWorkersResponse is the JSON response for GET /v1/workers.
type listWorkersResponse struct {
	Workers []manager.WorkerInfo `json:"workers"`
	Total   int                  `json:"total"`
}

func (s *Server) handleSpawnWorkers(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.WorkerType == "" {
		s.writeError(w, http.StatusBadRequest, "worker_type is required")
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}

	ids, err := s.manager.Spawn(r.Context(), req.WorkerType, req.Count)
	if err != nil {
		s.writeWorkerError(w, "spawn workers", err)
		return
	}

	s.writeJSON(w, http.StatusCreated, spawnResponse{
		WorkerIDs:  ids,
		WorkerType: req.WorkerType,
	})
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	infos := s.manager.List()
	s.writeJSON(w, http.StatusOK, listWorkersResponse{
		Workers: infos,
		Total:   len(infos),
	})
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	info, err := s.manager.Info(id)
	if err != nil {
		s.writeWorkerError(w, "get worker", err)
		return
	}

	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req executeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Task == "" {
		s.writeError(w, http.StatusBadRequest, "task is required")
		return
	}

	timeout := time.Duration(req.TimeoutSeconds * float64(time.Second))
	res, err := s.manager.Execute(r.Context(), id, req.Task, timeout)
	if err != nil {
		s.writeWorkerError(w, "execute task", err)
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExecuteBatch(w http.ResponseWriter, r *http.Request) {
	var req executeBatchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.WorkerIDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "worker_ids is required")
		return
	}

	timeout := time.Duration(req.TimeoutSeconds * float64(time.Second))
	results, err := s.manager.ExecuteBatch(r.Context(), req.WorkerIDs, req.Tasks, timeout)
	if err != nil {
		s.writeWorkerError(w, "execute batch", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleCloseWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.manager.Close(r.Context(), id); err != nil {
		s.writeWorkerError(w, "close worker", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"worker_id": id, "status": "closed"})
}

func (s *Server) handleCloseAllWorkers(w http.ResponseWriter, r *http.Request) {
	count := len(s.manager.List())
	s.manager.CloseAll(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]int{"closed": count})
}

func (s *Server) handleListWorkerTypes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"worker_types": s.flavors.Types()})
}

// writeWorkerError maps manager/worker errors onto HTTP status codes.
func (s *Server) writeWorkerError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, worker.ErrWorkerNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, worker.ErrWorkerBusy):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, worker.ErrUnknownWorkerType),
		errors.Is(err, worker.ErrLengthMismatch),
		errors.Is(err, worker.ErrInvalidArgument),
		errors.Is(err, worker.ErrUnsupportedOperation),
		errors.Is(err, worker.ErrNotRunning):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(op, "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
