package store

import (
	"context"
	"errors"

	"github.com/seantiz/foreman/internal/model"
)

// ErrNotFound is returned when no result exists for the requested id.
var ErrNotFound = errors.New("result not found")

// ResultStats holds aggregate execution statistics.
type ResultStats struct {
	Total              int            `json:"total"`
	CountByStatus      map[string]int `json:"count_by_status"`
	AvgDurationSeconds float64        `json:"avg_duration_seconds"`
}

// StoredResult pairs a persisted result with its record id.
type StoredResult struct {
	ID     string              `json:"id"`
	Result *model.WorkerResult `json:"result"`
}

// Capture is one persisted snapshot from a debug monitor worker.
type Capture struct {
	ID        int64  `json:"id"`
	WorkerID  string `json:"worker_id"`
	Seq       int    `json:"seq"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// ResultStore is the persistence collaborator for worker outcomes.
// Workers treat it as best-effort: a failing store call is logged and
// never fails the execution that produced the result.
type ResultStore interface {
	// SaveResult persists one execution outcome. The metadata argument is
	// merged over the result's own metadata before storage.
	SaveResult(ctx context.Context, workerID string, r *model.WorkerResult, metadata map[string]string) error

	// LatestResult returns the most recent result for the given worker.
	LatestResult(ctx context.Context, workerID string) (*model.WorkerResult, error)

	// ListResults returns a page of results ordered newest first, along
	// with the total count.
	ListResults(ctx context.Context, limit, offset int) ([]StoredResult, int, error)

	// Stats returns aggregate counts across all stored results.
	Stats(ctx context.Context) (*ResultStats, error)

	// InsertCapture persists one debug monitor snapshot.
	InsertCapture(ctx context.Context, workerID string, seq int, content string) error

	// ListCaptures returns all snapshots for a worker in capture order.
	ListCaptures(ctx context.Context, workerID string) ([]Capture, error)

	Close() error
}
