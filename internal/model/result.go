package model

import "time"

// WorkerResult is the immutable outcome of a single execution attempt.
// Exactly one result is produced per Execute call, regardless of which
// worker flavor ran the task.
type WorkerResult struct {
	WorkerID        string            `json:"worker_id"`
	Status          WorkerStatus      `json:"status"`
	Content         string            `json:"content"`
	Error           string            `json:"error,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	DurationSeconds float64           `json:"duration_seconds"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// IsSuccess reports whether the execution reached the completed state.
func (r *WorkerResult) IsSuccess() bool {
	return r.Status == StatusCompleted
}

// ToMap converts the result to a generic key-value structure for
// persistence and wire transport.
func (r *WorkerResult) ToMap() map[string]any {
	m := map[string]any{
		"worker_id":        r.WorkerID,
		"status":           string(r.Status),
		"content":          r.Content,
		"started_at":       r.StartedAt.UTC().Format(time.RFC3339Nano),
		"duration_seconds": r.DurationSeconds,
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	if r.CompletedAt != nil {
		m["completed_at"] = r.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	if len(r.Metadata) > 0 {
		meta := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		m["metadata"] = meta
	}
	return m
}

// ResultFromMap reconstructs a WorkerResult from the generic key-value
// form produced by ToMap. Unknown keys are ignored; missing keys leave
// zero values.
func ResultFromMap(m map[string]any) *WorkerResult {
	r := &WorkerResult{}
	if v, ok := m["worker_id"].(string); ok {
		r.WorkerID = v
	}
	if v, ok := m["status"].(string); ok {
		r.Status = WorkerStatus(v)
	}
	if v, ok := m["content"].(string); ok {
		r.Content = v
	}
	if v, ok := m["error"].(string); ok {
		r.Error = v
	}
	if v, ok := m["started_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			r.StartedAt = t
		}
	}
	if v, ok := m["completed_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			r.CompletedAt = &t
		}
	}
	switch v := m["duration_seconds"].(type) {
	case float64:
		r.DurationSeconds = v
	case int:
		r.DurationSeconds = float64(v)
	}
	if meta, ok := m["metadata"].(map[string]any); ok {
		r.Metadata = make(map[string]string, len(meta))
		for k, v := range meta {
			if s, ok := v.(string); ok {
				r.Metadata[k] = s
			}
		}
	}
	return r
}
