package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/seantiz/foreman/internal/model"
)

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func spawnEcho(t *testing.T, ts *httptest.Server, count int) []string {
	t.Helper()
	resp := postJSON(t, ts.URL+"/v1/workers", spawnRequest{WorkerType: "echo", Count: count})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("spawn status = %d, want 201", resp.StatusCode)
	}
	var out spawnResponse
	decodeJSON(t, resp, &out)
	if len(out.WorkerIDs) != count {
		t.Fatalf("spawned %d workers, want %d", len(out.WorkerIDs), count)
	}
	return out.WorkerIDs
}

func TestSpawnWorkers(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ids := spawnEcho(t, ts, 2)
	if ids[0] == ids[1] {
		t.Error("spawned workers share an id")
	}

	resp, err := http.Get(ts.URL + "/v1/workers")
	if err != nil {
		t.Fatalf("GET /v1/workers: %v", err)
	}
	var list listWorkersResponse
	decodeJSON(t, resp, &list)

	if list.Total != 2 {
		t.Errorf("total = %d, want 2", list.Total)
	}
	for _, info := range list.Workers {
		if info.WorkerType != "echo" {
			t.Errorf("worker_type = %s, want echo", info.WorkerType)
		}
	}
}

func TestSpawnUnknownType(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/workers", spawnRequest{WorkerType: "hologram", Count: 1})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSpawnMissingType(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/workers", spawnRequest{Count: 1})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestExecuteTask(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ids := spawnEcho(t, ts, 1)

	resp := postJSON(t, ts.URL+"/v1/workers/"+ids[0]+"/execute",
		executeRequest{Task: "hello", TimeoutSeconds: 5})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status = %d, want 200", resp.StatusCode)
	}
	var res model.WorkerResult
	decodeJSON(t, resp, &res)

	if res.Status != model.StatusCompleted {
		t.Errorf("status = %s, want completed", res.Status)
	}
	if res.Content != "echo: hello" {
		t.Errorf("content = %q, want %q", res.Content, "echo: hello")
	}

	// The outcome is persisted and queryable.
	resp2, err := http.Get(ts.URL + "/v1/workers/" + ids[0] + "/result")
	if err != nil {
		t.Fatalf("GET result: %v", err)
	}
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("result status = %d, want 200", resp2.StatusCode)
	}
	var stored model.WorkerResult
	decodeJSON(t, resp2, &stored)
	if stored.Content != "echo: hello" {
		t.Errorf("stored content = %q, want %q", stored.Content, "echo: hello")
	}
}

func TestExecuteUnknownWorker(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/workers/no-such-id/execute",
		executeRequest{Task: "hello"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestExecuteMissingTask(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ids := spawnEcho(t, ts, 1)

	resp := postJSON(t, ts.URL+"/v1/workers/"+ids[0]+"/execute", executeRequest{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestExecuteBusyWorker(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/workers", spawnRequest{WorkerType: "busy", Count: 1})
	var out spawnResponse
	decodeJSON(t, resp, &out)

	resp2 := postJSON(t, ts.URL+"/v1/workers/"+out.WorkerIDs[0]+"/execute",
		executeRequest{Task: "hello"})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp2.StatusCode)
	}
}

func TestExecuteBatch(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ids := spawnEcho(t, ts, 3)

	tasks := make([]string, len(ids))
	for i := range ids {
		tasks[i] = fmt.Sprintf("task-%d", i)
	}

	resp := postJSON(t, ts.URL+"/v1/workers/execute",
		executeBatchRequest{WorkerIDs: ids, Tasks: tasks, TimeoutSeconds: 5})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("batch status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Results []*model.WorkerResult `json:"results"`
	}
	decodeJSON(t, resp, &out)

	if len(out.Results) != len(ids) {
		t.Fatalf("got %d results, want %d", len(out.Results), len(ids))
	}
	for i, res := range out.Results {
		if res.WorkerID != ids[i] {
			t.Errorf("result %d out of order: %s, want %s", i, res.WorkerID, ids[i])
		}
		if res.Content != "echo: "+tasks[i] {
			t.Errorf("result %d content = %q", i, res.Content)
		}
	}
}

func TestExecuteBatchLengthMismatch(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ids := spawnEcho(t, ts, 2)

	resp := postJSON(t, ts.URL+"/v1/workers/execute",
		executeBatchRequest{WorkerIDs: ids, Tasks: []string{"only one"}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCloseWorker(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ids := spawnEcho(t, ts, 1)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/workers/"+ids[0], nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE worker: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/v1/workers/" + ids[0])
	if err != nil {
		t.Fatalf("GET worker: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("status after close = %d, want 404", resp2.StatusCode)
	}
}

func TestCloseAllWorkers(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	spawnEcho(t, ts, 3)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/workers", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE workers: %v", err)
	}
	var out map[string]int
	decodeJSON(t, resp, &out)
	if out["closed"] != 3 {
		t.Errorf("closed = %d, want 3", out["closed"])
	}

	resp2, err := http.Get(ts.URL + "/v1/workers")
	if err != nil {
		t.Fatalf("GET workers: %v", err)
	}
	var list listWorkersResponse
	decodeJSON(t, resp2, &list)
	if list.Total != 0 {
		t.Errorf("total after close all = %d, want 0", list.Total)
	}
}

func TestListWorkerTypes(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/worker-types")
	if err != nil {
		t.Fatalf("GET /v1/worker-types: %v", err)
	}
	var out map[string][]string
	decodeJSON(t, resp, &out)

	types := out["worker_types"]
	if len(types) != 2 || types[0] != "busy" || types[1] != "echo" {
		t.Errorf("unexpected worker types: %v", types)
	}
}

func TestStats(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ids := spawnEcho(t, ts, 1)
	postJSON(t, ts.URL+"/v1/workers/"+ids[0]+"/execute",
		executeRequest{Task: "hello"}).Body.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats: %v", err)
	}
	var stats statsResponse
	decodeJSON(t, resp, &stats)

	if stats.Total != 1 {
		t.Errorf("total = %d, want 1", stats.Total)
	}
	if stats.ByStatus["completed"] != 1 {
		t.Errorf("by_status[completed] = %d, want 1", stats.ByStatus["completed"])
	}
	if stats.RegisteredWorkers != 1 {
		t.Errorf("registered_workers = %d, want 1", stats.RegisteredWorkers)
	}
	if stats.GateCapacity != 10 {
		t.Errorf("gate_capacity = %d, want 10", stats.GateCapacity)
	}
}

func TestListResults(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ids := spawnEcho(t, ts, 1)
	for i := 0; i < 3; i++ {
		postJSON(t, ts.URL+"/v1/workers/"+ids[0]+"/execute",
			executeRequest{Task: fmt.Sprintf("task-%d", i)}).Body.Close()
	}

	resp, err := http.Get(ts.URL + "/v1/results?limit=2")
	if err != nil {
		t.Fatalf("GET /v1/results: %v", err)
	}
	var out listResultsResponse
	decodeJSON(t, resp, &out)

	if out.Total != 3 {
		t.Errorf("total = %d, want 3", out.Total)
	}
	if len(out.Results) != 2 {
		t.Errorf("page size = %d, want 2", len(out.Results))
	}
	// Newest first.
	if out.Results[0].Result.Content != "echo: task-2" {
		t.Errorf("first result = %q, want newest", out.Results[0].Result.Content)
	}
}

func TestLatestResultNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/workers/no-results/result")
	if err != nil {
		t.Fatalf("GET result: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamOutput(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ids := spawnEcho(t, ts, 1)

	resp, err := http.Get(ts.URL + "/v1/workers/" + ids[0] + "/output")
	if err != nil {
		t.Fatalf("GET output: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	// Drive output through the broker, then end the stream.
	srv.manager.Broker().Publish(ids[0], "stdout", "line one")
	srv.manager.Broker().Close(ids[0])

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	body := string(raw)
	if !strings.Contains(body, "event: stdout") {
		t.Errorf("stream missing source-typed event: %q", body)
	}
	if !strings.Contains(body, "id: 0") {
		t.Errorf("stream missing sequence id: %q", body)
	}
	if !strings.Contains(body, "data: line one") {
		t.Errorf("stream missing published line: %q", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Errorf("stream missing done event: %q", body)
	}
}

func TestStreamOutputUnknownWorker(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/workers/ghost/output")
	if err != nil {
		t.Fatalf("GET output: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
