package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

const taskID = "6f1c1f9e-2b7a-4a53-9d4e-2f0d7c3a1b11"

// fakeAPI — минимальный prreview API с ответами по маршруту.
type fakeAPI struct {
	t        *testing.T
	requests []*http.Request
	bodies   []string
	polls    int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.requests = append(f.requests, r)
	f.bodies = append(f.bodies, string(body))

	writeJSON := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/reviews":
		writeJSON(http.StatusAccepted, map[string]any{"data": map[string]any{"task_id": taskID}})

	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/reviews/batch":
		writeJSON(http.StatusOK, map[string]any{"data": map[string]any{
			"batch_id": "b-1", "total_prs": 2, "succeeded": 1, "failed": 1, "duration_ms": 1200,
			"results": []any{
				map[string]any{"index": 0, "repo_url": "octo/repo", "pr_number": 1, "status": "success", "task_id": taskID,
					"result": map[string]any{"summary": "ok", "issues": []any{map[string]any{"message": "nit"}}}},
				map[string]any{"index": 1, "repo_url": "octo/repo", "pr_number": 404, "status": "error",
					"error": map[string]any{"kind": "FETCH_ERROR", "code": "not_found", "message": "pull request not found"}},
			},
		}})

	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/tasks/"+taskID:
		f.polls++
		status, ready := "RUNNING", false
		if f.polls > 1 {
			status, ready = "SUCCEEDED", true
		}
		writeJSON(http.StatusOK, map[string]any{"data": map[string]any{
			"task_id": taskID, "status": status, "result_ready": ready, "repo": "octo/repo", "pr_number": 7,
		}})

	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/tasks/"+taskID+"/result":
		line := 12
		writeJSON(http.StatusOK, map[string]any{"data": Report{
			RepoURL: "https://github.com/octo/repo", PRNumber: 7, Summary: "Adds retries",
			Issues: []Issue{{FilePath: "main.go", Line: &line, Severity: "high", Category: "bug", Message: "nil deref"}},
		}})

	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/tasks/pending/result":
		writeJSON(http.StatusAccepted, map[string]any{"data": map[string]any{"status": "PENDING", "message": "result not ready"}})

	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/tasks/failed/result":
		writeJSON(http.StatusUnprocessableEntity, map[string]any{"error": map[string]any{
			"code": "TASK_FAILED", "message": "FETCH_ERROR(not_found): pull request not found",
			"details": map[string]any{"kind": "FETCH_ERROR", "code": "not_found", "message": "pull request not found"},
		}})

	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/tasks/"+taskID+"/cancel":
		writeJSON(http.StatusOK, map[string]any{"data": map[string]any{"task_id": taskID, "status": "FAILED"}})

	default:
		writeJSON(http.StatusNotFound, map[string]any{"error": map[string]any{"code": "NOT_FOUND", "message": "task not found"}})
	}
}

// run исполняет CLI с аргументами и возвращает stdout, stderr и ошибку.
func run(t *testing.T, api *fakeAPI, jsonMode bool, args ...string) (string, string, error) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	var stdout, stderr bytes.Buffer
	clientFn := func() *Client { return NewClient(srv.URL + "/") }
	outputFn := func() *Output { return NewOutputTo(jsonMode, &stdout, &stderr) }

	root := &cobra.Command{Use: "prreview", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(NewReviewCmd(clientFn, outputFn), NewTaskCmd(clientFn, outputFn))
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestReviewSubmit(t *testing.T) {
	api := &fakeAPI{t: t}
	stdout, _, err := run(t, api, true, "review", "submit", "https://github.com/octo/repo", "42", "--force", "--token", "ghp_x")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(stdout, taskID) {
		t.Errorf("stdout = %q, want task id", stdout)
	}

	var sent SubmitReviewRequest
	if err := json.Unmarshal([]byte(api.bodies[0]), &sent); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if sent.PRNumber != 42 || !sent.Force || sent.GitHubToken != "ghp_x" {
		t.Errorf("request = %+v", sent)
	}
}

func TestReviewSubmit_Wait(t *testing.T) {
	api := &fakeAPI{t: t}
	stdout, _, err := run(t, api, false, "review", "submit", "octo/repo", "7", "--wait", "--interval", "10ms")
	if err != nil {
		t.Fatalf("submit --wait: %v", err)
	}
	if api.polls < 2 {
		t.Errorf("polls = %d, want at least 2", api.polls)
	}
	for _, want := range []string{"Adds retries", "nil deref", "main.go", "12"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("report output missing %q:\n%s", want, stdout)
		}
	}
}

func TestReviewSubmit_BadNumber(t *testing.T) {
	_, _, err := run(t, &fakeAPI{t: t}, false, "review", "submit", "octo/repo", "zero")
	if err == nil || !strings.Contains(err.Error(), "invalid pull request number") {
		t.Errorf("err = %v", err)
	}
}

func TestReviewBatch(t *testing.T) {
	api := &fakeAPI{t: t}
	stdout, stderr, err := run(t, api, false, "review", "batch", "octo/repo#1", "octo/repo#404")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	var sent []SubmitReviewRequest
	if err := json.Unmarshal([]byte(api.bodies[0]), &sent); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if len(sent) != 2 || sent[1].PRNumber != 404 || sent[1].RepoURL != "octo/repo" {
		t.Errorf("request = %+v", sent)
	}
	if !strings.Contains(stdout, "FETCH_ERROR(not_found)") {
		t.Errorf("stdout missing item error:\n%s", stdout)
	}
	if !strings.Contains(stderr, "1 succeeded, 1 failed") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestParseBatchItem(t *testing.T) {
	tests := []struct {
		in      string
		repo    string
		number  int
		wantErr bool
	}{
		{"octo/repo#12", "octo/repo", 12, false},
		{"https://github.com/octo/repo#3", "https://github.com/octo/repo", 3, false},
		{"octo/repo", "", 0, true},
		{"octo/repo#", "", 0, true},
		{"#5", "", 0, true},
		{"octo/repo#-1", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			repo, number, err := parseBatchItem(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if repo != tt.repo || number != tt.number {
				t.Errorf("got (%q, %d), want (%q, %d)", repo, number, tt.repo, tt.number)
			}
		})
	}
}

func TestTaskShow_JSON(t *testing.T) {
	stdout, _, err := run(t, &fakeAPI{t: t}, true, "task", "show", taskID)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var task TaskResponse
	if err := json.Unmarshal([]byte(stdout), &task); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, stdout)
	}
	if task.TaskID != taskID || task.Status != "RUNNING" {
		t.Errorf("task = %+v", task)
	}
}

func TestTaskResult(t *testing.T) {
	_, stderr, err := run(t, &fakeAPI{t: t}, false, "task", "result", "pending")
	if err != nil || !strings.Contains(stderr, "not ready") {
		t.Errorf("pending: err = %v stderr = %q", err, stderr)
	}

	_, _, err = run(t, &fakeAPI{t: t}, false, "task", "result", "failed")
	if err == nil || !strings.Contains(err.Error(), "FETCH_ERROR(not_found)") {
		t.Errorf("failed: err = %v", err)
	}

	_, _, err = run(t, &fakeAPI{t: t}, false, "task", "result", "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "NOT_FOUND" {
		t.Errorf("missing: err = %v", err)
	}
}

func TestTaskCancel(t *testing.T) {
	_, stderr, err := run(t, &fakeAPI{t: t}, false, "task", "cancel", taskID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !strings.Contains(stderr, "FAILED") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestClient_WaitTaskHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"task_id":"x","status":"RUNNING","result_ready":false}}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	task, err := NewClient(srv.URL).WaitTask(ctx, "x", 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if task == nil || task.Status != "RUNNING" {
		t.Errorf("task = %+v", task)
	}
}
