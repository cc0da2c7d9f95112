package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ahmethakanbesel/jobbridge/internal/job"
	jobrepo "github.com/ahmethakanbesel/jobbridge/internal/repository/job"
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo := jobrepo.NewRepository(jobrepo.NewStore(filepath.Join(t.TempDir(), "jobs.csv")))
	ts := httptest.NewServer(NewHandler(job.NewService(repo)))
	t.Cleanup(ts.Close)
	return ts
}

func decode[T any](t *testing.T, resp *http.Response) APIResponse[T] {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out APIResponse[T]
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	ts := setupServer(t)
	resp := get(t, ts.URL+"/health")
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestCreateAndGetJob(t *testing.T) {
	ts := setupServer(t)

	resp := post(t, ts.URL+"/api/v1/jobs", `{"reportDate":"2024-06-30","instruments":[{"pk2":"P1","isin":"XS1"}]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	created := decode[job.Job](t, resp)
	if created.Data.ID != 1 || created.Data.Status != job.StatusPending {
		t.Fatalf("unexpected job %+v", created.Data)
	}

	got := decode[job.Job](t, get(t, ts.URL+"/api/v1/jobs/1"))
	if got.Data.Payload != `[{"pk2":"P1","isin":"XS1"}]` {
		t.Errorf("unexpected payload %q", got.Data.Payload)
	}
	if got.Data.AsOf.Format(dateFormat) != "2024-06-30" {
		t.Errorf("unexpected report date %v", got.Data.AsOf)
	}

	list := decode[[]job.Job](t, get(t, ts.URL+"/api/v1/jobs?status=pending"))
	if len(list.Data) != 1 {
		t.Errorf("expected 1 pending job, got %d", len(list.Data))
	}
	list = decode[[]job.Job](t, get(t, ts.URL+"/api/v1/jobs?status=COMPLETED"))
	if len(list.Data) != 0 {
		t.Errorf("expected no completed jobs, got %d", len(list.Data))
	}
}

func TestCreateJob_Errors(t *testing.T) {
	ts := setupServer(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"not json", `{`, http.StatusBadRequest},
		{"missing date", `{"instruments":[]}`, http.StatusBadRequest},
		{"bad date", `{"reportDate":"30/06/2024","instruments":[]}`, http.StatusBadRequest},
		{"missing instruments", `{"reportDate":"2024-06-30"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+"/api/v1/jobs", tt.body)
			_ = resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}

	resp := post(t, ts.URL+"/api/v1/jobs", `{"jobId":7,"reportDate":"2024-06-30","instruments":[]}`)
	_ = resp.Body.Close()
	resp = post(t, ts.URL+"/api/v1/jobs", `{"jobId":7,"reportDate":"2024-06-30","instruments":[]}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for a duplicate id, got %d", resp.StatusCode)
	}
	dup := decode[any](t, resp)
	if dup.Code != "DUPLICATE_JOB_ID" {
		t.Errorf("expected code DUPLICATE_JOB_ID, got %q", dup.Code)
	}
	if dup.RequestID == "" {
		t.Error("expected the request id in the error body")
	}
}

func TestGetJob_Errors(t *testing.T) {
	ts := setupServer(t)

	for path, status := range map[string]int{
		"/api/v1/jobs/abc":           http.StatusBadRequest,
		"/api/v1/jobs/0":             http.StatusBadRequest,
		"/api/v1/jobs/99":            http.StatusNotFound,
		"/api/v1/jobs?status=PAUSED": http.StatusBadRequest,
	} {
		resp := get(t, ts.URL+path)
		_ = resp.Body.Close()
		if resp.StatusCode != status {
			t.Errorf("%s: expected %d, got %d", path, status, resp.StatusCode)
		}
	}
}

func TestRequestID_ClientValueKept(t *testing.T) {
	ts := setupServer(t)
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/jobs/99", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("expected echoed request id, got %q", got)
	}
	body := decode[any](t, resp)
	if body.Code != "NOT_FOUND" || body.RequestID != "abc-123" {
		t.Errorf("unexpected error body %+v", body)
	}
}

func TestServer_ListenServeShutdown(t *testing.T) {
	repo := jobrepo.NewRepository(jobrepo.NewStore(filepath.Join(t.TempDir(), "jobs.csv")))
	srv := New(context.Background(), "127.0.0.1:0", job.NewService(repo))

	addr, err := srv.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	resp := get(t, "http://"+addr.String()+"/health")
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := <-done; !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("expected ErrServerClosed, got %v", err)
	}
}
