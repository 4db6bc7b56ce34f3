package http

import (
	"bufio"
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

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/storage"
	"github.com/rhuss/probforge/pkg/storage/memory"
	"github.com/rhuss/probforge/pkg/transport"
)

// fakeGenerator records a job in the store and reports two stages before
// the result. When block is set it waits for cancellation after the first
// status event.
type fakeGenerator struct {
	store storage.Store
	block bool
	err   *api.APIError

	started chan string
	done    chan struct{}
}

func newFakeGenerator(store storage.Store) *fakeGenerator {
	return &fakeGenerator{store: store, started: make(chan string, 1), done: make(chan struct{})}
}

func (g *fakeGenerator) GenerateProblem(ctx context.Context, req *api.GenerateRequest, w transport.EventWriter) (*api.Job, error) {
	defer close(g.done)

	if g.err != nil {
		w.WriteEvent(ctx, api.ErrorEvent("", g.err))
		return nil, g.err
	}

	now := time.Now()
	job := &api.Job{
		ID:         api.NewJobID(),
		Prompt:     req.Prompt,
		Difficulty: req.Difficulty,
		Language:   req.Language,
		Owner:      storage.GetOwner(ctx),
		Status:     api.JobStatusInProgress,
		Stage:      api.StageIntent,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := g.store.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := w.WriteEvent(ctx, api.StatusEvent(job.ID, api.StageIntent, 1, "intent started")); err != nil {
		return nil, err
	}
	g.started <- job.ID

	if g.block {
		<-ctx.Done()
		ctx = context.WithoutCancel(ctx)
		g.store.Update(ctx, job.ID, api.JobPatch{
			Status: api.Ptr(api.JobStatusFailed),
			Error:  api.Ptr("cancelled"),
		})
		apiErr := api.NewGenerationError(api.StageIntent, "cancelled")
		w.WriteEvent(ctx, api.ErrorEvent(job.ID, apiErr))
		return nil, apiErr
	}

	w.WriteEvent(ctx, api.StatusEvent(job.ID, api.StageTitle, 1, "title started"))
	g.store.Update(ctx, job.ID, api.JobPatch{
		Status: api.Ptr(api.JobStatusCompleted),
		Title:  api.Ptr("Two Sum"),
	})
	job.Status = api.JobStatusCompleted
	job.Title = "Two Sum"
	w.WriteEvent(ctx, api.ResultEvent(job))
	return job, nil
}

// silentGenerator returns without writing a terminal event.
type silentGenerator struct{}

func (silentGenerator) GenerateProblem(context.Context, *api.GenerateRequest, transport.EventWriter) (*api.Job, error) {
	return nil, errors.New("lost")
}

type sseFrame struct {
	event string
	data  string
}

// readFrames parses an SSE body into frames, including the [DONE] marker.
func readFrames(t *testing.T, r io.Reader) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.data != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		}
	}
	return frames
}

func newTestServer(t *testing.T, gen transport.ProblemGenerator, store storage.Store) *httptest.Server {
	t.Helper()
	adapter := NewAdapter(gen, store, DefaultConfig())
	srv := httptest.NewServer(adapter.Handler())
	t.Cleanup(func() {
		srv.Close()
		adapter.Close(context.Background())
	})
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	resp, err := http.Post(srv.URL+"/v1/problems", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, r io.Reader) api.ErrorResponse {
	t.Helper()
	var errResp api.ErrorResponse
	if err := json.NewDecoder(r).Decode(&errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return errResp
}

func TestGenerateStreamsProgress(t *testing.T) {
	store := memory.New(0)
	srv := newTestServer(t, newFakeGenerator(store), store)

	resp := postJSON(t, srv, api.GenerateRequest{Prompt: "add two numbers"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	frames := readFrames(t, resp.Body)
	if len(frames) != 4 {
		t.Fatalf("frames = %d, want 4: %+v", len(frames), frames)
	}
	wantEvents := []string{"status", "status", "result"}
	for i, want := range wantEvents {
		if frames[i].event != want {
			t.Errorf("frame %d event = %q, want %q", i, frames[i].event, want)
		}
	}
	if frames[3].data != "[DONE]" {
		t.Errorf("last frame = %q, want [DONE]", frames[3].data)
	}

	var result api.ProgressEvent
	if err := json.Unmarshal([]byte(frames[2].data), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Job == nil || result.Job.Title != "Two Sum" {
		t.Fatalf("result job = %+v", result.Job)
	}
	if result.Job.Difficulty != api.DifficultyMedium || result.Job.Language != "python" {
		t.Errorf("request defaults not applied: %+v", result.Job)
	}
}

func TestGenerateErrorEventEndsStream(t *testing.T) {
	store := memory.New(0)
	gen := newFakeGenerator(store)
	gen.err = api.NewGenerationError(api.StageSolutionGen, "no passing solution")
	srv := newTestServer(t, gen, store)

	resp := postJSON(t, srv, api.GenerateRequest{Prompt: "add two numbers"})
	defer resp.Body.Close()

	frames := readFrames(t, resp.Body)
	if len(frames) != 2 || frames[0].event != "error" || frames[1].data != "[DONE]" {
		t.Fatalf("frames = %+v", frames)
	}
	var ev api.ProgressEvent
	json.Unmarshal([]byte(frames[0].data), &ev)
	if ev.Error == nil || ev.Error.Type != api.ErrorTypeGenerationError {
		t.Errorf("error = %+v", ev.Error)
	}
}

func TestGenerateWithoutTerminalEventGetsServerError(t *testing.T) {
	store := memory.New(0)
	srv := newTestServer(t, silentGenerator{}, store)

	resp := postJSON(t, srv, api.GenerateRequest{Prompt: "add two numbers"})
	defer resp.Body.Close()

	frames := readFrames(t, resp.Body)
	if len(frames) != 2 || frames[0].event != "error" {
		t.Fatalf("frames = %+v", frames)
	}
	var ev api.ProgressEvent
	json.Unmarshal([]byte(frames[0].data), &ev)
	if ev.Error == nil || ev.Error.Type != api.ErrorTypeServerError {
		t.Errorf("error = %+v", ev.Error)
	}
}

func TestGenerateValidationReturns400(t *testing.T) {
	tests := []struct {
		name  string
		req   api.GenerateRequest
		param string
	}{
		{"empty prompt", api.GenerateRequest{Prompt: "   "}, "prompt"},
		{"bad difficulty", api.GenerateRequest{Prompt: "x", Difficulty: "extreme"}, "difficulty"},
		{"bad language", api.GenerateRequest{Prompt: "x", Language: "cobol"}, "language"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New(0)
			srv := newTestServer(t, newFakeGenerator(store), store)

			resp := postJSON(t, srv, tt.req)
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
			}
			errResp := decodeError(t, resp.Body)
			if errResp.Error.Type != api.ErrorTypeInvalidRequest {
				t.Errorf("error type = %q, want %q", errResp.Error.Type, api.ErrorTypeInvalidRequest)
			}
			if errResp.Error.Param != tt.param {
				t.Errorf("param = %q, want %q", errResp.Error.Param, tt.param)
			}
		})
	}
}

func TestInvalidJSONBodyReturns400(t *testing.T) {
	store := memory.New(0)
	srv := newTestServer(t, newFakeGenerator(store), store)

	resp, err := http.Post(srv.URL+"/v1/problems", "application/json", strings.NewReader("{invalid"))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if errResp := decodeError(t, resp.Body); errResp.Error.Type != api.ErrorTypeInvalidRequest {
		t.Errorf("error type = %q, want %q", errResp.Error.Type, api.ErrorTypeInvalidRequest)
	}
}

func TestOversizedBodyReturns413(t *testing.T) {
	store := memory.New(0)
	cfg := DefaultConfig()
	cfg.MaxBodySize = 10
	adapter := NewAdapter(newFakeGenerator(store), store, cfg)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/problems", "application/json",
		strings.NewReader(`{"prompt":"add two numbers please"}`))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusRequestEntityTooLarge)
	}
}

func TestWrongContentTypeReturns415(t *testing.T) {
	store := memory.New(0)
	srv := newTestServer(t, newFakeGenerator(store), store)

	resp, err := http.Post(srv.URL+"/v1/problems", "text/plain", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnsupportedMediaType)
	}
}

func TestGenerateAfterCloseReturns503(t *testing.T) {
	store := memory.New(0)
	adapter := NewAdapter(newFakeGenerator(store), store, DefaultConfig())
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	if err := adapter.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	resp := postJSON(t, srv, api.GenerateRequest{Prompt: "add two numbers"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestGetJob(t *testing.T) {
	store := memory.New(0)
	srv := newTestServer(t, newFakeGenerator(store), store)

	job := &api.Job{ID: api.NewJobID(), Prompt: "p", Status: api.JobStatusCompleted, Title: "Two Sum"}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp, err := http.Get(srv.URL + "/v1/problems/" + job.ID)
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var got api.Job
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.ID != job.ID || got.Title != "Two Sum" {
		t.Errorf("job = %+v", got)
	}
}

func TestGetJobErrors(t *testing.T) {
	store := memory.New(0)
	srv := newTestServer(t, newFakeGenerator(store), store)

	tests := []struct {
		name       string
		id         string
		wantStatus int
		wantType   api.ErrorType
	}{
		{"malformed id", "resp_123", http.StatusBadRequest, api.ErrorTypeInvalidRequest},
		{"unknown id", api.NewJobID(), http.StatusNotFound, api.ErrorTypeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/v1/problems/" + tt.id)
			if err != nil {
				t.Fatalf("GET error: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if errResp := decodeError(t, resp.Body); errResp.Error.Type != tt.wantType {
				t.Errorf("error type = %q, want %q", errResp.Error.Type, tt.wantType)
			}
		})
	}
}

func TestGetJobScopedToOwner(t *testing.T) {
	store := memory.New(0)
	adapter := NewAdapter(newFakeGenerator(store), store, DefaultConfig())

	job := &api.Job{ID: api.NewJobID(), Owner: "alice", Status: api.JobStatusCompleted}
	store.Create(context.Background(), job)

	req := httptest.NewRequest(http.MethodGet, "/v1/problems/"+job.ID, nil)
	req = req.WithContext(storage.SetOwner(req.Context(), "bob"))
	rec := httptest.NewRecorder()
	adapter.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestListJobs(t *testing.T) {
	store := memory.New(0)
	srv := newTestServer(t, newFakeGenerator(store), store)

	base := time.Now()
	for i, status := range []api.JobStatus{api.JobStatusCompleted, api.JobStatusFailed, api.JobStatusCompleted} {
		store.Create(context.Background(), &api.Job{
			ID:        api.NewJobID(),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	resp, err := http.Get(srv.URL + "/v1/problems?status=completed&limit=1")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var list storage.JobList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 1 || !list.HasMore {
		t.Errorf("list = %+v", list)
	}
	if len(list.Data) == 1 && list.Data[0].Status != api.JobStatusCompleted {
		t.Errorf("status = %q, want completed", list.Data[0].Status)
	}
}

func TestListJobsBadQuery(t *testing.T) {
	store := memory.New(0)
	srv := newTestServer(t, newFakeGenerator(store), store)

	for _, q := range []string{"limit=0", "limit=abc", "status=running", "after=nope"} {
		t.Run(q, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/v1/problems?" + q)
			if err != nil {
				t.Fatalf("GET error: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
			}
		})
	}
}

func TestCancelRunningJob(t *testing.T) {
	store := memory.New(0)
	gen := newFakeGenerator(store)
	gen.block = true
	srv := newTestServer(t, gen, store)

	resp := postJSON(t, srv, api.GenerateRequest{Prompt: "add two numbers"})
	defer resp.Body.Close()

	var id string
	select {
	case id = <-gen.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not start")
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/problems/"+id, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", delResp.StatusCode, http.StatusNoContent)
	}

	frames := readFrames(t, resp.Body)
	if len(frames) != 3 || frames[1].event != "error" {
		t.Fatalf("frames = %+v", frames)
	}

	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != api.JobStatusFailed {
		t.Errorf("status = %q, want failed", job.Status)
	}

	// The job is finished now.
	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/v1/problems/"+id, nil)
	again, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error: %v", err)
	}
	again.Body.Close()
	if again.StatusCode != http.StatusConflict {
		t.Errorf("second cancel status = %d, want %d", again.StatusCode, http.StatusConflict)
	}
}

func TestCancelUnknownJobReturns404(t *testing.T) {
	store := memory.New(0)
	srv := newTestServer(t, newFakeGenerator(store), store)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/problems/"+api.NewJobID(), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestClientDisconnectDetachesJob(t *testing.T) {
	store := memory.New(0)
	gen := newFakeGenerator(store)
	gen.block = true
	adapter := NewAdapter(gen, store, DefaultConfig())
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/v1/problems",
		strings.NewReader(`{"prompt":"add two numbers"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}

	id := <-gen.started
	cancel()
	resp.Body.Close()

	// The job survives the disconnect until the adapter shuts down.
	select {
	case <-gen.done:
		t.Fatal("job stopped when the client disconnected")
	case <-time.After(100 * time.Millisecond):
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := adapter.Close(closeCtx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != api.JobStatusFailed {
		t.Errorf("status = %q, want failed", job.Status)
	}
}

func TestRequestIDHeader(t *testing.T) {
	store := memory.New(0)
	srv := newTestServer(t, newFakeGenerator(store), store)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/problems/"+api.NewJobID(), nil)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "req-123")
	}
}

type unhealthyStore struct{ storage.Store }

func (unhealthyStore) HealthCheck(context.Context) error { return errors.New("db down") }

func TestHealthEndpoints(t *testing.T) {
	store := memory.New(0)
	healthy := newTestServer(t, newFakeGenerator(store), store)
	broken := newTestServer(t, newFakeGenerator(store), unhealthyStore{store})

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"healthz", healthy.URL + "/healthz", http.StatusOK},
		{"readyz", healthy.URL + "/readyz", http.StatusOK},
		{"healthz with broken store", broken.URL + "/healthz", http.StatusOK},
		{"readyz with broken store", broken.URL + "/readyz", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(tt.url)
			if err != nil {
				t.Fatalf("GET error: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestReadyzConsultsReadinessChecks(t *testing.T) {
	store := memory.New(0)
	a := NewAdapter(newFakeGenerator(store), store, DefaultConfig())
	t.Cleanup(func() { a.Close(context.Background()) })

	var backendErr error
	a.AddReadinessCheck("generator", func(context.Context) error { return backendErr })

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthy backend: status = %d, want %d", rec.Code, http.StatusOK)
	}

	backendErr = errors.New("connection refused")
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("broken backend: status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if e := decodeError(t, rec.Body); !strings.Contains(e.Error.Message, "generator unavailable") {
		t.Errorf("message = %q, want it to name the generator", e.Error.Message)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	store := memory.New(0)
	srv := newTestServer(t, newFakeGenerator(store), store)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/v1/problems", strings.NewReader("{}"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}
