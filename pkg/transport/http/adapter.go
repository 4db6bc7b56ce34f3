package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"sync"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/debug"
	"github.com/rhuss/probforge/pkg/observability"
	"github.com/rhuss/probforge/pkg/storage"
	"github.com/rhuss/probforge/pkg/transport"
)

// Adapter serves the problem generation API over HTTP. Generation requests
// stream progress as SSE; jobs run detached from the request so a client
// disconnect does not abort them. Jobs stop when the adapter is closed or
// when cancelled with DELETE.
type Adapter struct {
	gen      transport.ProblemGenerator
	store    storage.Store
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config
	logger   *slog.Logger

	base     context.Context
	stopJobs context.CancelFunc
	jobs     sync.WaitGroup

	// readiness checks beyond the store, e.g. the generator backend.
	checks []readinessCheck
}

type readinessCheck struct {
	name  string
	check func(context.Context) error
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64

	// EventBuffer is the per-job progress channel capacity.
	EventBuffer int

	// Validation limits applied before a stream is opened.
	Validation api.ValidationConfig
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 1 << 20, // 1 MB
		EventBuffer: transport.DefaultEmitterBuffer,
		Validation:  api.DefaultValidationConfig(),
	}
}

// NewAdapter creates an HTTP adapter. Middleware is applied to the
// generator in the given order.
func NewAdapter(gen transport.ProblemGenerator, store storage.Store, cfg Config, middlewares ...transport.Middleware) *Adapter {
	if len(middlewares) > 0 {
		gen = transport.Chain(middlewares...)(gen)
	}

	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}

	base, stop := context.WithCancel(context.Background())
	a := &Adapter{
		gen:      gen,
		store:    store,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
		logger:   slog.Default(),
		base:     base,
		stopJobs: stop,
	}

	a.mux.HandleFunc("POST /v1/problems", a.handleGenerate)
	a.mux.HandleFunc("GET /v1/problems", a.handleList)
	a.mux.HandleFunc("GET /v1/problems/{id}", a.handleGet)
	a.mux.HandleFunc("DELETE /v1/problems/{id}", a.handleCancel)
	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)

	return a
}

// AddReadinessCheck makes /readyz also depend on check.
func (a *Adapter) AddReadinessCheck(name string, check func(context.Context) error) {
	a.checks = append(a.checks, readinessCheck{name: name, check: check})
}

// Handle mounts an additional handler on the adapter's mux, e.g. /metrics.
func (a *Adapter) Handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// Handler returns the http.Handler for this adapter. It includes HTTP-level
// middleware for request ID propagation.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(a.mux)
}

// Close cancels running jobs and waits for them to record their final
// state, or until ctx is done.
func (a *Adapter) Close(ctx context.Context) error {
	a.stopJobs()
	done := make(chan struct{})
	go func() {
		a.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// httpRequestIDMiddleware propagates the X-Request-ID header into the
// context and echoes the effective ID on the response.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Request-ID"); id != "" {
			r = r.WithContext(transport.ContextWithRequestID(r.Context(), id))
		}
		rw := &requestIDResponseWriter{ResponseWriter: w, r: r}
		next.ServeHTTP(rw, r)
	})
}

// requestIDResponseWriter injects the X-Request-ID header before the first write.
type requestIDResponseWriter struct {
	http.ResponseWriter
	r           *http.Request
	headersSent bool
}

func (w *requestIDResponseWriter) WriteHeader(statusCode int) {
	w.ensureRequestIDHeader()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *requestIDResponseWriter) Write(b []byte) (int, error) {
	w.ensureRequestIDHeader()
	return w.ResponseWriter.Write(b)
}

func (w *requestIDResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.NewResponseController.
func (w *requestIDResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *requestIDResponseWriter) ensureRequestIDHeader() {
	if w.headersSent {
		return
	}
	w.headersSent = true
	if id := transport.RequestIDFromContext(w.r.Context()); id != "" {
		w.ResponseWriter.Header().Set("X-Request-ID", id)
	}
}

// handleGenerate handles POST /v1/problems.
func (a *Adapter) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
				http.StatusUnsupportedMediaType,
			)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	var req api.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return
		}
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return
	}

	api.NormalizeRequest(&req)
	if apiErr := api.ValidateRequest(&req, a.config.Validation); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	if err := a.base.Err(); err != nil {
		transport.WriteErrorResponse(w, api.NewServerError("server is shutting down"), http.StatusServiceUnavailable)
		return
	}

	// The job keeps the request's values (request ID, owner) but not its
	// cancellation. Closing the adapter or DELETE stops it.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	stop := context.AfterFunc(a.base, cancel)

	emitter := transport.NewChannelEmitter(a.config.EventBuffer)
	tracker := transport.NewTrackingWriter(emitter, a.inflight, cancel)

	a.jobs.Add(1)
	go func() {
		defer a.jobs.Done()
		defer stop()
		defer cancel()
		a.runJob(jobCtx, &req, tracker, emitter)
	}()

	a.stream(w, r, emitter)
}

// runJob executes one job and makes sure the stream is terminated even when
// the generator returns without a terminal event.
func (a *Adapter) runJob(ctx context.Context, req *api.GenerateRequest, tw *transport.TrackingWriter, emitter *transport.ChannelEmitter) {
	_, err := a.gen.GenerateProblem(ctx, req, tw)
	if emitter.Closed() {
		return
	}
	apiErr := transport.AsAPIError(err)
	if apiErr == nil {
		apiErr = api.NewServerError("generation ended without a result")
	}
	_ = tw.WriteEvent(context.WithoutCancel(ctx), api.ErrorEvent(tw.JobID(), apiErr))
}

// stream forwards events to the client until the terminal event or until
// the client goes away. In the latter case the emitter is detached and the
// job continues without a reader.
func (a *Adapter) stream(w http.ResponseWriter, r *http.Request, emitter *transport.ChannelEmitter) {
	observability.StreamingConnections.Inc()
	defer observability.StreamingConnections.Dec()

	sse := newSSEWriter(w)
	events := emitter.Events()
	for {
		select {
		case <-r.Context().Done():
			emitter.Detach()
			debug.Log("transport", "client disconnected, job continues detached")
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := sse.writeEvent(event); err != nil {
				emitter.Detach()
				a.logger.Warn("progress stream write failed", "error", err)
				return
			}
		}
	}
}

// handleGet handles GET /v1/problems/{id}.
func (a *Adapter) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateJobID(id) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("id", "malformed job ID"),
			http.StatusBadRequest,
		)
		return
	}

	job, err := a.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleList handles GET /v1/problems.
func (a *Adapter) handleList(w http.ResponseWriter, r *http.Request) {
	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		transport.WriteErrorResponse(w, apiErr, http.StatusBadRequest)
		return
	}

	list, err := a.store.List(r.Context(), opts)
	if err != nil {
		transport.WriteAPIError(w, transport.AsAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleCancel handles DELETE /v1/problems/{id}. Only running jobs the
// caller can see are cancellable; jobs are never deleted.
func (a *Adapter) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateJobID(id) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("id", "malformed job ID"),
			http.StatusBadRequest,
		)
		return
	}

	job, err := a.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, id, err)
		return
	}

	if a.inflight.Cancel(id) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	transport.WriteErrorResponse(w,
		api.NewInvalidRequestError("id", fmt.Sprintf("job %s is not running (status %s)", id, job.Status)),
		http.StatusConflict,
	)
}

func (a *Adapter) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (a *Adapter) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := a.store.HealthCheck(r.Context()); err != nil {
		transport.WriteErrorResponse(w, api.NewServerError("store unavailable: "+err.Error()), http.StatusServiceUnavailable)
		return
	}
	for _, c := range a.checks {
		if err := c.check(r.Context()); err != nil {
			transport.WriteErrorResponse(w, api.NewServerError(c.name+" unavailable: "+err.Error()), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}

// parseListOptions extracts pagination parameters from the query string.
func parseListOptions(r *http.Request) (storage.ListOptions, *api.APIError) {
	q := r.URL.Query()
	opts := storage.ListOptions{After: q.Get("after")}

	if opts.After != "" && !api.ValidateJobID(opts.After) {
		return opts, api.NewInvalidRequestError("after", "malformed job ID")
	}

	if s := q.Get("status"); s != "" {
		status := api.JobStatus(s)
		switch status {
		case api.JobStatusInProgress, api.JobStatusCompleted, api.JobStatusFailed:
			opts.Status = status
		default:
			return opts, api.NewInvalidRequestError("status", "status must be in_progress, completed, or failed")
		}
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return opts, api.NewInvalidRequestError("limit", "limit must be a positive integer")
		}
		opts.Limit = limit
	}
	return opts, nil
}

func writeStoreError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		transport.WriteAPIError(w, api.NewNotFoundError("job "+id+" not found"))
		return
	}
	transport.WriteAPIError(w, transport.AsAPIError(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
