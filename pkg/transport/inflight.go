package transport

import (
	"context"
	"sync"

	"github.com/rhuss/probforge/pkg/api"
)

// InFlightRegistry maps running job IDs to their cancel functions so that a
// DELETE request can stop a job that is still generating.
//
// All methods are safe for concurrent access.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]context.CancelFunc
}

// NewInFlightRegistry creates a new empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{
		entries: make(map[string]context.CancelFunc),
	}
}

// Register adds a running job.
func (r *InFlightRegistry) Register(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = cancel
}

// Cancel calls the job's cancel function and forgets it. It returns false
// if the job is not running (already finished or never existed).
func (r *InFlightRegistry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.entries[id]
	if !ok {
		return false
	}
	cancel()
	delete(r.entries, id)
	return true
}

// Remove forgets a job without cancelling it.
func (r *InFlightRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len returns the number of running jobs.
func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// TrackingWriter registers the job with an InFlightRegistry as soon as the
// first event reveals its ID, and removes it after the terminal event.
type TrackingWriter struct {
	EventWriter
	registry *InFlightRegistry
	cancel   context.CancelFunc

	mu    sync.Mutex
	jobID string
}

// NewTrackingWriter wraps w.
func NewTrackingWriter(w EventWriter, registry *InFlightRegistry, cancel context.CancelFunc) *TrackingWriter {
	return &TrackingWriter{EventWriter: w, registry: registry, cancel: cancel}
}

// WriteEvent implements EventWriter.
func (t *TrackingWriter) WriteEvent(ctx context.Context, event api.ProgressEvent) error {
	t.mu.Lock()
	if t.jobID == "" && event.JobID != "" {
		t.jobID = event.JobID
		t.registry.Register(t.jobID, t.cancel)
	}
	if event.IsTerminal() && t.jobID != "" {
		t.registry.Remove(t.jobID)
	}
	t.mu.Unlock()
	return t.EventWriter.WriteEvent(ctx, event)
}

// JobID returns the tracked job ID, empty before the first event.
func (t *TrackingWriter) JobID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jobID
}
