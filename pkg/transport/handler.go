package transport

import (
	"context"

	"github.com/rhuss/probforge/pkg/api"
)

// ProblemGenerator runs one generation job. The implementation writes
// status events while it works and finishes with exactly one result or
// error event. It returns the final job snapshot and the fatal error, if any.
type ProblemGenerator interface {
	GenerateProblem(ctx context.Context, req *api.GenerateRequest, w EventWriter) (*api.Job, error)
}

// ProblemGeneratorFunc is an adapter that allows using an ordinary function
// as a ProblemGenerator.
type ProblemGeneratorFunc func(ctx context.Context, req *api.GenerateRequest, w EventWriter) (*api.Job, error)

// GenerateProblem calls f(ctx, req, w).
func (f ProblemGeneratorFunc) GenerateProblem(ctx context.Context, req *api.GenerateRequest, w EventWriter) (*api.Job, error) {
	return f(ctx, req, w)
}

// EventWriter receives progress events for one job.
//
// WriteEvent returns ErrStreamClosed once a terminal event (result or
// error) has been written. Writers must not block the pipeline
// indefinitely when nobody is reading.
type EventWriter interface {
	WriteEvent(ctx context.Context, event api.ProgressEvent) error
}

// DiscardWriter drops every event. Terminal events still close it.
type DiscardWriter struct{ closed bool }

// WriteEvent implements EventWriter.
func (d *DiscardWriter) WriteEvent(_ context.Context, event api.ProgressEvent) error {
	if d.closed {
		return ErrStreamClosed
	}
	d.closed = event.IsTerminal()
	return nil
}
