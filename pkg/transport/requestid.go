package transport

import (
	"context"

	"github.com/google/uuid"

	"github.com/rhuss/probforge/pkg/api"
)

// RequestID returns middleware that assigns a unique request ID to each
// request. An ID already present in the context (set by the HTTP adapter
// from the X-Request-ID header) is kept.
func RequestID() Middleware {
	return func(next ProblemGenerator) ProblemGenerator {
		return ProblemGeneratorFunc(func(ctx context.Context, req *api.GenerateRequest, w EventWriter) (*api.Job, error) {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, uuid.NewString())
			}
			return next.GenerateProblem(ctx, req, w)
		})
	}
}
