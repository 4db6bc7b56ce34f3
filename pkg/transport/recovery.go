package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/rhuss/probforge/pkg/api"
)

// Recovery returns middleware that catches panics in the generator and
// converts them to server errors. When the stream is still open, a terminal
// error event is written so the client is not left waiting.
func Recovery() Middleware {
	return func(next ProblemGenerator) ProblemGenerator {
		return ProblemGeneratorFunc(func(ctx context.Context, req *api.GenerateRequest, w EventWriter) (job *api.Job, retErr error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("generator panic", "panic", r, "stack", string(debug.Stack()))
					apiErr := api.NewServerError(fmt.Sprintf("internal server error: %v", r))
					jobID := ""
					if job != nil {
						jobID = job.ID
					}
					_ = w.WriteEvent(context.WithoutCancel(ctx), api.ErrorEvent(jobID, apiErr))
					retErr = apiErr
				}
			}()
			return next.GenerateProblem(ctx, req, w)
		})
	}
}
