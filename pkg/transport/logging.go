package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhuss/probforge/pkg/api"
)

// Logging returns middleware that emits one structured log entry per
// generation job with the request ID, difficulty, language, resulting job
// ID and status, and duration.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next ProblemGenerator) ProblemGenerator {
		return ProblemGeneratorFunc(func(ctx context.Context, req *api.GenerateRequest, w EventWriter) (*api.Job, error) {
			start := time.Now()

			job, err := next.GenerateProblem(ctx, req, w)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("difficulty", string(req.Difficulty)),
				slog.String("language", req.Language),
				slog.Duration("duration", time.Since(start)),
			}
			if job != nil {
				attrs = append(attrs,
					slog.String("job_id", job.ID),
					slog.String("status", string(job.Status)))
			}

			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "generation failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "generation completed", attrs...)
			}
			return job, err
		})
	}
}
