// Package pipeline turns a prompt into an execution-verified programming
// problem. The Orchestrator runs the stages in order, retries each through
// stage.Run, checkpoints every attempt to the store, and streams progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/debug"
	"github.com/rhuss/probforge/pkg/generator"
	"github.com/rhuss/probforge/pkg/observability"
	"github.com/rhuss/probforge/pkg/stage"
	"github.com/rhuss/probforge/pkg/storage"
	"github.com/rhuss/probforge/pkg/transport"
	"github.com/rhuss/probforge/pkg/validator"
)

// Validator proves a solution against test inputs. *validator.Validator
// satisfies it.
type Validator interface {
	ExecuteSolutionWithTestCases(ctx context.Context, code string, specs []api.TestSpec, language string, opts ...validator.RunOption) validator.Report
}

// Orchestrator runs generation jobs. It implements transport.ProblemGenerator.
type Orchestrator struct {
	gen    generator.Gateway
	val    Validator
	store  storage.Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

var _ transport.ProblemGenerator = (*Orchestrator)(nil)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. All collaborators are required.
func New(gen generator.Gateway, val Validator, store storage.Store, cfg Config, opts ...Option) (*Orchestrator, error) {
	switch {
	case gen == nil:
		return nil, errors.New("pipeline: generator must not be nil")
	case val == nil:
		return nil, errors.New("pipeline: validator must not be nil")
	case store == nil:
		return nil, errors.New("pipeline: store must not be nil")
	}
	o := &Orchestrator{
		gen:    gen,
		val:    val,
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// GenerateProblem runs one job to completion. It always writes exactly one
// terminal event to w: the result with the finished job, or an error.
func (o *Orchestrator) GenerateProblem(ctx context.Context, req *api.GenerateRequest, w transport.EventWriter) (*api.Job, error) {
	api.NormalizeRequest(req)
	if apiErr := api.ValidateRequest(req, o.cfg.validation()); apiErr != nil {
		_ = w.WriteEvent(ctx, api.ErrorEvent("", apiErr))
		return nil, apiErr
	}

	now := o.now()
	job := &api.Job{
		ID:              api.NewJobID(),
		Prompt:          req.Prompt,
		Difficulty:      req.Difficulty,
		Language:        req.Language,
		TargetLanguages: req.TargetLanguages,
		Owner:           storage.GetOwner(ctx),
		Status:          api.JobStatusInProgress,
		Stage:           api.StageIntent,
		Attempts:        map[api.Stage]int{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.store.Create(ctx, job); err != nil {
		apiErr := api.NewServerError(fmt.Sprintf("create job: %v", err))
		_ = w.WriteEvent(ctx, api.ErrorEvent(job.ID, apiErr))
		return nil, fmt.Errorf("create job: %w", err)
	}

	observability.JobsInFlight.Inc()
	defer observability.JobsInFlight.Dec()

	r := &run{
		o:      o,
		job:    job,
		w:      w,
		logger: o.logger.With("job_id", job.ID),
	}
	r.logger.Info("generation started", "difficulty", job.Difficulty, "language", job.Language)

	if err := r.execute(ctx); err != nil {
		r.fail(ctx, err)
		observability.JobsTotal.WithLabelValues(string(api.JobStatusFailed)).Inc()
		return r.job.Clone(), err
	}

	observability.JobsTotal.WithLabelValues(string(api.JobStatusCompleted)).Inc()
	return r.job.Clone(), nil
}

// run is the state of one job while it executes.
type run struct {
	o      *Orchestrator
	job    *api.Job
	w      transport.EventWriter
	logger *slog.Logger

	// report of the validated solution, kept unpersisted because raw
	// outputs may hold non-finite numbers.
	report validator.Report

	// slowestMs is the slowest execution observed across validation runs.
	slowestMs int64
}

func (r *run) runner() stage.Runner {
	return stage.Runner{
		Delay:    r.o.cfg.RetryDelay,
		Observer: r,
		Logger:   r.logger,
	}
}

// execute runs every stage in order and stops at the first fatal failure.
func (r *run) execute(ctx context.Context) error {
	steps := []func(context.Context) error{
		r.intent,
		r.testDesign,
		r.solution,
		r.testFinalize,
		r.constraints,
		r.starterCode,
		r.semanticValidate,
		r.description,
		r.title,
		r.translate,
		r.finalize,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ObserveAttempt checkpoints the attempt counter and emits a status event.
func (r *run) ObserveAttempt(ctx context.Context, a api.StageAttempt) error {
	storeErr := r.checkpoint(ctx, api.JobPatch{
		Stage:    api.Ptr(a.Stage),
		Attempts: map[api.Stage]int{a.Stage: a.Attempt},
	})
	emitErr := r.emit(ctx, api.StatusEvent(r.job.ID, a.Stage, a.Attempt, attemptMessage(a)))
	return errors.Join(storeErr, emitErr)
}

func attemptMessage(a api.StageAttempt) string {
	switch a.Outcome {
	case api.OutcomeSuccess:
		return fmt.Sprintf("%s succeeded", a.Stage)
	case api.OutcomeFallback:
		return fmt.Sprintf("%s exhausted, using fallback", a.Stage)
	default:
		return fmt.Sprintf("%s attempt %d failed: %s", a.Stage, a.Attempt, debug.Truncate(a.Error, 200))
	}
}

// enter marks the start of a sub-step that is not driven by stage.Run.
func (r *run) enter(ctx context.Context, s api.Stage, attempt int, msg string) {
	if err := r.checkpoint(ctx, api.JobPatch{
		Stage:    api.Ptr(s),
		Attempts: map[api.Stage]int{s: attempt},
	}); err != nil {
		r.logger.Warn("checkpoint failed", "stage", s, "error", err)
	}
	if err := r.emit(ctx, api.StatusEvent(r.job.ID, s, attempt, msg)); err != nil {
		r.logger.Warn("status event dropped", "stage", s, "error", err)
	}
}

// checkpoint applies p to the in-memory job and persists it.
func (r *run) checkpoint(ctx context.Context, p api.JobPatch) error {
	p.ApplyTo(r.job, r.o.now())
	if err := r.o.store.Update(ctx, r.job.ID, p); err != nil {
		return fmt.Errorf("checkpoint job %s: %w", r.job.ID, err)
	}
	return nil
}

// save persists an artifact patch. Failures are logged, the job continues
// from the in-memory state.
func (r *run) save(ctx context.Context, p api.JobPatch) {
	if err := r.checkpoint(ctx, p); err != nil {
		observability.ObserverFailuresTotal.WithLabelValues(string(r.job.Stage)).Inc()
		r.logger.Error("artifact checkpoint failed", "stage", r.job.Stage, "error", err)
	}
}

func (r *run) emit(ctx context.Context, e api.ProgressEvent) error {
	return r.w.WriteEvent(ctx, e)
}

// finalize marks the job completed and emits the result. Once every stage
// has passed, a late cancellation must not swallow the result event.
func (r *run) finalize(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	r.save(ctx, api.JobPatch{
		Status: api.Ptr(api.JobStatusCompleted),
		Stage:  api.Ptr(api.StageFinalize),
	})
	r.logger.Info("generation completed", "test_cases", len(r.job.TestCases), "verified", r.job.TestCasesVerified)
	if err := r.emit(ctx, api.ResultEvent(r.job.Clone())); err != nil {
		r.logger.Warn("result event dropped", "error", err)
	}
	return nil
}

// fail persists the failed status and emits the terminal error event. It
// runs detached from ctx so a cancelled job is still recorded.
func (r *run) fail(ctx context.Context, err error) {
	ctx = context.WithoutCancel(ctx)
	failedAt := r.job.Stage
	msg := truncateMessage(err.Error(), r.o.cfg.errorMessageLimit())

	r.logger.Error("generation failed", "stage", failedAt, "error", err)
	r.save(ctx, api.JobPatch{
		Status: api.Ptr(api.JobStatusFailed),
		Error:  api.Ptr(msg),
	})
	if emitErr := r.emit(ctx, api.ErrorEvent(r.job.ID, api.NewGenerationError(failedAt, msg))); emitErr != nil {
		r.logger.Warn("error event dropped", "error", emitErr)
	}
}

// truncateMessage cuts s to at most limit bytes, marker included.
func truncateMessage(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	if limit <= 3 {
		return debug.Truncate(s, 0)[:limit]
	}
	return debug.Truncate(s, limit-3)
}
