// Package stage runs a single pipeline stage with bounded retries and an
// optional fallback artifact.
//
// Each attempt receives the feedback produced by the previous failed
// attempt. Attempts that fail with a *Error carry feedback forward; any
// other error is retried without feedback. Every attempt, including the
// fallback substitution, is reported to the Observer.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/observability"
)

// DefaultDelay is the pause between attempts when Runner.Delay is zero.
const DefaultDelay = time.Second

// ErrRetryExhausted matches every *RetryExhaustedError via errors.Is.
var ErrRetryExhausted = errors.New("stage retries exhausted")

// Input is passed to each attempt.
type Input struct {
	// Attempt is the 1-based attempt number.
	Attempt int

	// Feedback from the previous failed attempt, empty on the first one.
	Feedback string
}

// Error is an attempt failure that carries feedback for the next attempt.
type Error struct {
	Feedback string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "attempt rejected: " + e.Feedback
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Reject builds an attempt failure whose message doubles as feedback.
func Reject(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Feedback: msg, Err: errors.New(msg)}
}

// RetryExhaustedError is returned when a stage without fallback fails every attempt.
type RetryExhaustedError struct {
	Stage    api.Stage
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// Is makes errors.Is(err, ErrRetryExhausted) hold.
func (e *RetryExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }

// Observer is notified after every attempt. Errors it returns are logged
// and otherwise ignored.
type Observer interface {
	ObserveAttempt(ctx context.Context, attempt api.StageAttempt) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, attempt api.StageAttempt) error

func (f ObserverFunc) ObserveAttempt(ctx context.Context, a api.StageAttempt) error {
	return f(ctx, a)
}

// Runner holds what every stage shares: the retry delay and the observer.
type Runner struct {
	// Delay between attempts. Zero means DefaultDelay; negative means none.
	Delay time.Duration

	// Observer receives every attempt. Optional.
	Observer Observer

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Spec describes one stage.
type Spec[T any] struct {
	Name        api.Stage
	MaxAttempts int
	Attempt     func(ctx context.Context, in Input) (T, error)

	// Fallback, when set, turns exhaustion into a substitute artifact.
	Fallback func(last error) T
}

// Run executes spec with the runner's retry policy.
func Run[T any](ctx context.Context, r Runner, spec Spec[T]) (T, error) {
	var zero T
	maxAttempts := max(spec.MaxAttempts, 1)
	logger := r.logger().With("stage", spec.Name)

	var (
		feedback string
		lastErr  error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx); err != nil {
				return zero, err
			}
		}

		start := time.Now()
		out, err := spec.Attempt(ctx, Input{Attempt: attempt, Feedback: feedback})
		observability.StageDuration.WithLabelValues(string(spec.Name)).Observe(time.Since(start).Seconds())

		if err == nil {
			r.observe(ctx, logger, api.StageAttempt{Stage: spec.Name, Attempt: attempt, Outcome: api.OutcomeSuccess})
			return out, nil
		}

		lastErr = err
		feedback = ""
		var se *Error
		if errors.As(err, &se) {
			feedback = se.Feedback
		}

		logger.Warn("stage attempt failed", "attempt", attempt, "max_attempts", maxAttempts, "error", err)
		r.observe(ctx, logger, api.StageAttempt{
			Stage:    spec.Name,
			Attempt:  attempt,
			Outcome:  api.OutcomeFailure,
			Feedback: feedback,
			Error:    err.Error(),
		})

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}

	if spec.Fallback != nil {
		logger.Warn("stage exhausted, using fallback", "attempts", maxAttempts, "error", lastErr)
		r.observe(ctx, logger, api.StageAttempt{
			Stage:   spec.Name,
			Attempt: maxAttempts,
			Outcome: api.OutcomeFallback,
			Error:   lastErr.Error(),
		})
		return spec.Fallback(lastErr), nil
	}

	return zero, &RetryExhaustedError{Stage: spec.Name, Attempts: maxAttempts, Last: lastErr}
}

func (r Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r Runner) sleep(ctx context.Context) error {
	d := r.Delay
	if d == 0 {
		d = DefaultDelay
	}
	if d < 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r Runner) observe(ctx context.Context, logger *slog.Logger, a api.StageAttempt) {
	observability.StageAttemptsTotal.WithLabelValues(string(a.Stage), string(a.Outcome)).Inc()
	if r.Observer == nil {
		return
	}
	if err := r.Observer.ObserveAttempt(ctx, a); err != nil {
		observability.ObserverFailuresTotal.WithLabelValues(string(a.Stage)).Inc()
		logger.Error("stage checkpoint failed", "attempt", a.Attempt, "outcome", a.Outcome, "error", err)
	}
}
