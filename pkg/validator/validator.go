// Package validator proves a candidate solution against designed test
// inputs by running it in the sandbox, and turns failures into textual
// feedback for the next generation attempt.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/debug"
	"github.com/rhuss/probforge/pkg/sandbox"
)

// Executor runs code in the sandbox. *sandbox.Client satisfies it.
type Executor interface {
	Execute(ctx context.Context, code, input string, timeout time.Duration) sandbox.Outcome
}

// Config holds validator settings.
type Config struct {
	// Timeout is the per-test-case execution limit. Default: 10s.
	Timeout time.Duration

	// Concurrency bounds parallel sandbox calls. Default: 1 (sequential).
	Concurrency int

	// MessageLimit caps per-error message length in bytes. Default: 300.
	MessageLimit int
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.Timeout
}

func (c Config) concurrency() int {
	if c.Concurrency <= 0 {
		return 1
	}
	return c.Concurrency
}

func (c Config) messageLimit() int {
	if c.MessageLimit <= 0 {
		return 300
	}
	return c.MessageLimit
}

// ExecutionError describes one failing test case. TestCaseIndex is 0-based.
type ExecutionError struct {
	TestCaseIndex int               `json:"test_case_index"`
	ErrorType     sandbox.ErrorType `json:"error_type"`
	Message       string            `json:"message"`
	Stderr        string            `json:"stderr,omitempty"`
}

// Report is the aggregate outcome of a validation run. Success is true iff
// Errors is empty. TestResults holds one entry per passing case, in spec order.
type Report struct {
	Success     bool             `json:"success"`
	TestResults []api.TestResult `json:"test_results"`
	Errors      []ExecutionError `json:"errors"`
	Feedback    string           `json:"feedback,omitempty"`
}

// Validator runs solutions through the sandbox.
type Validator struct {
	exec Executor
	cfg  Config
}

// New creates a Validator.
func New(exec Executor, cfg Config) *Validator {
	return &Validator{exec: exec, cfg: cfg}
}

// RunOption adjusts a single validation run.
type RunOption func(*EntryPoint)

// WithEntryPoint selects the function the harness calls.
func WithEntryPoint(name string, params ...string) RunOption {
	return func(e *EntryPoint) {
		e.Name = name
		e.Params = params
	}
}

type caseResult struct {
	result *api.TestResult
	err    *ExecutionError
}

// ExecuteSolutionWithTestCases runs code against every spec and aggregates
// the outcomes. A case passes only when the sandbox reports success and the
// output parses into a result value.
func (v *Validator) ExecuteSolutionWithTestCases(ctx context.Context, code string, specs []api.TestSpec, language string, opts ...RunOption) Report {
	var entry EntryPoint
	for _, o := range opts {
		o(&entry)
	}

	results := make([]caseResult, len(specs))

	harness, ok := HarnessFor(language)
	var wrapped string
	var wrapErr error
	if ok {
		wrapped, wrapErr = harness.Wrap(code, entry)
	} else {
		wrapErr = fmt.Errorf("unsupported language %q", language)
	}
	if wrapErr != nil {
		for i := range specs {
			results[i].err = &ExecutionError{TestCaseIndex: i, ErrorType: sandbox.ErrorUnknown, Message: wrapErr.Error()}
		}
		return v.aggregate(results)
	}

	var g errgroup.Group
	g.SetLimit(v.cfg.concurrency())
	for i, spec := range specs {
		g.Go(func() error {
			results[i] = v.runCase(ctx, i, wrapped, spec)
			return nil
		})
	}
	_ = g.Wait()

	report := v.aggregate(results)
	debug.Log("validator", "validation finished",
		"language", language,
		"cases", len(specs),
		"passed", len(report.TestResults),
		"failed", len(report.Errors),
	)
	return report
}

func (v *Validator) runCase(ctx context.Context, i int, wrapped string, spec api.TestSpec) caseResult {
	input, err := json.Marshal(spec.Input)
	if err != nil {
		return caseResult{err: &ExecutionError{TestCaseIndex: i, ErrorType: sandbox.ErrorUnknown, Message: fmt.Sprintf("encode input: %v", err)}}
	}

	out := v.exec.Execute(ctx, wrapped, string(input), v.cfg.timeout())

	if !out.IsSuccessful {
		return caseResult{err: &ExecutionError{
			TestCaseIndex: i,
			ErrorType:     sandbox.GetErrorType(out),
			Message:       debug.Truncate(failureMessage(out), v.cfg.messageLimit()),
			Stderr:        debug.Truncate(out.Stderr, 2000),
		}}
	}

	value, ok := sandbox.ParseExecutionResult(out)
	if !ok {
		return caseResult{err: &ExecutionError{
			TestCaseIndex: i,
			ErrorType:     sandbox.ErrorUnknown,
			Message:       debug.Truncate("solution produced no parsable result; stdout: "+strings.TrimSpace(out.Stdout), v.cfg.messageLimit()),
			Stderr:        debug.Truncate(out.Stderr, 2000),
		}}
	}

	return caseResult{result: &api.TestResult{
		Input:           spec.Input,
		ExpectedOutput:  value,
		Rationale:       spec.Rationale,
		ExecutionTimeMs: out.ExecutionTimeMs,
	}}
}

func (v *Validator) aggregate(results []caseResult) Report {
	report := Report{TestResults: []api.TestResult{}, Errors: []ExecutionError{}}
	for _, r := range results {
		switch {
		case r.err != nil:
			report.Errors = append(report.Errors, *r.err)
		case r.result != nil:
			report.TestResults = append(report.TestResults, *r.result)
		}
	}
	report.Success = len(report.Errors) == 0
	if !report.Success {
		report.Feedback = GenerateFeedbackFromErrors(report.Errors, len(results))
		slog.Debug("solution failed validation", "failed", len(report.Errors), "total", len(results))
	}
	return report
}

// failureMessage picks the most informative line of a failed outcome.
func failureMessage(o sandbox.Outcome) string {
	switch {
	case o.TimedOut && o.Error == "":
		return "execution timed out"
	case o.Error != "":
		return o.Error
	}
	if line := lastLine(o.Stderr); line != "" {
		return line
	}
	return fmt.Sprintf("process exited with code %d", o.ExitCode)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
