// Package generator defines the text-generation capability the pipeline
// depends on: submit a prompt with an expected JSON schema and receive a
// tagged result that is either a parsed value, raw text needing repair, or
// an error.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rhuss/probforge/pkg/debug"
)

// Task identifies what a prompt asks for. It labels metrics and lets test
// backends route requests.
type Task string

const (
	TaskIntent         Task = "intent"
	TaskTestDesign     Task = "test_design"
	TaskSolution       Task = "solution"
	TaskConstraints    Task = "constraints"
	TaskStarterCode    Task = "starter_code"
	TaskSemanticReview Task = "semantic_review"
	TaskDescription    Task = "description"
	TaskTitle          Task = "title"
	TaskTranslate      Task = "translate"
)

// Prompt is a single structured generation request.
type Prompt struct {
	Task   Task
	System string
	User   string

	// Schema is the JSON schema the answer must satisfy. Optional.
	Schema json.RawMessage

	// Temperature overrides the backend default when set.
	Temperature *float64
}

// Kind tags a Result.
type Kind int

const (
	// KindOK means Value holds syntactically valid JSON.
	KindOK Kind = iota

	// KindNeedsRepair means Raw holds text that did not parse as JSON.
	KindNeedsRepair

	// KindErr means the call itself failed.
	KindErr
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNeedsRepair:
		return "needs_repair"
	default:
		return "error"
	}
}

// Result is the tagged outcome of Generate.
type Result struct {
	Kind  Kind
	Value json.RawMessage
	Raw   string
	Err   error
}

// OK wraps a valid JSON value.
func OK(v json.RawMessage) Result { return Result{Kind: KindOK, Value: v} }

// NeedsRepair wraps text that must be repaired before parsing.
func NeedsRepair(raw string) Result { return Result{Kind: KindNeedsRepair, Raw: raw} }

// Failed wraps a call failure.
func Failed(err error) Result { return Result{Kind: KindErr, Err: err} }

// Classify turns raw model text into an OK or NeedsRepair result.
func Classify(text string) Result {
	if json.Valid([]byte(text)) {
		return OK(json.RawMessage(text))
	}
	return NeedsRepair(text)
}

// Gateway is the text-generation capability.
type Gateway interface {
	Generate(ctx context.Context, p Prompt) Result
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, p Prompt) Result

func (f GatewayFunc) Generate(ctx context.Context, p Prompt) Result { return f(ctx, p) }

// MalformedOutputError reports model output that could not be parsed even
// after repair.
type MalformedOutputError struct {
	Raw string
	Err error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed generator output: %v (raw: %s)", e.Err, debug.Truncate(e.Raw, 120))
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// ErrEmptyOutput is returned when the backend produced no content.
var ErrEmptyOutput = errors.New("generator returned empty output")

// Decode unmarshals a Result into T. NeedsRepair results are repaired once
// and reparsed; anything that still fails becomes a *MalformedOutputError.
func Decode[T any](r Result) (T, error) {
	var v T
	switch r.Kind {
	case KindErr:
		if r.Err == nil {
			return v, errors.New("generator failed without error detail")
		}
		return v, r.Err
	case KindOK:
		if err := json.Unmarshal(r.Value, &v); err != nil {
			return v, &MalformedOutputError{Raw: string(r.Value), Err: err}
		}
		return v, nil
	default:
		repaired := Repair(r.Raw)
		debug.Log("generator", "repairing output", "raw_bytes", len(r.Raw), "repaired_bytes", len(repaired))
		if err := json.Unmarshal([]byte(repaired), &v); err != nil {
			return v, &MalformedOutputError{Raw: r.Raw, Err: err}
		}
		return v, nil
	}
}

// Generate submits p to gw and decodes the answer into T.
func Generate[T any](ctx context.Context, gw Gateway, p Prompt) (T, error) {
	return Decode[T](gw.Generate(ctx, p))
}
