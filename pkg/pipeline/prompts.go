package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/rhuss/probforge/pkg/generator"
)

// System prompts are short task descriptions; the user prompt carries the
// job context as JSON.
const (
	systemIntent = "You analyse a request for a programming exercise. " +
		"Return the problem summary, its problem type, the name of the function " +
		"a solver must implement, its parameters in call order, and whether " +
		"inputs may contain duplicates or revisit elements."

	systemTestDesign = "You design test inputs for a programming exercise. " +
		"Each test case is a JSON object of named arguments plus a short rationale. " +
		"Cover normal cases, boundaries, and edge cases. Do not include expected outputs."

	systemSolution = "You write the reference solution for a programming exercise. " +
		"Implement exactly the named function with the given parameters. " +
		"Do not read input or print output."

	systemConstraints = "You choose judging parameters for a programming exercise: " +
		"time limit in seconds, memory limit in MB, input constraints, and a judge type " +
		"(exact, tolerance, or unordered). Tolerance requires a positive epsilon."

	systemStarterCode = "You write starter code stubs for a programming exercise, one per " +
		"requested language. Each stub declares the named function with its parameters " +
		"and an empty body."

	systemSemanticReview = "You review an assembled programming exercise for consistency " +
		"between the intent, the test cases, and the constraints. Report whether it passes " +
		"and list concrete issues."

	systemDescription = "You write the problem statement of a programming exercise in " +
		"Markdown. Explain the task, the input and output, and walk through the given examples. " +
		"Mention how answers are judged."

	systemTitle = "You write a short, specific title for a programming exercise."

	systemTranslate = "You translate the title and statement of a programming exercise " +
		"into the requested natural language. Keep code, identifiers, and Markdown intact."
)

var (
	schemaIntent = json.RawMessage(`{
  "type": "object",
  "properties": {
    "summary": {"type": "string"},
    "problem_type": {"type": "string"},
    "function_name": {"type": "string"},
    "parameters": {"type": "array", "items": {"type": "object", "properties": {"name": {"type": "string"}, "type": {"type": "string"}}, "required": ["name"]}},
    "return_type": {"type": "string"},
    "input_schema": {"type": "object", "properties": {"description": {"type": "string"}, "allows_duplicates": {"type": "boolean"}, "allows_revisiting": {"type": "boolean"}}}
  },
  "required": ["summary", "function_name", "parameters"]
}`)

	schemaTestDesign = json.RawMessage(`{
  "type": "object",
  "properties": {
    "test_cases": {"type": "array", "items": {"type": "object", "properties": {"input": {"type": "object"}, "rationale": {"type": "string"}}, "required": ["input", "rationale"]}}
  },
  "required": ["test_cases"]
}`)

	schemaSolution = json.RawMessage(`{
  "type": "object",
  "properties": {"code": {"type": "string"}, "explanation": {"type": "string"}},
  "required": ["code"]
}`)

	schemaConstraints = json.RawMessage(`{
  "type": "object",
  "properties": {
    "time_limit_seconds": {"type": "integer"},
    "memory_limit_mb": {"type": "integer"},
    "input_constraints": {"type": "array", "items": {"type": "string"}},
    "judge_type": {"type": "string", "enum": ["exact", "tolerance", "unordered"]},
    "epsilon": {"type": "number"}
  },
  "required": ["time_limit_seconds", "judge_type"]
}`)

	schemaStarterCode = json.RawMessage(`{
  "type": "object",
  "properties": {"starter_code": {"type": "object", "additionalProperties": {"type": "string"}}},
  "required": ["starter_code"]
}`)

	schemaSemanticReview = json.RawMessage(`{
  "type": "object",
  "properties": {"passed": {"type": "boolean"}, "issues": {"type": "array", "items": {"type": "string"}}},
  "required": ["passed"]
}`)

	schemaDescription = json.RawMessage(`{
  "type": "object",
  "properties": {"description": {"type": "string"}},
  "required": ["description"]
}`)

	schemaTitle = json.RawMessage(`{
  "type": "object",
  "properties": {"title": {"type": "string"}},
  "required": ["title"]
}`)

	schemaTranslate = json.RawMessage(`{
  "type": "object",
  "properties": {"title": {"type": "string"}, "description": {"type": "string"}},
  "required": ["title", "description"]
}`)
)

// buildPrompt renders the job context and the previous attempt's feedback
// into a Prompt.
func buildPrompt(task generator.Task, system string, schema json.RawMessage, context map[string]any, feedback string) generator.Prompt {
	var b strings.Builder
	b.WriteString("Context:\n")
	data, err := json.MarshalIndent(context, "", "  ")
	if err != nil {
		data = []byte("{}")
	}
	b.Write(data)
	if feedback != "" {
		b.WriteString("\n\nYour previous answer was rejected:\n")
		b.WriteString(feedback)
		b.WriteString("\nFix these problems in your new answer.")
	}
	b.WriteString("\n\nAnswer with a single JSON object.")

	return generator.Prompt{
		Task:   task,
		System: system,
		User:   b.String(),
		Schema: schema,
	}
}
