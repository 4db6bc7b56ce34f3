package api

import (
	"encoding/json"
	"time"
)

// JobStatus is the terminal state of a generation job.
type JobStatus string

const (
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Stage identifies a step of the generation pipeline.
type Stage string

const (
	StageIntent            Stage = "intent"
	StageTestDesign        Stage = "test_design"
	StageSolutionGen       Stage = "solution_gen"
	StageExecutionValidate Stage = "execution_validate"
	StageTestFinalize      Stage = "test_finalize"
	StageConstraints       Stage = "constraints"
	StageStarterCode       Stage = "starter_code"
	StageSemanticValidate  Stage = "semantic_validate"
	StageDescription       Stage = "description"
	StageTitle             Stage = "title"
	StageTranslate         Stage = "translate"
	StageFinalize          Stage = "finalize"
)

// Stages lists every pipeline stage in execution order.
var Stages = []Stage{
	StageIntent,
	StageTestDesign,
	StageSolutionGen,
	StageExecutionValidate,
	StageTestFinalize,
	StageConstraints,
	StageStarterCode,
	StageSemanticValidate,
	StageDescription,
	StageTitle,
	StageTranslate,
	StageFinalize,
}

// Difficulty is the requested difficulty of the generated problem.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is one of the known difficulties.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// JudgeType selects how a submission's output is compared to the expected output.
type JudgeType string

const (
	// JudgeExact compares canonical JSON byte for byte.
	JudgeExact JudgeType = "exact"

	// JudgeTolerance compares numbers within Epsilon.
	JudgeTolerance JudgeType = "tolerance"

	// JudgeUnordered compares top-level arrays as multisets.
	JudgeUnordered JudgeType = "unordered"
)

// Valid reports whether j is one of the supported judge types.
func (j JudgeType) Valid() bool {
	switch j {
	case JudgeExact, JudgeTolerance, JudgeUnordered:
		return true
	}
	return false
}

// Parameter describes one named argument of the solution function.
type Parameter struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// InputSchema describes the shape of test inputs.
type InputSchema struct {
	Description      string `json:"description,omitempty"`
	AllowsDuplicates bool   `json:"allows_duplicates"`
	AllowsRevisiting bool   `json:"allows_revisiting"`
}

// Intent is the structured interpretation of the user's prompt.
type Intent struct {
	Summary      string      `json:"summary"`
	ProblemType  string      `json:"problem_type"`
	FunctionName string      `json:"function_name"`
	Parameters   []Parameter `json:"parameters"`
	ReturnType   string      `json:"return_type,omitempty"`
	InputSchema  InputSchema `json:"input_schema"`
}

// TestSpec is a designed test input. Input holds the named arguments passed
// to the solution function.
type TestSpec struct {
	Input     map[string]any `json:"input"`
	Rationale string         `json:"rationale"`
}

// TestResult is the raw outcome of running the reference solution on one TestSpec.
type TestResult struct {
	Input           map[string]any `json:"input"`
	ExpectedOutput  any            `json:"expected_output"`
	Rationale       string         `json:"rationale"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
}

// FinalizedTestCase is a test case whose ExpectedOutput is canonical.
type FinalizedTestCase struct {
	Input          map[string]any `json:"input"`
	ExpectedOutput any            `json:"expected_output"`
	Rationale      string         `json:"rationale"`
}

// Constraints are the judging parameters of a problem.
type Constraints struct {
	TimeLimitSeconds int       `json:"time_limit_seconds"`
	MemoryLimitMB    int       `json:"memory_limit_mb"`
	InputConstraints []string  `json:"input_constraints"`
	JudgeType        JudgeType `json:"judge_type"`
	Epsilon          *float64  `json:"epsilon,omitempty"`
}

// Solution is the validated reference implementation.
type Solution struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// SemanticReport is the review verdict on the assembled problem.
type SemanticReport struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues,omitempty"`
}

// Translation is the problem statement rendered in another natural language.
type Translation struct {
	Language    string `json:"language"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Job is one generation request and the artifacts accumulated for it.
type Job struct {
	ID              string        `json:"id"`
	Prompt          string        `json:"prompt"`
	Difficulty      Difficulty    `json:"difficulty"`
	Language        string        `json:"language"`
	TargetLanguages []string      `json:"target_languages,omitempty"`
	Owner           string        `json:"owner,omitempty"`
	Status          JobStatus     `json:"status"`
	Stage           Stage         `json:"stage,omitempty"`
	Attempts        map[Stage]int `json:"attempts,omitempty"`

	Intent            *Intent             `json:"intent,omitempty"`
	TestSpecs         []TestSpec          `json:"test_specs,omitempty"`
	Solution          *Solution           `json:"solution,omitempty"`
	ExecutionResults  []TestResult        `json:"execution_results,omitempty"`
	TestCases         []FinalizedTestCase `json:"test_cases,omitempty"`
	TestCasesVerified bool                `json:"test_cases_verified"`
	Constraints       *Constraints        `json:"constraints,omitempty"`
	StarterCode       map[string]string   `json:"starter_code,omitempty"`
	Semantic          *SemanticReport     `json:"semantic_report,omitempty"`
	Description       string              `json:"description,omitempty"`
	Examples          []FinalizedTestCase `json:"examples,omitempty"`
	Title             string              `json:"title,omitempty"`
	Translations      []Translation       `json:"translations,omitempty"`

	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the job by round-tripping it through JSON.
// Stores hand out clones so callers never share mutable state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		cp := *j
		return &cp
	}
	var out Job
	if err := json.Unmarshal(data, &out); err != nil {
		cp := *j
		return &cp
	}
	return &out
}

// StageOutcome is the result of a single stage attempt.
type StageOutcome string

const (
	OutcomeSuccess  StageOutcome = "success"
	OutcomeFailure  StageOutcome = "failure"
	OutcomeFallback StageOutcome = "fallback"
)

// StageAttempt records one attempt of a pipeline stage.
type StageAttempt struct {
	Stage    Stage        `json:"stage"`
	Attempt  int          `json:"attempt"`
	Outcome  StageOutcome `json:"outcome"`
	Feedback string       `json:"feedback,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// GenerateRequest is the client request that starts a generation job.
type GenerateRequest struct {
	Prompt          string     `json:"prompt"`
	Difficulty      Difficulty `json:"difficulty,omitempty"`
	Language        string     `json:"language,omitempty"`
	TargetLanguages []string   `json:"target_languages,omitempty"`
}
