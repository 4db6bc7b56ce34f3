package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/canonical"
	"github.com/rhuss/probforge/pkg/generator"
	"github.com/rhuss/probforge/pkg/selector"
	"github.com/rhuss/probforge/pkg/stage"
	"github.com/rhuss/probforge/pkg/validator"
)

// ask submits a prompt and decodes the answer. Malformed output becomes
// stage feedback so the next attempt knows what went wrong.
func ask[T any](ctx context.Context, gw generator.Gateway, p generator.Prompt) (T, error) {
	v, err := generator.Generate[T](ctx, gw, p)
	var me *generator.MalformedOutputError
	if errors.As(err, &me) {
		return v, &stage.Error{
			Feedback: "the answer was not valid JSON matching the requested schema",
			Err:      err,
		}
	}
	return v, err
}

func (r *run) intent(ctx context.Context) error {
	intent, err := stage.Run(ctx, r.runner(), stage.Spec[api.Intent]{
		Name:        api.StageIntent,
		MaxAttempts: r.o.cfg.maxAttempts(api.StageIntent),
		Attempt: func(ctx context.Context, in stage.Input) (api.Intent, error) {
			p := buildPrompt(generator.TaskIntent, systemIntent, schemaIntent, map[string]any{
				"prompt":     r.job.Prompt,
				"difficulty": r.job.Difficulty,
				"language":   r.job.Language,
			}, in.Feedback)
			intent, err := ask[api.Intent](ctx, r.o.gen, p)
			if err != nil {
				return intent, err
			}
			return intent, checkIntent(&intent)
		},
	})
	if err != nil {
		return err
	}
	r.save(ctx, api.JobPatch{Intent: &intent})
	return nil
}

func checkIntent(in *api.Intent) error {
	in.Summary = strings.TrimSpace(in.Summary)
	in.FunctionName = strings.TrimSpace(in.FunctionName)
	if in.FunctionName == "" {
		in.FunctionName = validator.DefaultEntryPoint
	}
	if in.Summary == "" {
		return stage.Reject("summary must not be empty")
	}
	if !validator.ValidIdentifier(in.FunctionName) {
		return stage.Reject("function_name %q is not a valid identifier", in.FunctionName)
	}
	seen := make(map[string]bool, len(in.Parameters))
	for _, p := range in.Parameters {
		if !validator.ValidIdentifier(p.Name) {
			return stage.Reject("parameter name %q is not a valid identifier", p.Name)
		}
		if seen[p.Name] {
			return stage.Reject("parameter %q is declared twice", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

type testDesignAnswer struct {
	TestCases []api.TestSpec `json:"test_cases"`
}

func (r *run) testDesign(ctx context.Context) error {
	minTests := r.o.cfg.minTests()
	specs, err := stage.Run(ctx, r.runner(), stage.Spec[[]api.TestSpec]{
		Name:        api.StageTestDesign,
		MaxAttempts: r.o.cfg.maxAttempts(api.StageTestDesign),
		Attempt: func(ctx context.Context, in stage.Input) ([]api.TestSpec, error) {
			p := buildPrompt(generator.TaskTestDesign, systemTestDesign, schemaTestDesign, map[string]any{
				"intent":     r.job.Intent,
				"difficulty": r.job.Difficulty,
				"min_tests":  minTests,
			}, in.Feedback)
			answer, err := ask[testDesignAnswer](ctx, r.o.gen, p)
			if err != nil {
				return nil, err
			}
			return answer.TestCases, checkTestSpecs(answer.TestCases, r.job.Intent.Parameters, minTests)
		},
	})
	if err != nil {
		return err
	}
	r.save(ctx, api.JobPatch{TestSpecs: &specs})
	return nil
}

func checkTestSpecs(specs []api.TestSpec, params []api.Parameter, minTests int) error {
	if len(specs) < minTests {
		return stage.Reject("expected at least %d test cases, got %d", minTests, len(specs))
	}
	for i, s := range specs {
		if s.Input == nil {
			return stage.Reject("test case %d: input must be a JSON object of named arguments", i+1)
		}
		for _, p := range params {
			if _, ok := s.Input[p.Name]; !ok {
				return stage.Reject("test case %d: input is missing argument %q", i+1, p.Name)
			}
		}
	}
	return nil
}

type solutionAnswer struct {
	Code        string `json:"code"`
	Explanation string `json:"explanation"`
}

type validatedSolution struct {
	code   string
	report validator.Report
}

// solution runs the generate/validate loop under one attempt budget.
func (r *run) solution(ctx context.Context) error {
	intent := r.job.Intent
	specs := r.job.TestSpecs
	entry := validator.WithEntryPoint(intent.FunctionName, paramNames(intent.Parameters)...)

	out, err := stage.Run(ctx, r.runner(), stage.Spec[validatedSolution]{
		Name:        api.StageSolutionGen,
		MaxAttempts: r.o.cfg.maxAttempts(api.StageSolutionGen),
		Attempt: func(ctx context.Context, in stage.Input) (validatedSolution, error) {
			p := buildPrompt(generator.TaskSolution, systemSolution, schemaSolution, map[string]any{
				"intent":     intent,
				"language":   r.job.Language,
				"test_cases": specs,
			}, in.Feedback)
			answer, err := ask[solutionAnswer](ctx, r.o.gen, p)
			if err != nil {
				return validatedSolution{}, err
			}
			if strings.TrimSpace(answer.Code) == "" {
				return validatedSolution{}, stage.Reject("code must not be empty")
			}

			r.enter(ctx, api.StageExecutionValidate, in.Attempt, fmt.Sprintf("running %d test cases", len(specs)))
			report := r.o.val.ExecuteSolutionWithTestCases(ctx, answer.Code, specs, r.job.Language, entry)
			r.observeTimes(report)
			if !report.Success {
				return validatedSolution{}, &stage.Error{
					Feedback: report.Feedback,
					Err:      fmt.Errorf("solution failed %d of %d test cases", len(report.Errors), len(specs)),
				}
			}
			return validatedSolution{code: answer.Code, report: report}, nil
		},
	})
	if err != nil {
		return err
	}

	r.report = out.report
	results := canonicalResults(out.report.TestResults)
	r.save(ctx, api.JobPatch{
		Solution:         &api.Solution{Language: r.job.Language, Code: out.code},
		ExecutionResults: &results,
	})
	return nil
}

func (r *run) observeTimes(report validator.Report) {
	for _, tr := range report.TestResults {
		r.slowestMs = max(r.slowestMs, tr.ExecutionTimeMs)
	}
}

func paramNames(params []api.Parameter) []string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return names
}

// canonicalResults returns results with canonical expected outputs so they
// can be encoded as JSON.
func canonicalResults(in []api.TestResult) []api.TestResult {
	out := make([]api.TestResult, len(in))
	for i, tr := range in {
		tr.ExpectedOutput = canonical.Canonicalize(tr.ExpectedOutput)
		out[i] = tr
	}
	return out
}

type finalizedCases struct {
	cases    []api.FinalizedTestCase
	verified bool
}

// testFinalize re-executes the validated solution and keeps the cases whose
// canonical output is reproducible.
func (r *run) testFinalize(ctx context.Context) error {
	intent := r.job.Intent
	specs := r.job.TestSpecs
	first := resultsByIndex(r.report, len(specs))

	out, _ := stage.Run(ctx, r.runner(), stage.Spec[finalizedCases]{
		Name:        api.StageTestFinalize,
		MaxAttempts: r.o.cfg.maxAttempts(api.StageTestFinalize),
		Attempt: func(ctx context.Context, in stage.Input) (finalizedCases, error) {
			rerun := r.o.val.ExecuteSolutionWithTestCases(ctx, r.job.Solution.Code, specs, r.job.Language,
				validator.WithEntryPoint(intent.FunctionName, paramNames(intent.Parameters)...))
			r.observeTimes(rerun)
			second := resultsByIndex(rerun, len(specs))

			var cases []api.FinalizedTestCase
			seen := make(map[string]bool, len(specs))
			for i := range specs {
				a, okA := first[i]
				b, okB := second[i]
				if !okA || !okB {
					continue
				}
				want := canonical.Canonicalize(a.ExpectedOutput)
				if !reflect.DeepEqual(want, canonical.Canonicalize(b.ExpectedOutput)) {
					r.logger.Warn("dropping non-deterministic test case", "index", i)
					continue
				}
				key := inputKey(a.Input)
				if seen[key] {
					continue
				}
				seen[key] = true
				cases = append(cases, api.FinalizedTestCase{Input: a.Input, ExpectedOutput: want, Rationale: a.Rationale})
			}
			if len(cases) == 0 {
				return finalizedCases{}, stage.Reject("no test case reproduced its output")
			}
			return finalizedCases{cases: cases, verified: true}, nil
		},
		Fallback: func(error) finalizedCases {
			return finalizedCases{cases: fallbackCases(r.report.TestResults)}
		},
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(out.cases) == 0 {
		return errors.New("no test cases could be finalized")
	}
	if n := ensureCanonical(out.cases); n > 0 {
		r.logger.Warn("canonicalized expected outputs before save", "cases", n)
	}

	r.save(ctx, api.JobPatch{
		TestCases:         &out.cases,
		TestCasesVerified: api.Ptr(out.verified),
	})
	return nil
}

// ensureCanonical rewrites expected outputs that are not canonical in place
// and returns how many it rewrote.
func ensureCanonical(cases []api.FinalizedTestCase) int {
	n := 0
	for i := range cases {
		if !canonical.IsCanonical(cases[i].ExpectedOutput) {
			cases[i].ExpectedOutput = canonical.Canonicalize(cases[i].ExpectedOutput)
			n++
		}
	}
	return n
}

// resultsByIndex maps a report's passing results back to spec indices.
// TestResults holds passing cases in spec order, so the i-th result belongs
// to the i-th index not listed in Errors.
func resultsByIndex(report validator.Report, n int) map[int]api.TestResult {
	failed := make(map[int]bool, len(report.Errors))
	for _, e := range report.Errors {
		failed[e.TestCaseIndex] = true
	}
	out := make(map[int]api.TestResult, len(report.TestResults))
	next := 0
	for i := 0; i < n && next < len(report.TestResults); i++ {
		if failed[i] {
			continue
		}
		out[i] = report.TestResults[next]
		next++
	}
	return out
}

func inputKey(input map[string]any) string {
	data, err := json.Marshal(canonical.Canonicalize(input))
	if err != nil {
		return fmt.Sprint(input)
	}
	return string(data)
}

func (r *run) constraints(ctx context.Context) error {
	c, err := stage.Run(ctx, r.runner(), stage.Spec[api.Constraints]{
		Name:        api.StageConstraints,
		MaxAttempts: r.o.cfg.maxAttempts(api.StageConstraints),
		Attempt: func(ctx context.Context, in stage.Input) (api.Constraints, error) {
			p := buildPrompt(generator.TaskConstraints, systemConstraints, schemaConstraints, map[string]any{
				"intent":             r.job.Intent,
				"difficulty":         r.job.Difficulty,
				"test_cases":         r.job.TestCases,
				"slowest_run_millis": r.slowestMs,
			}, in.Feedback)
			c, err := ask[api.Constraints](ctx, r.o.gen, p)
			if err != nil {
				return c, err
			}
			return c, r.checkConstraints(&c)
		},
	})
	if err != nil {
		return err
	}
	r.save(ctx, api.JobPatch{Constraints: &c})
	return nil
}

func (r *run) checkConstraints(c *api.Constraints) error {
	if c.JudgeType == "" {
		c.JudgeType = api.JudgeExact
	}
	if !c.JudgeType.Valid() {
		return stage.Reject("judge_type must be one of exact, tolerance, unordered, got %q", c.JudgeType)
	}
	if c.JudgeType == api.JudgeTolerance {
		if c.Epsilon == nil || !(*c.Epsilon > 0) || math.IsInf(*c.Epsilon, 0) {
			return stage.Reject("judge_type tolerance requires a positive epsilon")
		}
	} else {
		c.Epsilon = nil
	}
	if c.MemoryLimitMB <= 0 {
		c.MemoryLimitMB = r.o.cfg.memoryLimitMB()
	}
	c.TimeLimitSeconds = timeLimitFloor(c.TimeLimitSeconds, r.slowestMs)
	if c.InputConstraints == nil {
		c.InputConstraints = []string{}
	}
	return nil
}

// timeLimitFloor raises limit to at least twice the slowest run, rounded up
// to whole seconds, and never below one second.
func timeLimitFloor(limit int, slowestMs int64) int {
	floor := int((2*slowestMs + 999) / 1000)
	return max(limit, floor, 1)
}

type starterCodeAnswer struct {
	StarterCode map[string]string `json:"starter_code"`
}

func (r *run) starterCode(ctx context.Context) error {
	intent := r.job.Intent
	langs := r.o.cfg.starterLanguages(r.job.Language)

	stubs, _ := stage.Run(ctx, r.runner(), stage.Spec[map[string]string]{
		Name:        api.StageStarterCode,
		MaxAttempts: r.o.cfg.maxAttempts(api.StageStarterCode),
		Attempt: func(ctx context.Context, in stage.Input) (map[string]string, error) {
			p := buildPrompt(generator.TaskStarterCode, systemStarterCode, schemaStarterCode, map[string]any{
				"intent":    intent,
				"languages": langs,
			}, in.Feedback)
			answer, err := ask[starterCodeAnswer](ctx, r.o.gen, p)
			if err != nil {
				return nil, err
			}
			return answer.StarterCode, checkStarterCode(answer.StarterCode, langs, intent.FunctionName)
		},
		Fallback: func(error) map[string]string {
			return templateStarterCode(intent, langs)
		},
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	r.save(ctx, api.JobPatch{StarterCode: &stubs})
	return nil
}

func checkStarterCode(stubs map[string]string, langs []string, fn string) error {
	for _, l := range langs {
		code := stubs[l]
		if strings.TrimSpace(code) == "" {
			return stage.Reject("missing starter code for %s", l)
		}
		if !strings.Contains(code, fn) {
			return stage.Reject("starter code for %s does not declare %s", l, fn)
		}
	}
	return nil
}

func (r *run) semanticValidate(ctx context.Context) error {
	report, _ := stage.Run(ctx, r.runner(), stage.Spec[api.SemanticReport]{
		Name:        api.StageSemanticValidate,
		MaxAttempts: r.o.cfg.maxAttempts(api.StageSemanticValidate),
		Attempt: func(ctx context.Context, in stage.Input) (api.SemanticReport, error) {
			p := buildPrompt(generator.TaskSemanticReview, systemSemanticReview, schemaSemanticReview, map[string]any{
				"prompt":      r.job.Prompt,
				"intent":      r.job.Intent,
				"test_cases":  r.job.TestCases,
				"constraints": r.job.Constraints,
			}, in.Feedback)
			return ask[api.SemanticReport](ctx, r.o.gen, p)
		},
		Fallback: func(error) api.SemanticReport {
			return fallbackSemanticReport()
		},
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	if !report.Passed {
		r.logger.Warn("semantic review reported issues", "issues", len(report.Issues))
	}
	r.save(ctx, api.JobPatch{Semantic: &report})
	return nil
}

type descriptionAnswer struct {
	Description string `json:"description"`
}

func (r *run) description(ctx context.Context) error {
	examples := selector.SelectExamples(r.job.TestCases, r.o.cfg.maxExamples(), selector.FlagsFromSchema(r.job.Intent.InputSchema))

	desc, err := stage.Run(ctx, r.runner(), stage.Spec[string]{
		Name:        api.StageDescription,
		MaxAttempts: r.o.cfg.maxAttempts(api.StageDescription),
		Attempt: func(ctx context.Context, in stage.Input) (string, error) {
			p := buildPrompt(generator.TaskDescription, systemDescription, schemaDescription, map[string]any{
				"prompt":      r.job.Prompt,
				"intent":      r.job.Intent,
				"difficulty":  r.job.Difficulty,
				"examples":    examples,
				"constraints": r.job.Constraints,
				"judge_type":  r.job.Constraints.JudgeType,
			}, in.Feedback)
			answer, err := ask[descriptionAnswer](ctx, r.o.gen, p)
			if err != nil {
				return "", err
			}
			d := strings.TrimSpace(answer.Description)
			if d == "" {
				return "", stage.Reject("description must not be empty")
			}
			return d, nil
		},
	})
	if err != nil {
		return err
	}
	r.save(ctx, api.JobPatch{Description: &desc, Examples: &examples})
	return nil
}

type titleAnswer struct {
	Title string `json:"title"`
}

func (r *run) title(ctx context.Context) error {
	title, _ := stage.Run(ctx, r.runner(), stage.Spec[string]{
		Name:        api.StageTitle,
		MaxAttempts: r.o.cfg.maxAttempts(api.StageTitle),
		Attempt: func(ctx context.Context, in stage.Input) (string, error) {
			p := buildPrompt(generator.TaskTitle, systemTitle, schemaTitle, map[string]any{
				"summary":     r.job.Intent.Summary,
				"description": r.job.Description,
			}, in.Feedback)
			answer, err := ask[titleAnswer](ctx, r.o.gen, p)
			if err != nil {
				return "", err
			}
			t := strings.TrimSpace(answer.Title)
			switch {
			case t == "":
				return "", stage.Reject("title must not be empty")
			case utf8.RuneCountInString(t) > MaxTitleLength:
				return "", stage.Reject("title must be at most %d characters", MaxTitleLength)
			}
			return t, nil
		},
		Fallback: func(error) string {
			return fallbackTitle(r.job.Difficulty, r.job.Intent.ProblemType)
		},
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	r.save(ctx, api.JobPatch{Title: &title})
	return nil
}

type translateAnswer struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (r *run) translate(ctx context.Context) error {
	if len(r.job.TargetLanguages) == 0 {
		return nil
	}
	translations := make([]api.Translation, 0, len(r.job.TargetLanguages))
	for _, lang := range r.job.TargetLanguages {
		t, _ := stage.Run(ctx, r.runner(), stage.Spec[api.Translation]{
			Name:        api.StageTranslate,
			MaxAttempts: r.o.cfg.maxAttempts(api.StageTranslate),
			Attempt: func(ctx context.Context, in stage.Input) (api.Translation, error) {
				p := buildPrompt(generator.TaskTranslate, systemTranslate, schemaTranslate, map[string]any{
					"target_language": lang,
					"title":           r.job.Title,
					"description":     r.job.Description,
				}, in.Feedback)
				answer, err := ask[translateAnswer](ctx, r.o.gen, p)
				if err != nil {
					return api.Translation{}, err
				}
				tr := api.Translation{
					Language:    lang,
					Title:       strings.TrimSpace(answer.Title),
					Description: strings.TrimSpace(answer.Description),
				}
				if tr.Title == "" || tr.Description == "" {
					return tr, stage.Reject("translation must include both title and description")
				}
				return tr, nil
			},
			Fallback: func(error) api.Translation {
				return api.Translation{Language: lang, Title: r.job.Title, Description: r.job.Description}
			},
		})
		if err := ctx.Err(); err != nil {
			return err
		}
		translations = append(translations, t)
		r.save(ctx, api.JobPatch{Translations: &translations})
	}
	return nil
}
