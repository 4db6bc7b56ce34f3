package pipeline

import (
	"fmt"
	"strings"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/canonical"
)

// fallbackCases turns first-run results into finalized cases without the
// reproducibility check. Duplicate inputs are dropped.
func fallbackCases(results []api.TestResult) []api.FinalizedTestCase {
	cases := make([]api.FinalizedTestCase, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, tr := range results {
		key := inputKey(tr.Input)
		if seen[key] {
			continue
		}
		seen[key] = true
		cases = append(cases, api.FinalizedTestCase{
			Input:          tr.Input,
			ExpectedOutput: canonical.Canonicalize(tr.ExpectedOutput),
			Rationale:      tr.Rationale,
		})
	}
	return cases
}

func fallbackSemanticReport() api.SemanticReport {
	return api.SemanticReport{Passed: true, Issues: []string{}}
}

// fallbackTitle builds "<Difficulty> <problem type> problem".
func fallbackTitle(d api.Difficulty, problemType string) string {
	kind := strings.TrimSpace(problemType)
	if kind == "" {
		kind = "programming"
	}
	diff := string(d)
	if diff == "" {
		diff = string(api.DifficultyMedium)
	}
	return fmt.Sprintf("%s %s problem", strings.ToUpper(diff[:1])+diff[1:], kind)
}

// templateStarterCode builds a stub per language from the function name and
// parameters. Languages without a template are left out.
func templateStarterCode(intent *api.Intent, langs []string) map[string]string {
	params := paramNames(intent.Parameters)
	stubs := make(map[string]string, len(langs))
	for _, l := range langs {
		switch l {
		case "python":
			stubs[l] = fmt.Sprintf("def %s(%s):\n    pass\n", intent.FunctionName, strings.Join(params, ", "))
		case "javascript":
			stubs[l] = fmt.Sprintf("function %s(%s) {\n  // write your solution here\n}\n", intent.FunctionName, strings.Join(params, ", "))
		}
	}
	return stubs
}
