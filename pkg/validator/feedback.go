package validator

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rhuss/probforge/pkg/sandbox"
)

// maxItemsPerGroup is how many failing cases each feedback group itemizes.
const maxItemsPerGroup = 3

// GenerateFeedbackFromErrors renders errors as regeneration feedback.
// Errors are grouped by classification in taxonomy order; each group lists
// up to three cases by 1-based number with a trimmed message and notes how
// many more were omitted.
func GenerateFeedbackFromErrors(errs []ExecutionError, total int) string {
	if len(errs) == 0 {
		return ""
	}

	groups := make(map[sandbox.ErrorType][]ExecutionError)
	for _, e := range errs {
		groups[e.ErrorType] = append(groups[e.ErrorType], e)
	}

	var extra []sandbox.ErrorType
	for et := range groups {
		if !slices.Contains(sandbox.ErrorTypes, et) {
			extra = append(extra, et)
		}
	}
	slices.Sort(extra)
	order := append(slices.Clone(sandbox.ErrorTypes), extra...)

	var b strings.Builder
	fmt.Fprintf(&b, "The solution failed %d of %d test cases.", len(errs), total)
	for _, et := range order {
		group, ok := groups[et]
		if !ok {
			continue
		}
		items := make([]string, 0, maxItemsPerGroup)
		for _, e := range group[:min(len(group), maxItemsPerGroup)] {
			items = append(items, fmt.Sprintf("test case %d: %s", e.TestCaseIndex+1, oneLine(e.Message)))
		}
		summary := strings.Join(items, "; ")
		if more := len(group) - maxItemsPerGroup; more > 0 {
			summary += fmt.Sprintf(" (+%d more)", more)
		}
		fmt.Fprintf(&b, "\n- %s in %d case(s): %s", et.Label(), len(group), summary)
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
