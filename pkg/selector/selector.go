// Package selector ranks finalized test cases and picks the small subset
// shown as examples in a problem statement.
package selector

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/canonical"
)

// Flags are the input-schema properties that steer the ranking.
type Flags struct {
	AllowsDuplicates bool
	AllowsRevisiting bool
}

// FlagsFromSchema extracts ranking flags from an intent's input schema.
func FlagsFromSchema(s api.InputSchema) Flags {
	return Flags{AllowsDuplicates: s.AllowsDuplicates, AllowsRevisiting: s.AllowsRevisiting}
}

var (
	duplicateKeywords = []string{"duplicate", "repeated", "repeat", "same value", "identical"}
	revisitKeywords   = []string{"cycle", "cyclic", "revisit", "loop", "back edge", "self-loop"}
)

type ranked struct {
	tc        api.FinalizedTestCase
	infinity  bool
	duplicate bool
	revisit   bool
	edge      bool
	size      int
}

// SelectExamples returns at most maxExamples cases, ranked so that the most
// illustrative ones come first. When len(cases) <= maxExamples the input is
// returned unchanged. The argument is never mutated and equal inputs always
// produce equal outputs.
func SelectExamples(cases []api.FinalizedTestCase, maxExamples int, flags Flags) []api.FinalizedTestCase {
	if maxExamples <= 0 {
		return []api.FinalizedTestCase{}
	}
	if len(cases) <= maxExamples {
		return cases
	}

	items := make([]ranked, len(cases))
	anyInfinity := false
	for i, tc := range cases {
		rationale := strings.ToLower(tc.Rationale)
		items[i] = ranked{
			tc:        tc,
			infinity:  canonical.ContainsSentinel(canonical.Canonicalize(tc.ExpectedOutput), canonical.PosInf),
			duplicate: containsAny(rationale, duplicateKeywords),
			revisit:   containsAny(rationale, revisitKeywords),
			edge:      strings.Contains(rationale, "edge"),
			size:      inputSize(tc.Input),
		}
		anyInfinity = anyInfinity || items[i].infinity
	}

	slices.SortStableFunc(items, func(a, b ranked) int {
		if anyInfinity {
			if c := preferTrue(a.infinity, b.infinity); c != 0 {
				return c
			}
		}
		if flags.AllowsDuplicates {
			if c := preferTrue(a.duplicate, b.duplicate); c != 0 {
				return c
			}
		}
		if flags.AllowsRevisiting {
			if c := preferTrue(a.revisit, b.revisit); c != 0 {
				return c
			}
		}
		if c := preferTrue(!a.edge, !b.edge); c != 0 {
			return c
		}
		return a.size - b.size
	})

	out := make([]api.FinalizedTestCase, maxExamples)
	for i := range out {
		out[i] = items[i].tc
	}
	return out
}

// preferTrue orders true before false.
func preferTrue(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// inputSize is the length of the input's JSON encoding. encoding/json sorts
// map keys, so the size is deterministic.
func inputSize(input map[string]any) int {
	data, err := json.Marshal(canonical.Canonicalize(input))
	if err != nil {
		return 0
	}
	return len(data)
}
