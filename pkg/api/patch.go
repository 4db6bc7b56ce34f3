package api

import "time"

// JobPatch is a typed partial update of a Job. A nil field is left
// untouched; a patch whose fields are all nil is a no-op.
type JobPatch struct {
	Status            *JobStatus
	Stage             *Stage
	Attempts          map[Stage]int
	Intent            *Intent
	TestSpecs         *[]TestSpec
	Solution          *Solution
	ExecutionResults  *[]TestResult
	TestCases         *[]FinalizedTestCase
	TestCasesVerified *bool
	Constraints       *Constraints
	StarterCode       *map[string]string
	Semantic          *SemanticReport
	Description       *string
	Examples          *[]FinalizedTestCase
	Title             *string
	Translations      *[]Translation
	Error             *string
}

// IsEmpty reports whether the patch carries no field to update.
func (p JobPatch) IsEmpty() bool {
	return p.Status == nil &&
		p.Stage == nil &&
		p.Attempts == nil &&
		p.Intent == nil &&
		p.TestSpecs == nil &&
		p.Solution == nil &&
		p.ExecutionResults == nil &&
		p.TestCases == nil &&
		p.TestCasesVerified == nil &&
		p.Constraints == nil &&
		p.StarterCode == nil &&
		p.Semantic == nil &&
		p.Description == nil &&
		p.Examples == nil &&
		p.Title == nil &&
		p.Translations == nil &&
		p.Error == nil
}

// ApplyTo merges the non-nil fields of p into job and bumps UpdatedAt.
// Attempts counters are merged key by key.
func (p JobPatch) ApplyTo(job *Job, now time.Time) {
	if p.IsEmpty() {
		return
	}
	if p.Status != nil {
		job.Status = *p.Status
	}
	if p.Stage != nil {
		job.Stage = *p.Stage
	}
	if p.Attempts != nil {
		if job.Attempts == nil {
			job.Attempts = make(map[Stage]int, len(p.Attempts))
		}
		for s, n := range p.Attempts {
			job.Attempts[s] = n
		}
	}
	if p.Intent != nil {
		job.Intent = p.Intent
	}
	if p.TestSpecs != nil {
		job.TestSpecs = *p.TestSpecs
	}
	if p.Solution != nil {
		job.Solution = p.Solution
	}
	if p.ExecutionResults != nil {
		job.ExecutionResults = *p.ExecutionResults
	}
	if p.TestCases != nil {
		job.TestCases = *p.TestCases
	}
	if p.TestCasesVerified != nil {
		job.TestCasesVerified = *p.TestCasesVerified
	}
	if p.Constraints != nil {
		job.Constraints = p.Constraints
	}
	if p.StarterCode != nil {
		job.StarterCode = *p.StarterCode
	}
	if p.Semantic != nil {
		job.Semantic = p.Semantic
	}
	if p.Description != nil {
		job.Description = *p.Description
	}
	if p.Examples != nil {
		job.Examples = *p.Examples
	}
	if p.Title != nil {
		job.Title = *p.Title
	}
	if p.Translations != nil {
		job.Translations = *p.Translations
	}
	if p.Error != nil {
		job.Error = *p.Error
	}
	job.UpdatedAt = now
}

// Ptr returns a pointer to v. It keeps patch literals short.
func Ptr[T any](v T) *T {
	return &v
}
