package api

import (
	"testing"
	"time"
)

func TestJobPatchIsEmpty(t *testing.T) {
	if !(JobPatch{}).IsEmpty() {
		t.Error("zero patch should be empty")
	}
	if (JobPatch{Title: Ptr("")}).IsEmpty() {
		t.Error("patch with empty-string title should not be empty")
	}
	if (JobPatch{Attempts: map[Stage]int{}}).IsEmpty() {
		t.Error("patch with non-nil attempts should not be empty")
	}
}

func TestJobPatchApplyToSkipsNilFields(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	job := &Job{
		ID:          "job_a",
		Status:      JobStatusInProgress,
		Title:       "Two Sum",
		Description: "Find two numbers.",
		Attempts:    map[Stage]int{StageIntent: 1},
		UpdatedAt:   created,
	}

	now := created.Add(time.Minute)
	JobPatch{
		Stage:    Ptr(StageTestDesign),
		Attempts: map[Stage]int{StageTestDesign: 2},
	}.ApplyTo(job, now)

	if job.Stage != StageTestDesign {
		t.Errorf("Stage = %q, want %q", job.Stage, StageTestDesign)
	}
	if job.Title != "Two Sum" {
		t.Errorf("Title = %q, want unchanged", job.Title)
	}
	if job.Description != "Find two numbers." {
		t.Errorf("Description = %q, want unchanged", job.Description)
	}
	if job.Attempts[StageIntent] != 1 || job.Attempts[StageTestDesign] != 2 {
		t.Errorf("Attempts = %v, want merged counters", job.Attempts)
	}
	if !job.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", job.UpdatedAt, now)
	}
}

func TestJobPatchApplyToEmptyIsNoop(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	job := &Job{ID: "job_a", UpdatedAt: created}

	JobPatch{}.ApplyTo(job, created.Add(time.Hour))

	if !job.UpdatedAt.Equal(created) {
		t.Errorf("UpdatedAt = %v, want untouched %v", job.UpdatedAt, created)
	}
}

func TestJobPatchApplyToCanClearSlices(t *testing.T) {
	job := &Job{TestCases: []FinalizedTestCase{{Rationale: "x"}}}
	JobPatch{TestCases: &[]FinalizedTestCase{}}.ApplyTo(job, time.Now())
	if len(job.TestCases) != 0 {
		t.Errorf("TestCases = %v, want cleared", job.TestCases)
	}
}

func TestJobClone(t *testing.T) {
	job := &Job{
		ID:        "job_a",
		Attempts:  map[Stage]int{StageIntent: 1},
		TestSpecs: []TestSpec{{Input: map[string]any{"n": 1.0}, Rationale: "basic"}},
	}
	cp := job.Clone()
	cp.Attempts[StageIntent] = 5
	cp.TestSpecs[0].Input["n"] = 2.0

	if job.Attempts[StageIntent] != 1 {
		t.Error("clone shares Attempts map with original")
	}
	if job.TestSpecs[0].Input["n"] != 1.0 {
		t.Error("clone shares TestSpec input with original")
	}
}
