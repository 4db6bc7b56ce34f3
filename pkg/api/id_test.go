package api

import (
	"strings"
	"testing"
)

func TestNewJobID(t *testing.T) {
	id := NewJobID()
	if !strings.HasPrefix(id, "job_") {
		t.Errorf("NewJobID() = %q, want job_ prefix", id)
	}
	if !ValidateJobID(id) {
		t.Errorf("ValidateJobID(%q) = false, want true", id)
	}
}

func TestNewJobIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewJobID()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestValidateJobID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"job_3f1c2a8e-4b6d-4d2a-9c1e-7a5b6c8d9e0f", true},
		{"3f1c2a8e-4b6d-4d2a-9c1e-7a5b6c8d9e0f", false},
		{"job_", false},
		{"job_not-a-uuid", false},
		{"resp_3f1c2a8e-4b6d-4d2a-9c1e-7a5b6c8d9e0f", false},
		{"job_{3f1c2a8e-4b6d-4d2a-9c1e-7a5b6c8d9e0f}", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := ValidateJobID(tt.id); got != tt.want {
				t.Errorf("ValidateJobID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}
