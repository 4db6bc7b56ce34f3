package api

import "fmt"

// ValidateJobTransition checks whether a job status transition is valid.
// An empty "from" status represents a job that has not been stored yet.
// Terminal states (completed, failed) do not allow outgoing transitions.
func ValidateJobTransition(from, to JobStatus) *APIError {
	valid := map[JobStatus][]JobStatus{
		"":                  {JobStatusInProgress},
		JobStatusInProgress: {JobStatusInProgress, JobStatusCompleted, JobStatusFailed},
	}

	allowed, exists := valid[from]
	if !exists {
		return NewInvalidRequestError("status",
			fmt.Sprintf("invalid transition from %s to %s", from, to))
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return NewInvalidRequestError("status",
		fmt.Sprintf("invalid transition from %s to %s", from, to))
}

// IsTerminal reports whether the status allows no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}
