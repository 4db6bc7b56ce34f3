package api

import (
	"strings"

	"github.com/google/uuid"
)

const jobIDPrefix = "job_"

// NewJobID generates a new job ID: "job_" followed by a random UUID.
func NewJobID() string {
	return jobIDPrefix + uuid.NewString()
}

// ValidateJobID checks whether the given string is a well-formed job ID.
func ValidateJobID(id string) bool {
	rest, ok := strings.CutPrefix(id, jobIDPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil && len(rest) == 36
}
