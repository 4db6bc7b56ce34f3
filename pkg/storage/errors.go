package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a job does not exist or belongs to another owner.
	ErrNotFound = errors.New("job not found")

	// ErrConflict is returned when a job with the given ID already exists.
	ErrConflict = errors.New("job already exists")

	// ErrInvalidTransition is returned when a patch would move a job out of a
	// terminal status.
	ErrInvalidTransition = errors.New("invalid job status transition")
)
