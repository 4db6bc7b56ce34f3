package storage

import (
	"context"
	"fmt"

	"github.com/rhuss/probforge/pkg/api"
)

// Store persists generation jobs. Implementations must be safe for
// concurrent use.
type Store interface {
	// Create stores a new job. Returns ErrConflict if the id exists.
	Create(ctx context.Context, job *api.Job) error

	// Update merges the non-nil fields of patch into the stored job
	// (last write wins). An empty patch is a no-op. Returns ErrNotFound for
	// unknown ids and ErrInvalidTransition when the patch tries to leave a
	// terminal status.
	Update(ctx context.Context, id string, patch api.JobPatch) error

	// Get returns a snapshot of the job, scoped to the context owner.
	Get(ctx context.Context, id string) (*api.Job, error)

	// List returns jobs visible to the context owner, newest first.
	List(ctx context.Context, opts ListOptions) (*JobList, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Pagination bounds for List.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListOptions filters and paginates List.
type ListOptions struct {
	// Limit defaults to DefaultListLimit and is capped at MaxListLimit.
	Limit int

	// After is the cursor: the id of the last job of the previous page.
	After string

	// Status filters by job status when set.
	Status api.JobStatus
}

// EffectiveLimit applies the default and the cap.
func (o ListOptions) EffectiveLimit() int {
	switch {
	case o.Limit <= 0:
		return DefaultListLimit
	case o.Limit > MaxListLimit:
		return MaxListLimit
	}
	return o.Limit
}

// JobList is a page of jobs.
type JobList struct {
	Object  string     `json:"object"`
	Data    []*api.Job `json:"data"`
	HasMore bool       `json:"has_more"`
	FirstID string     `json:"first_id,omitempty"`
	LastID  string     `json:"last_id,omitempty"`
}

// NewJobList builds a page from data, filling cursors.
func NewJobList(data []*api.Job, hasMore bool) *JobList {
	l := &JobList{Object: "list", Data: data, HasMore: hasMore}
	if l.Data == nil {
		l.Data = []*api.Job{}
	}
	if len(data) > 0 {
		l.FirstID = data[0].ID
		l.LastID = data[len(data)-1].ID
	}
	return l
}

// CheckTransition validates the status change a patch would make.
func CheckTransition(current api.JobStatus, patch api.JobPatch) error {
	if patch.Status == nil {
		return nil
	}
	if apiErr := api.ValidateJobTransition(current, *patch.Status); apiErr != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTransition, apiErr.Message)
	}
	return nil
}
