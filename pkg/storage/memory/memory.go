// Package memory provides an in-memory implementation of storage.Store for
// testing and lightweight deployments. Jobs are stored in memory and lost
// when the process restarts. Optional LRU eviction limits memory usage.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/storage"
)

// entry holds a stored job and its position in the LRU list.
type entry struct {
	job     *api.Job
	lruElem *list.Element
}

// Store is an in-memory job store with optional LRU eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
	now     func() time.Time
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the least recently used finished job is
// evicted when the limit is reached; running jobs are only evicted when
// nothing else is left.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Create stores a copy of job.
func (s *Store) Create(_ context.Context, job *api.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[job.ID]; exists {
		return storage.ErrConflict
	}

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evict()
	}

	elem := s.lruList.PushFront(job.ID)
	s.entries[job.ID] = &entry{job: job.Clone(), lruElem: elem}
	return nil
}

// Update merges patch into the stored job.
func (s *Store) Update(_ context.Context, id string, patch api.JobPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	if err := storage.CheckTransition(e.job.Status, patch); err != nil {
		return err
	}

	patch.ApplyTo(e.job, s.now().UTC())
	// Detach from slices and maps owned by the caller's patch.
	e.job = e.job.Clone()
	s.lruList.MoveToFront(e.lruElem)
	return nil
}

// Get returns a snapshot of the job. Scoped by owner when an owner is
// present in the context.
func (s *Store) Get(ctx context.Context, id string) (*api.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || !storage.Visible(ctx, e.job.Owner) {
		return nil, storage.ErrNotFound
	}
	s.lruList.MoveToFront(e.lruElem)
	return e.job.Clone(), nil
}

// List returns jobs visible to the context owner, newest first, with
// cursor-based pagination.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) (*storage.JobList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*api.Job
	for _, e := range s.entries {
		if !storage.Visible(ctx, e.job.Owner) {
			continue
		}
		if opts.Status != "" && e.job.Status != opts.Status {
			continue
		}
		matches = append(matches, e.job)
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})

	if opts.After != "" {
		idx := -1
		for i, j := range matches {
			if j.ID == opts.After {
				idx = i
				break
			}
		}
		if idx >= 0 {
			matches = matches[idx+1:]
		} else {
			matches = nil
		}
	}

	limit := opts.EffectiveLimit()
	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}

	page := make([]*api.Job, len(matches))
	for i, j := range matches {
		page[i] = j.Clone()
	}
	return storage.NewJobList(page, hasMore), nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// evict removes the least recently used finished job, falling back to the
// least recently used job of any status. Must be called with s.mu held.
func (s *Store) evict() {
	victim := s.lruList.Back()
	for el := s.lruList.Back(); el != nil; el = el.Prev() {
		if s.entries[el.Value.(string)].job.Status.IsTerminal() {
			victim = el
			break
		}
	}
	if victim == nil {
		return
	}

	id := victim.Value.(string)
	s.lruList.Remove(victim)
	delete(s.entries, id)
}
