package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wbrown/quanttxt/internal/domain"
)

// MemoryStore is a JobStore backed by a map.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*domain.Job
	now  func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*domain.Job),
		now:  time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id uuid.UUID, u domain.Update) (*domain.Job, error) {
	return s.update(id, nil, u)
}

func (s *MemoryStore) UpdateIf(_ context.Context, id uuid.UUID, from domain.JobStatus, u domain.Update) (*domain.Job, error) {
	return s.update(id, &from, u)
}

func (s *MemoryStore) update(id uuid.UUID, from *domain.JobStatus, u domain.Update) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if from != nil && job.Status != *from {
		return job.Clone(), fmt.Errorf("%w: %s is %s, not %s", ErrStatusConflict, id, job.Status, *from)
	}
	next := job.Clone()
	u.Apply(next, s.now().UTC())
	if err := next.Validate(); err != nil {
		return nil, err
	}
	s.jobs[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*domain.Job, int, error) {
	s.mu.RLock()
	matched := make([]*domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if matchesStatus(job.Status, opts.Statuses) {
			matched = append(matched, job.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *domain.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})

	total := len(matched)
	start := min(max(opts.Offset, 0), total)
	end := total
	if opts.Limit > 0 {
		end = min(start+opts.Limit, total)
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) FinishedBefore(_ context.Context, t time.Time) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Job
	for _, job := range s.jobs {
		if job.Status.Finished() && job.UpdatedAt.Before(t) {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
