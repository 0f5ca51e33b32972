package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wbrown/quanttxt/internal/domain"
)

// ErrJobNotFound is returned when no job has the requested id.
var ErrJobNotFound = errors.New("job not found")

// ErrStatusConflict is returned by UpdateIf when the job is not in the
// expected status.
var ErrStatusConflict = errors.New("job status changed")

// ListOptions selects a page of jobs, newest first. A zero Limit means no
// limit; an empty Statuses matches every status.
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []domain.JobStatus
}

// JobStore is the persistence port for job records. Implementations must be
// safe for concurrent use and must return copies, never shared records.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	Update(ctx context.Context, id uuid.UUID, u domain.Update) (*domain.Job, error)
	// UpdateIf applies u only while the job is in status from. Otherwise it
	// returns the current record and ErrStatusConflict.
	UpdateIf(ctx context.Context, id uuid.UUID, from domain.JobStatus, u domain.Update) (*domain.Job, error)
	List(ctx context.Context, opts ListOptions) (jobs []*domain.Job, total int, err error)
	Delete(ctx context.Context, id uuid.UUID) error
	// FinishedBefore returns finished jobs whose last update is older than t.
	FinishedBefore(ctx context.Context, t time.Time) ([]*domain.Job, error)
	Close() error
}

func matchesStatus(s domain.JobStatus, statuses []domain.JobStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}
