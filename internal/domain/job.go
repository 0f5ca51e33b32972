package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusFailed     JobStatus = "failed"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		return true
	}
	return false
}

// ErrInvalidJob is returned when a job fails validation.
var ErrInvalidJob = errors.New("invalid job")

// JobParams are the conversion settings requested for a job.
type JobParams struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Quality   int    `json:"quality"`
	Advanced  bool   `json:"advanced"`
	Algorithm string `json:"algorithm,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

// Job is the persisted state of one conversion request.
type Job struct {
	ID             uuid.UUID  `json:"task_id"`
	Filename       string     `json:"filename"`
	Params         JobParams  `json:"params"`
	Status         JobStatus  `json:"status"`
	Stage          string     `json:"stage"`
	Progress       int        `json:"progress"`
	Message        string     `json:"message,omitempty"`
	Error          string     `json:"error,omitempty"`
	IsTimeout      bool       `json:"is_timeout"`
	OriginalWidth  int        `json:"original_width,omitempty"`
	OriginalHeight int        `json:"original_height,omitempty"`
	DominantColor  string     `json:"dominant_color,omitempty"`
	ResultPath     string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a pending job with a fresh id.
func NewJob(filename string, params JobParams, now time.Time) *Job {
	return &Job{
		ID:        uuid.New(),
		Filename:  filename,
		Params:    params,
		Status:    JobStatusPending,
		Stage:     "Queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the invariants every stored job satisfies.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalidJob)
	}
	if !j.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidJob, j.Status)
	}
	if j.Progress < 0 || j.Progress > 100 {
		return fmt.Errorf("%w: progress %d outside 0..100", ErrInvalidJob, j.Progress)
	}
	return nil
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Update describes a change to a job's progress fields. Nil fields are left
// unchanged.
type Update struct {
	Status         *JobStatus
	Stage          *string
	Progress       *int
	Message        *string
	Error          *string
	IsTimeout      *bool
	OriginalWidth  *int
	OriginalHeight *int
	DominantColor  *string
	ResultPath     *string
}

// Apply writes the non-nil fields of u to j and stamps UpdatedAt. Moving
// into a finished status also stamps CompletedAt.
func (u Update) Apply(j *Job, now time.Time) {
	if u.Status != nil {
		j.Status = *u.Status
		if j.Status.Finished() && j.CompletedAt == nil {
			t := now
			j.CompletedAt = &t
		}
	}
	if u.Stage != nil {
		j.Stage = *u.Stage
	}
	if u.Progress != nil {
		j.Progress = *u.Progress
	}
	if u.Message != nil {
		j.Message = *u.Message
	}
	if u.Error != nil {
		j.Error = *u.Error
	}
	if u.IsTimeout != nil {
		j.IsTimeout = *u.IsTimeout
	}
	if u.OriginalWidth != nil {
		j.OriginalWidth = *u.OriginalWidth
	}
	if u.OriginalHeight != nil {
		j.OriginalHeight = *u.OriginalHeight
	}
	if u.DominantColor != nil {
		j.DominantColor = *u.DominantColor
	}
	if u.ResultPath != nil {
		j.ResultPath = *u.ResultPath
	}
	j.UpdatedAt = now
}

// Ptr returns a pointer to v, for building Updates.
func Ptr[T any](v T) *T {
	return &v
}
