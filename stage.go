package quanttxt

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
)

// Stage names a step of a quantization run.
type Stage string

const (
	StageQueued          Stage = "Queued"
	StagePreprocessing   Stage = "Preprocessing"
	StageColorQuantizing Stage = "ColorQuantizing"
	StageComposing       Stage = "Composing"
	StageSaving          Stage = "Saving"
	StageCompleted       Stage = "Completed"
	StageCancelled       Stage = "Cancelled"
	StageFailed          Stage = "Failed"
)

// Terminal reports whether no further transition follows s.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageCancelled || s == StageFailed
}

// Status is the coarse job state carried by progress events.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// Progress checkpoints, in percent.
const (
	ProgressLoading      = 5
	ProgressPreprocessed = 15
	ProgressQuantizing   = 30
	ProgressSaving       = 80
	ProgressDone         = 100
)

// ProgressEvent reports that a run reached a checkpoint.
type ProgressEvent struct {
	Stage   Stage  `json:"stage"`
	Percent int    `json:"progress"`
	Message string `json:"message"`
	Status  Status `json:"status"`
}

// ProgressSink receives progress events synchronously, in order, from the
// goroutine executing the run.
type ProgressSink interface {
	Report(ProgressEvent)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ProgressEvent)

// Report calls f(e).
func (f ProgressFunc) Report(e ProgressEvent) { f(e) }

// CancellationOracle is polled once before each stage. It must not block.
// A true timeout flag marks cancellation imposed by a time limit.
type CancellationOracle interface {
	Cancelled() (cancelled, timeout bool)
}

// OracleFunc adapts a function to CancellationOracle.
type OracleFunc func() (cancelled, timeout bool)

// Cancelled calls f().
func (f OracleFunc) Cancelled() (bool, bool) { return f() }

// Saver persists the composed text during the Saving stage.
type Saver interface {
	Save(text string) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(text string) error

// Save calls f(text).
func (f SaverFunc) Save(text string) error { return f(text) }

// ErrTimeLimit is the error recorded when the oracle reports a timeout.
var ErrTimeLimit = errors.New("soft time limit exceeded")

// ErrNilImage is returned by Run when no raster is supplied.
var ErrNilImage = errors.New("nil image")

// Outcome is the single terminal result of a run: *Completed, *Cancelled
// or *Failed.
type Outcome interface {
	outcome()
}

// Completed carries the composed text and the grid and source sizes.
type Completed struct {
	Text         string
	OutputSize   image.Point
	OriginalSize image.Point
}

// Cancelled records that the oracle stopped the run. Stage is the last
// stage entered before the cancellation was observed.
type Cancelled struct {
	Stage Stage
}

// Failed records a stage error. Message keeps the original error text and
// IsTimeout separates time limits from algorithmic faults.
type Failed struct {
	Stage     Stage
	Message   string
	IsTimeout bool
	Err       error
}

func (*Completed) outcome() {}
func (*Cancelled) outcome() {}
func (*Failed) outcome()    {}

func (f *Failed) Error() string {
	return fmt.Sprintf("%s failed: %s", f.Stage, f.Message)
}

func (f *Failed) Unwrap() error {
	return f.Err
}

func newFailed(stage Stage, err error) *Failed {
	return &Failed{
		Stage:     stage,
		Message:   err.Error(),
		IsTimeout: IsTimeout(err),
		Err:       err,
	}
}

// IsTimeout reports whether err describes a time limit: its message
// mentions "time limit" or "timeout" in any case, or it wraps
// context.DeadlineExceeded.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "time limit") || strings.Contains(msg, "timeout")
}
