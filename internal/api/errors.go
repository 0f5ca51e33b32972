package api

import (
	"errors"
	"net/http"

	"github.com/wbrown/quanttxt"
	"github.com/wbrown/quanttxt/internal/artifact"
	"github.com/wbrown/quanttxt/internal/jobs"
	"github.com/wbrown/quanttxt/internal/store"
)

var (
	// ErrBadRequest marks malformed request parameters.
	ErrBadRequest = errors.New("bad request")
	// ErrNotReady is returned when a job's result is requested before the
	// job completed.
	ErrNotReady = errors.New("job result not available")
)

// mapErrorToStatus maps internal errors to HTTP status codes.
func mapErrorToStatus(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, ErrBadRequest),
		errors.Is(err, quanttxt.ErrInvalidConfig),
		errors.Is(err, jobs.ErrInvalidRequest):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrJobNotFound),
		errors.Is(err, artifact.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, jobs.ErrJobFinished),
		errors.Is(err, ErrNotReady):
		return http.StatusConflict

	case errors.Is(err, jobs.ErrQueueFull):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// safeErrorMessage returns the message sent to clients. Validation errors
// carry their details; server errors do not.
func safeErrorMessage(err error, status int) string {
	switch status {
	case http.StatusRequestEntityTooLarge:
		return "Uploaded file is too large"
	case http.StatusNotFound:
		if errors.Is(err, artifact.ErrNotFound) {
			return "Result file not found"
		}
		return "Task not found"
	case http.StatusServiceUnavailable:
		return "Server is busy, try again later"
	case http.StatusInternalServerError:
		return "An unexpected error occurred"
	default:
		return err.Error()
	}
}
