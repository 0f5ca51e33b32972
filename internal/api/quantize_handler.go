package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/wbrown/quanttxt/internal/artifact"
	"github.com/wbrown/quanttxt/internal/domain"
)

// multipartMemory is the part of a multipart form kept in memory; the rest
// spills to temporary files.
const multipartMemory = 8 << 20

// SubmitResponse is returned by Submit.
type SubmitResponse struct {
	TaskID string           `json:"task_id"`
	Status domain.JobStatus `json:"status"`
}

// CancelResponse is returned by Cancel.
type CancelResponse struct {
	TaskID  string           `json:"task_id"`
	Status  domain.JobStatus `json:"status"`
	Message string           `json:"message"`
}

// Submit handles POST /api/v1/quantize.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.RespondWithErrorAndLog(w, r, fmt.Errorf("%w: invalid multipart form: %w", ErrBadRequest, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	req, err := parseQuantizeRequest(r, h.opts.Defaults)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.RespondWithErrorAndLog(w, r, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.RespondWithErrorAndLog(w, r, fmt.Errorf("%w: file is required", ErrBadRequest))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	job, err := h.jobs.Submit(r.Context(), header.Filename, data, req.Params())
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}

	RespondWithJSON(w, r, http.StatusAccepted, SubmitResponse{
		TaskID: job.ID.String(),
		Status: job.Status,
	})
}

// Status handles GET /api/v1/quantize/status/{id}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}
	RespondWithJSON(w, r, http.StatusOK, job)
}

// Cancel handles POST /api/v1/quantize/cancel/{id}.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}
	job, err := h.jobs.Cancel(r.Context(), id)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}
	RespondWithJSON(w, r, http.StatusOK, CancelResponse{
		TaskID:  job.ID.String(),
		Status:  job.Status,
		Message: job.Message,
	})
}

// Result handles GET /api/v1/quantize/result/{id}. The artifact is sent
// as stored, UTF-16LE without a byte order mark.
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	job, ok := h.completedJob(w, r)
	if !ok {
		return
	}
	f, err := h.artifacts.Open(job.ID)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="quantized_%s.txt"`, job.ID))
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", fmt.Sprint(info.Size()))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		h.logger.Warn("failed to send result", "job_id", job.ID, "error", err)
	}
}

// completedJob loads the job named by the path and checks that its result
// exists. It writes the error response and returns false otherwise.
func (h *Handler) completedJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	id, err := pathID(r)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return nil, false
	}
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return nil, false
	}
	if job.Status != domain.JobStatusCompleted {
		h.RespondWithErrorAndLog(w, r, fmt.Errorf("%w: task is %s", ErrNotReady, job.Status))
		return nil, false
	}
	return job, true
}
