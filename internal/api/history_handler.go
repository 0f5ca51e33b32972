package api

import (
	"net/http"

	"github.com/wbrown/quanttxt/internal/domain"
	"github.com/wbrown/quanttxt/internal/store"
)

const defaultHistoryLimit = 50

// HistoryResponse is a page of job records.
type HistoryResponse struct {
	Jobs   []*domain.Job `json:"jobs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// History handles GET /api/v1/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}
	h.respondWithPage(w, r, store.ListOptions{Limit: limit, Offset: offset})
}

// Active handles GET /api/v1/history/active.
func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	h.respondWithPage(w, r, store.ListOptions{
		Statuses: []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing},
	})
}

func (h *Handler) respondWithPage(w http.ResponseWriter, r *http.Request, opts store.ListOptions) {
	jobs, total, err := h.jobs.List(r.Context(), opts)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}
	RespondWithJSON(w, r, http.StatusOK, HistoryResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// CancelAll handles POST /api/v1/history/cancel-all.
func (h *Handler) CancelAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.jobs.CancelAll(r.Context())
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}
	RespondWithJSON(w, r, http.StatusOK, map[string]int{"cancelled": n})
}

// Delete handles DELETE /api/v1/history/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}
	if err := h.jobs.Delete(r.Context(), id); err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
