package api

import (
	"bytes"
	"fmt"
	"image/png"
	"net/http"
	"strings"

	"github.com/wbrown/quanttxt"
)

const (
	defaultPreviewLines = 50
	maxPreviewLines     = 1000
)

// PreviewResponse is returned by Preview.
type PreviewResponse struct {
	TaskID     string   `json:"task_id"`
	Lines      []string `json:"lines"`
	TotalLines int      `json:"total_lines"`
	Truncated  bool     `json:"truncated"`
}

// Preview handles GET /api/v1/gallery/{id}/preview. It returns the first
// max_lines lines of the result as UTF-8 JSON.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	maxLines, err := queryInt(r, "max_lines", defaultPreviewLines)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}
	if maxLines < 1 || maxLines > maxPreviewLines {
		h.RespondWithErrorAndLog(w, r, fmt.Errorf("%w: max_lines must be between 1 and %d", ErrBadRequest, maxPreviewLines))
		return
	}

	job, ok := h.completedJob(w, r)
	if !ok {
		return
	}
	text, err := h.artifacts.Load(job.ID)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}

	lines := strings.Split(text, quanttxt.LineSeparator)
	resp := PreviewResponse{
		TaskID:     job.ID.String(),
		Lines:      lines,
		TotalLines: len(lines),
	}
	if len(lines) > maxLines {
		resp.Lines = lines[:maxLines]
		resp.Truncated = true
	}
	RespondWithJSON(w, r, http.StatusOK, resp)
}

// PreviewPNG handles GET /api/v1/gallery/{id}/preview.png.
func (h *Handler) PreviewPNG(w http.ResponseWriter, r *http.Request) {
	job, ok := h.completedJob(w, r)
	if !ok {
		return
	}
	text, err := h.artifacts.Load(job.ID)
	if err != nil {
		h.RespondWithErrorAndLog(w, r, err)
		return
	}

	img := h.font.RenderText(text, quanttxt.DefaultPreviewOptions())
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		h.RespondWithErrorAndLog(w, r, fmt.Errorf("failed to encode preview: %w", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("failed to send preview", "job_id", job.ID, "error", err)
	}
}
