package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wbrown/quanttxt/internal/domain"
)

// QuantizeRequest holds the form fields of a submission.
type QuantizeRequest struct {
	Width     int    `validate:"gte=50,lte=1000"`
	Height    int    `validate:"gte=50,lte=1000"`
	Quality   int    `validate:"gte=1,lte=10"`
	Advanced  bool
	Algorithm string `validate:"omitempty,max=32"`
	Mode      string `validate:"omitempty,max=32"`
}

// Params converts the request into job parameters.
func (q QuantizeRequest) Params() domain.JobParams {
	return domain.JobParams{
		Width:     q.Width,
		Height:    q.Height,
		Quality:   q.Quality,
		Advanced:  q.Advanced,
		Algorithm: q.Algorithm,
		Mode:      q.Mode,
	}
}

// parseQuantizeRequest reads the form fields of a submission, falling back
// to defaults for missing ones.
func parseQuantizeRequest(r *http.Request, defaults domain.JobParams) (QuantizeRequest, error) {
	req := QuantizeRequest{
		Width:     defaults.Width,
		Height:    defaults.Height,
		Quality:   defaults.Quality,
		Advanced:  defaults.Advanced,
		Algorithm: strings.TrimSpace(r.FormValue("algorithm")),
		Mode:      strings.TrimSpace(r.FormValue("mode")),
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"width", &req.Width},
		{"height", &req.Height},
		{"quality", &req.Quality},
	}
	for _, f := range ints {
		v := strings.TrimSpace(r.FormValue(f.name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("%w: %s must be an integer", ErrBadRequest, f.name)
		}
		*f.dst = n
	}

	if v := strings.TrimSpace(r.FormValue("advanced")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("%w: advanced must be a boolean", ErrBadRequest)
		}
		req.Advanced = b
	}
	return req, nil
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: id is required", ErrBadRequest)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: id has invalid format", ErrBadRequest)
	}
	return id, nil
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrBadRequest, name)
	}
	return n, nil
}
