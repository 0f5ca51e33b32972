package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wbrown/quanttxt"
	"github.com/wbrown/quanttxt/internal/artifact"
	"github.com/wbrown/quanttxt/internal/domain"
	"github.com/wbrown/quanttxt/internal/progress"
	"github.com/wbrown/quanttxt/internal/store"
)

// Jobs is the job service used by the handlers.
type Jobs interface {
	Submit(ctx context.Context, filename string, data []byte, params domain.JobParams) (*domain.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	List(ctx context.Context, opts store.ListOptions) ([]*domain.Job, int, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	CancelAll(ctx context.Context) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Options holds request limits and form defaults.
type Options struct {
	// MaxUploadBytes bounds the request body of a submission.
	MaxUploadBytes int64
	// Defaults fill form fields the client leaves out.
	Defaults domain.JobParams
}

// Handler serves the HTTP API.
type Handler struct {
	jobs      Jobs
	artifacts *artifact.Store
	broker    *progress.Broker
	font      *quanttxt.FontBitmaps
	validator *validator.Validate
	upgrader  websocket.Upgrader
	metrics   *Metrics
	opts      Options
	logger    *slog.Logger
}

// NewHandler creates a Handler. font renders PNG previews.
func NewHandler(
	jobs Jobs,
	artifacts *artifact.Store,
	broker *progress.Broker,
	font *quanttxt.FontBitmaps,
	opts Options,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		jobs:      jobs,
		artifacts: artifacts,
		broker:    broker,
		font:      font,
		validator: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: NewMetrics(),
		opts:    opts,
		logger:  logger,
	}
}

// NewRouter registers every route of h on a chi router with the standard
// middleware stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(h.metrics.Middleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/quantize", func(r chi.Router) {
			r.Post("/", h.Submit)
			r.Get("/status/{id}", h.Status)
			r.Post("/cancel/{id}", h.Cancel)
			r.Get("/result/{id}", h.Result)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", h.History)
			r.Get("/active", h.Active)
			r.Post("/cancel-all", h.CancelAll)
			r.Delete("/{id}", h.Delete)
		})

		r.Get("/gallery/{id}/preview", h.Preview)
		r.Get("/gallery/{id}/preview.png", h.PreviewPNG)
	})

	r.Get("/ws/{id}", h.Progress)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			h.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
