package jobs

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/dominantcolor"
	"github.com/google/uuid"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/wbrown/quanttxt"
	"github.com/wbrown/quanttxt/imageutil"
	"github.com/wbrown/quanttxt/internal/artifact"
	"github.com/wbrown/quanttxt/internal/domain"
	"github.com/wbrown/quanttxt/internal/progress"
	"github.com/wbrown/quanttxt/internal/store"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("job queue is full, try again later")
	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("job already finished")
	// ErrInvalidRequest is returned by Submit for unusable parameters.
	ErrInvalidRequest = errors.New("invalid job request")
)

// StageDecoding names the failure stage of uploads that cannot be decoded.
// It precedes the pipeline's own stages.
const StageDecoding = "Decoding"

const interruptedMessage = "interrupted by restart"

// Config holds runner settings.
type Config struct {
	// Workers is the number of jobs processed concurrently.
	Workers int
	// QueueSize bounds the number of submitted jobs waiting for a worker.
	QueueSize int
	// SoftTimeLimit is the per-job processing budget.
	SoftTimeLimit time.Duration
	// ResultTTL is how long finished jobs and their artifacts are kept.
	ResultTTL time.Duration
	// CleanupInterval is how often expired jobs are removed.
	CleanupInterval time.Duration
	// UploadsDir holds uploaded images until their job runs.
	UploadsDir string
}

// DefaultConfig returns a Config with the service defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         2,
		QueueSize:       100,
		SoftTimeLimit:   240 * time.Second,
		ResultTTL:       time.Hour,
		CleanupInterval: 5 * time.Minute,
		UploadsDir:      "./uploads",
	}
}

// Runner manages background job processing.
type Runner struct {
	store     store.JobStore
	artifacts *artifact.Store
	broker    *progress.Broker
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	queue  chan uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tokens map[uuid.UUID]*Token
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a Runner. Call Start to begin processing.
func NewRunner(
	st store.JobStore,
	artifacts *artifact.Store,
	broker *progress.Broker,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) (*Runner, error) {
	cfg.Workers = max(cfg.Workers, 1)
	cfg.QueueSize = max(cfg.QueueSize, 1)
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		store:     st,
		artifacts: artifacts,
		broker:    broker,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		queue:     make(chan uuid.UUID, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		tokens:    make(map[uuid.UUID]*Token),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Submit validates params, stores the upload and a pending job record and
// queues the job. It returns ErrQueueFull, without leaving a record behind,
// when the queue has no free slot.
func (r *Runner) Submit(ctx context.Context, filename string, data []byte, params domain.JobParams) (*domain.Job, error) {
	cfg := quanttxt.Config{Width: params.Width, Height: params.Height, Quality: params.Quality}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := quanttxt.ParseAlgorithm(params.Algorithm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, err := quanttxt.ParseMode(params.Mode); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !imageutil.IsSupportedExtension(filename) {
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrInvalidRequest, filepath.Ext(filename))
	}

	job := domain.NewJob(filepath.Base(filename), params, r.now().UTC())
	upload := r.uploadPath(job.ID, filename)
	if err := os.WriteFile(upload, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	if err := r.store.Create(ctx, job); err != nil {
		os.Remove(upload)
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	r.setToken(job.ID, NewToken(r.cfg.SoftTimeLimit, r.now))

	select {
	case r.queue <- job.ID:
	default:
		r.dropToken(job.ID)
		os.Remove(upload)
		if err := r.store.Delete(ctx, job.ID); err != nil {
			r.logger.Error("failed to remove rejected job", "job_id", job.ID, "error", err)
		}
		return nil, ErrQueueFull
	}

	r.logger.Info("job submitted",
		"job_id", job.ID,
		"filename", job.Filename,
		"width", params.Width,
		"height", params.Height,
		"quality", params.Quality)
	r.broker.Publish(job)
	return job, nil
}

// Get returns a job record.
func (r *Runner) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return r.store.Get(ctx, id)
}

// List returns a page of job records, newest first.
func (r *Runner) List(ctx context.Context, opts store.ListOptions) ([]*domain.Job, int, error) {
	return r.store.List(ctx, opts)
}

// Cancel stops a job. A pending job is marked cancelled at once; a running
// job stops at its next stage boundary. Cancelling a finished job returns
// ErrJobFinished.
func (r *Runner) Cancel(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	job, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Finished() {
		return job, ErrJobFinished
	}

	if tok := r.token(id); tok != nil {
		tok.Cancel()
	}

	if job.Status == domain.JobStatusPending {
		job, err = r.updateIf(ctx, id, domain.JobStatusPending, domain.Update{
			Status:  domain.Ptr(domain.JobStatusCancelled),
			Stage:   domain.Ptr(string(quanttxt.StageCancelled)),
			Message: domain.Ptr("Cancelled before processing started"),
		})
		if !errors.Is(err, store.ErrStatusConflict) {
			return job, err
		}
		// A worker picked the job up first; its token is already cancelled.
		if job.Status.Finished() {
			return job, ErrJobFinished
		}
	}

	job, err = r.store.Update(ctx, id, domain.Update{Message: domain.Ptr("Cancellation requested")})
	if err != nil {
		return nil, err
	}
	r.broker.Publish(job)
	return job, nil
}

// CancelAll cancels every pending or processing job and returns how many
// were cancelled.
func (r *Runner) CancelAll(ctx context.Context) (int, error) {
	active, _, err := r.store.List(ctx, store.ListOptions{
		Statuses: []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing},
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range active {
		if _, err := r.Cancel(ctx, job.ID); err != nil {
			if errors.Is(err, ErrJobFinished) || errors.Is(err, store.ErrJobNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// Delete removes a job record and its artifact, cancelling the job first
// if it is still active.
func (r *Runner) Delete(ctx context.Context, id uuid.UUID) error {
	if tok := r.token(id); tok != nil {
		tok.Cancel()
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := r.artifacts.Delete(id); err != nil {
		return err
	}
	r.logger.Info("job deleted", "job_id", id)
	return nil
}

// Start recovers jobs left unfinished by a previous process and launches
// the workers and the cleanup loop.
func (r *Runner) Start() error {
	if err := r.Recover(r.ctx); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.wg.Add(1)
	go r.janitor()
	return nil
}

// Stop cancels every running job and waits for the workers to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	for _, tok := range r.tokens {
		tok.Cancel()
	}
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

// Recover marks jobs left pending or processing by a previous process as
// failed. Their uploads are transient, so they cannot be resumed. Jobs
// submitted to this runner are left alone.
func (r *Runner) Recover(ctx context.Context) error {
	stale, _, err := r.store.List(ctx, store.ListOptions{
		Statuses: []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing},
	})
	if err != nil {
		return err
	}

	recovered := 0
	for _, job := range stale {
		if r.token(job.ID) != nil {
			continue
		}
		if _, err := r.finish(ctx, job.ID, domain.Update{
			Status:  domain.Ptr(domain.JobStatusFailed),
			Stage:   domain.Ptr(string(quanttxt.StageFailed)),
			Error:   domain.Ptr(interruptedMessage),
			Message: domain.Ptr(interruptedMessage),
		}); err != nil {
			r.logger.Error("failed to mark interrupted job", "job_id", job.ID, "error", err)
			continue
		}
		recovered++
	}
	r.logger.Info("recovered unfinished jobs", "count", recovered)
	return nil
}

func (r *Runner) worker(id int) {
	defer r.wg.Done()
	r.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("stopping worker", "worker_id", id)
			return
		case jobID := <-r.queue:
			r.process(jobID, id)
		}
	}
}

// process executes one job. It never panics.
func (r *Runner) process(id uuid.UUID, workerID int) {
	ctx := context.Background()
	logger := r.logger.With("job_id", id, "worker_id", workerID)
	tok := r.token(id)
	defer r.dropToken(id)

	job, err := r.store.Get(ctx, id)
	if err != nil {
		logger.Error("failed to load job", "error", err)
		return
	}
	upload := r.uploadPath(id, job.Filename)
	defer os.Remove(upload)

	if job.Status != domain.JobStatusPending || tok == nil {
		logger.Debug("skipping job", "status", job.Status)
		return
	}

	defer func() {
		if v := recover(); v != nil {
			logger.Error("job panicked", "panic", v)
			r.finish(ctx, id, domain.Update{
				Status: domain.Ptr(domain.JobStatusFailed),
				Stage:  domain.Ptr(string(quanttxt.StageFailed)),
				Error:  domain.Ptr(fmt.Sprintf("internal error: %v", v)),
			})
		}
	}()

	tok.Start()
	if _, err := r.updateIf(ctx, id, domain.JobStatusPending, domain.Update{
		Status:  domain.Ptr(domain.JobStatusProcessing),
		Message: domain.Ptr("Processing started"),
	}); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			logger.Debug("job left pending before pickup", "error", err)
			return
		}
		logger.Error("failed to mark job processing", "error", err)
		return
	}
	logger.Info("processing job")

	img, err := imageutil.LoadImage(upload)
	if err != nil {
		logger.Warn("failed to decode upload", "error", err)
		r.finish(ctx, id, domain.Update{
			Status:  domain.Ptr(domain.JobStatusFailed),
			Stage:   domain.Ptr(string(quanttxt.StageFailed)),
			Error:   domain.Ptr(err.Error()),
			Message: domain.Ptr("Failed during " + StageDecoding),
		})
		return
	}

	bounds := img.Bounds()
	r.update(ctx, id, domain.Update{
		OriginalWidth:  domain.Ptr(bounds.Dx()),
		OriginalHeight: domain.Ptr(bounds.Dy()),
		DominantColor:  domain.Ptr(DominantColor(img)),
	})

	outcome, err := r.pipeline(job.Params, logger).RunAndSave(
		img,
		quanttxt.Config{Width: job.Params.Width, Height: job.Params.Height, Quality: job.Params.Quality},
		quanttxt.ProgressFunc(func(e quanttxt.ProgressEvent) {
			if e.Status != quanttxt.StatusProcessing {
				return
			}
			r.update(ctx, id, domain.Update{
				Stage:    domain.Ptr(string(e.Stage)),
				Progress: domain.Ptr(e.Percent),
				Message:  domain.Ptr(e.Message),
			})
		}),
		tok,
		r.artifacts.SaverFor(id, func(path string) {
			r.update(ctx, id, domain.Update{ResultPath: domain.Ptr(path)})
		}),
	)
	if err != nil {
		r.finish(ctx, id, domain.Update{
			Status: domain.Ptr(domain.JobStatusFailed),
			Stage:  domain.Ptr(string(quanttxt.StageFailed)),
			Error:  domain.Ptr(err.Error()),
		})
		return
	}

	switch out := outcome.(type) {
	case *quanttxt.Completed:
		logger.Info("job completed")
		r.finish(ctx, id, domain.Update{
			Status:   domain.Ptr(domain.JobStatusCompleted),
			Stage:    domain.Ptr(string(quanttxt.StageCompleted)),
			Progress: domain.Ptr(quanttxt.ProgressDone),
			Message:  domain.Ptr("Quantization complete"),
		})
	case *quanttxt.Cancelled:
		logger.Info("job cancelled", "stage", out.Stage)
		r.artifacts.Delete(id)
		r.finish(ctx, id, domain.Update{
			Status:  domain.Ptr(domain.JobStatusCancelled),
			Stage:   domain.Ptr(string(quanttxt.StageCancelled)),
			Message: domain.Ptr(fmt.Sprintf("Cancelled after %s", out.Stage)),
		})
	case *quanttxt.Failed:
		logger.Warn("job failed", "stage", out.Stage, "error", out.Message, "timeout", out.IsTimeout)
		r.artifacts.Delete(id)
		r.finish(ctx, id, domain.Update{
			Status:    domain.Ptr(domain.JobStatusFailed),
			Stage:     domain.Ptr(string(quanttxt.StageFailed)),
			Error:     domain.Ptr(out.Message),
			IsTimeout: domain.Ptr(out.IsTimeout),
			Message:   domain.Ptr(fmt.Sprintf("Failed during %s", out.Stage)),
		})
	}
}

// pipeline builds the Pipeline for a job. Row-level parallelism is shared
// between the concurrently running workers.
func (r *Runner) pipeline(params domain.JobParams, logger *slog.Logger) *quanttxt.Pipeline {
	alg, _ := quanttxt.ParseAlgorithm(params.Algorithm)
	mode, _ := quanttxt.ParseMode(params.Mode)
	return quanttxt.NewPipeline(
		quanttxt.WithAdvanced(params.Advanced),
		quanttxt.WithAlgorithm(alg),
		quanttxt.WithMode(mode),
		quanttxt.WithWorkers(runtime.GOMAXPROCS(0)/r.cfg.Workers),
		quanttxt.WithLogger(logger),
	)
}

// update persists u and publishes the new state.
func (r *Runner) update(ctx context.Context, id uuid.UUID, u domain.Update) (*domain.Job, error) {
	job, err := r.store.Update(ctx, id, u)
	if err != nil {
		r.logger.Error("failed to update job", "job_id", id, "error", err)
		return nil, err
	}
	r.broker.Publish(job)
	return job, nil
}

// updateIf is update guarded by the job's current status. A status
// conflict is not logged.
func (r *Runner) updateIf(ctx context.Context, id uuid.UUID, from domain.JobStatus, u domain.Update) (*domain.Job, error) {
	job, err := r.store.UpdateIf(ctx, id, from, u)
	if err != nil {
		if !errors.Is(err, store.ErrStatusConflict) {
			r.logger.Error("failed to update job", "job_id", id, "error", err)
		}
		return job, err
	}
	r.broker.Publish(job)
	return job, nil
}

// finish records a terminal state unless the job already reached one.
func (r *Runner) finish(ctx context.Context, id uuid.UUID, u domain.Update) (*domain.Job, error) {
	job, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Finished() {
		return job, nil
	}
	return r.update(ctx, id, u)
}

// janitor deletes expired jobs until the runner stops.
func (r *Runner) janitor() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Cleanup(r.ctx); err != nil {
				r.logger.Error("failed to clean up expired jobs", "error", err)
			} else if n > 0 {
				r.logger.Info("removed expired jobs", "count", n)
			}
		}
	}
}

// Cleanup removes finished jobs, and their artifacts, last updated more
// than ResultTTL ago. It returns the number removed.
func (r *Runner) Cleanup(ctx context.Context) (int, error) {
	if r.cfg.ResultTTL <= 0 {
		return 0, nil
	}
	expired, err := r.store.FinishedBefore(ctx, r.now().UTC().Add(-r.cfg.ResultTTL))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range expired {
		if err := r.artifacts.Delete(job.ID); err != nil {
			r.logger.Error("failed to delete artifact", "job_id", job.ID, "error", err)
			continue
		}
		if err := r.store.Delete(ctx, job.ID); err != nil && !errors.Is(err, store.ErrJobNotFound) {
			r.logger.Error("failed to delete expired job", "job_id", job.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

func (r *Runner) uploadPath(id uuid.UUID, filename string) string {
	return filepath.Join(r.cfg.UploadsDir, id.String()+strings.ToLower(filepath.Ext(filename)))
}

func (r *Runner) token(id uuid.UUID) *Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[id]
}

func (r *Runner) setToken(id uuid.UUID, tok *Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[id] = tok
}

func (r *Runner) dropToken(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, id)
}

// DominantColor returns the most prominent color of img as #rrggbb.
func DominantColor(img image.Image) string {
	c, _ := colorful.MakeColor(dominantcolor.Find(img))
	return c.Clamped().Hex()
}
