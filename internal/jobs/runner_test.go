package jobs

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/quanttxt"
	"github.com/wbrown/quanttxt/imageutil"
	"github.com/wbrown/quanttxt/internal/artifact"
	"github.com/wbrown/quanttxt/internal/domain"
	"github.com/wbrown/quanttxt/internal/progress"
	"github.com/wbrown/quanttxt/internal/store"
)

type testEnv struct {
	runner    *Runner
	store     *store.MemoryStore
	artifacts *artifact.Store
	broker    *progress.Broker
	cfg       Config
}

func newTestEnv(t *testing.T, mutate func(*Config), opts ...Option) *testEnv {
	t.Helper()
	cfg := DefaultConfig()
	cfg.UploadsDir = filepath.Join(t.TempDir(), "uploads")
	cfg.SoftTimeLimit = time.Minute
	if mutate != nil {
		mutate(&cfg)
	}

	st := store.NewMemoryStore()
	arts, err := artifact.NewStore(filepath.Join(t.TempDir(), "results"))
	require.NoError(t, err)
	broker := progress.NewBroker(64)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r, err := NewRunner(st, arts, broker, cfg, logger, opts...)
	require.NoError(t, err)
	return &testEnv{runner: r, store: st, artifacts: arts, broker: broker, cfg: cfg}
}

func pngBytes(t *testing.T, img *imageutil.RGBAImage) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func defaultParams() domain.JobParams {
	return domain.JobParams{Width: 50, Height: 50, Quality: 5, Advanced: true}
}

func waitFinished(t *testing.T, env *testEnv, id uuid.UUID) *domain.Job {
	t.Helper()
	var job *domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = env.store.Get(context.Background(), id)
		return err == nil && job.Status.Finished()
	}, 10*time.Second, 10*time.Millisecond)
	return job
}

func TestRunnerCompletesJob(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.runner.Start())
	defer env.runner.Stop()

	src := imageutil.CreateSolidImage(100, 80, imageutil.RGB{R: 255})
	job, err := env.runner.Submit(context.Background(), "red.png", pngBytes(t, src), defaultParams())
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	done := waitFinished(t, env, job.ID)
	require.Equal(t, domain.JobStatusCompleted, done.Status, "error: %s", done.Error)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, string(quanttxt.StageCompleted), done.Stage)
	assert.Equal(t, 100, done.OriginalWidth)
	assert.Equal(t, 80, done.OriginalHeight)
	assertReddish(t, done.DominantColor)
	assert.Equal(t, env.artifacts.Path(job.ID), done.ResultPath)
	assert.NotNil(t, done.CompletedAt)

	text, err := env.artifacts.Load(job.ID)
	require.NoError(t, err)
	lines := strings.Split(text, "\n")
	require.Len(t, lines, 50)
	assert.Equal(t, strings.Repeat("◢", 50), lines[0])

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(env.cfg.UploadsDir, job.ID.String()+".png"))
		return errors.Is(err, os.ErrNotExist)
	}, 5*time.Second, 10*time.Millisecond, "upload is removed after processing")
}

func TestRunnerSubmitValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	data := pngBytes(t, imageutil.CreateGradientImage(10, 10))

	_, err := env.runner.Submit(ctx, "a.png", data, domain.JobParams{Width: 10, Height: 50, Quality: 5})
	assert.True(t, errors.Is(err, quanttxt.ErrInvalidConfig), "got %v", err)

	params := defaultParams()
	params.Algorithm = "dither"
	_, err = env.runner.Submit(ctx, "a.png", data, params)
	assert.True(t, errors.Is(err, ErrInvalidRequest), "got %v", err)

	_, err = env.runner.Submit(ctx, "a.svg", data, defaultParams())
	assert.True(t, errors.Is(err, ErrInvalidRequest), "got %v", err)

	_, total, err := env.store.List(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, total, "rejected submissions leave no record")
}

func TestRunnerQueueFull(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.QueueSize = 1 })
	ctx := context.Background()
	data := pngBytes(t, imageutil.CreateGradientImage(60, 60))

	_, err := env.runner.Submit(ctx, "a.png", data, defaultParams())
	require.NoError(t, err)
	_, err = env.runner.Submit(ctx, "b.png", data, defaultParams())
	assert.True(t, errors.Is(err, ErrQueueFull))

	_, total, err := env.store.List(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	entries, err := os.ReadDir(env.cfg.UploadsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunnerCancelPending(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	job, err := env.runner.Submit(ctx, "a.png", pngBytes(t, imageutil.CreateGradientImage(60, 60)), defaultParams())
	require.NoError(t, err)

	cancelled, err := env.runner.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, cancelled.Status)

	_, err = env.runner.Cancel(ctx, job.ID)
	assert.True(t, errors.Is(err, ErrJobFinished))

	// The worker skips the cancelled job.
	require.NoError(t, env.runner.Start())
	defer env.runner.Stop()
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(env.cfg.UploadsDir, job.ID.String()+".png"))
		return errors.Is(err, os.ErrNotExist)
	}, 5*time.Second, 10*time.Millisecond)

	got, err := env.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
	_, err = env.artifacts.Load(job.ID)
	assert.True(t, errors.Is(err, artifact.ErrNotFound))
}

// interleavingStore runs hook once, right after the next Get returns.
type interleavingStore struct {
	*store.MemoryStore
	mu   sync.Mutex
	hook func()
}

func (s *interleavingStore) arm(hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

func (s *interleavingStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	job, err := s.MemoryStore.Get(ctx, id)
	s.mu.Lock()
	hook := s.hook
	s.hook = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return job, err
}

func TestRunnerCancelBetweenLoadAndPickup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UploadsDir = filepath.Join(t.TempDir(), "uploads")
	cfg.SoftTimeLimit = time.Minute
	st := &interleavingStore{MemoryStore: store.NewMemoryStore()}
	arts, err := artifact.NewStore(filepath.Join(t.TempDir(), "results"))
	require.NoError(t, err)
	broker := progress.NewBroker(64)
	r, err := NewRunner(st, arts, broker, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx := context.Background()
	job, err := r.Submit(ctx, "a.png", pngBytes(t, imageutil.CreateGradientImage(60, 60)), defaultParams())
	require.NoError(t, err)
	updates, unsubscribe := broker.Subscribe(job.ID)
	defer unsubscribe()

	// The worker has read the pending record when the cancel lands.
	st.arm(func() {
		_, err := r.Cancel(ctx, job.ID)
		assert.NoError(t, err)
	})
	r.process(job.ID, 0)

	got, err := st.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)

	var statuses []domain.JobStatus
drain:
	for {
		select {
		case j := <-updates:
			statuses = append(statuses, j.Status)
		default:
			break drain
		}
	}
	assert.Equal(t, []domain.JobStatus{domain.JobStatusCancelled}, statuses)
}

func TestRunnerCancelUnknown(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.runner.Cancel(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, store.ErrJobNotFound))
}

func TestRunnerCancelAll(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	data := pngBytes(t, imageutil.CreateGradientImage(60, 60))
	for i := 0; i < 3; i++ {
		_, err := env.runner.Submit(ctx, "a.png", data, defaultParams())
		require.NoError(t, err)
	}

	n, err := env.runner.CancelAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	active, _, err := env.store.List(ctx, store.ListOptions{
		Statuses: []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing},
	})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRunnerSoftTimeLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.SoftTimeLimit = time.Nanosecond })
	require.NoError(t, env.runner.Start())
	defer env.runner.Stop()

	job, err := env.runner.Submit(context.Background(), "a.png",
		pngBytes(t, imageutil.CreateGradientImage(60, 60)), defaultParams())
	require.NoError(t, err)

	done := waitFinished(t, env, job.ID)
	assert.Equal(t, domain.JobStatusFailed, done.Status)
	assert.True(t, done.IsTimeout)
	assert.Equal(t, quanttxt.ErrTimeLimit.Error(), done.Error)
}

func TestRunnerDecodeFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.runner.Start())
	defer env.runner.Stop()

	job, err := env.runner.Submit(context.Background(), "broken.png", []byte("not an image"), defaultParams())
	require.NoError(t, err)

	done := waitFinished(t, env, job.ID)
	assert.Equal(t, domain.JobStatusFailed, done.Status)
	assert.False(t, done.IsTimeout)
	assert.Contains(t, done.Message, StageDecoding)
	assert.Contains(t, done.Error, imageutil.ErrDecode.Error())
}

func TestRunnerRecover(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	stale := domain.NewJob("old.png", defaultParams(), time.Now().UTC())
	require.NoError(t, env.store.Create(ctx, stale))
	running := domain.NewJob("old2.png", defaultParams(), time.Now().UTC())
	require.NoError(t, env.store.Create(ctx, running))
	_, err := env.store.Update(ctx, running.ID, domain.Update{Status: domain.Ptr(domain.JobStatusProcessing)})
	require.NoError(t, err)

	require.NoError(t, env.runner.Recover(ctx))

	for _, id := range []uuid.UUID{stale.ID, running.ID} {
		job, err := env.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, job.Status)
		assert.Equal(t, interruptedMessage, job.Error)
	}
}

func TestRunnerDelete(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	job, err := env.runner.Submit(ctx, "a.png", pngBytes(t, imageutil.CreateGradientImage(60, 60)), defaultParams())
	require.NoError(t, err)
	_, err = env.artifacts.Save(job.ID, "x")
	require.NoError(t, err)

	require.NoError(t, env.runner.Delete(ctx, job.ID))
	_, err = env.store.Get(ctx, job.ID)
	assert.True(t, errors.Is(err, store.ErrJobNotFound))
	_, err = env.artifacts.Load(job.ID)
	assert.True(t, errors.Is(err, artifact.ErrNotFound))

	assert.True(t, errors.Is(env.runner.Delete(ctx, job.ID), store.ErrJobNotFound))
}

func TestRunnerCleanup(t *testing.T) {
	clock := &fakeClock{t: time.Now().UTC()}
	env := newTestEnv(t, func(c *Config) { c.ResultTTL = time.Hour }, WithClock(clock.Now))
	ctx := context.Background()

	job := domain.NewJob("a.png", defaultParams(), time.Now().UTC())
	require.NoError(t, env.store.Create(ctx, job))
	_, err := env.store.Update(ctx, job.ID, domain.Update{Status: domain.Ptr(domain.JobStatusCompleted)})
	require.NoError(t, err)
	_, err = env.artifacts.Save(job.ID, "◢")
	require.NoError(t, err)

	n, err := env.runner.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh results are kept")

	clock.Advance(2 * time.Hour)
	n, err = env.runner.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = env.store.Get(ctx, job.ID)
	assert.True(t, errors.Is(err, store.ErrJobNotFound))
	_, err = env.artifacts.Load(job.ID)
	assert.True(t, errors.Is(err, artifact.ErrNotFound))
}

func assertReddish(t *testing.T, hex string) {
	t.Helper()
	c, err := colorful.Hex(hex)
	require.NoError(t, err, "dominant color %q", hex)
	assert.Greater(t, c.R, 0.9)
	assert.Less(t, c.G, 0.1)
	assert.Less(t, c.B, 0.1)
}

func TestDominantColor(t *testing.T) {
	img := imageutil.CreateSolidImage(40, 40, imageutil.RGB{R: 255})
	assertReddish(t, DominantColor(img))

	bars := imageutil.CreateColorBarsImage(80, 20)
	assert.Regexp(t, `^#[0-9a-f]{6}$`, DominantColor(bars))
}
