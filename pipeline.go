package quanttxt

import (
	"fmt"
	"image"
	"io"
	"log/slog"
	"runtime"
	"strings"

	"github.com/wbrown/quanttxt/imageutil"
)

// Mode selects the output flavor of the Composing stage.
type Mode int

const (
	// ModePlain emits bare glyphs.
	ModePlain Mode = iota
	// ModeANSI wraps each glyph in a 256-color foreground escape.
	ModeANSI
)

func (m Mode) String() string {
	if m == ModeANSI {
		return "ansi"
	}
	return "plain"
}

// ParseMode converts "plain" or "ansi" to a Mode. The empty string parses
// as ModePlain.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "plain", "text":
		return ModePlain, nil
	case "ansi", "color":
		return ModeANSI, nil
	default:
		return ModePlain, fmt.Errorf("unknown mode %q", name)
	}
}

// Pipeline runs the staged conversion of an image into a glyph block. A
// Pipeline holds only settings; it is never modified after NewPipeline, so
// one value can serve any number of concurrent runs.
type Pipeline struct {
	advanced  bool
	algorithm Algorithm
	mode      Mode
	workers   int
	logger    *slog.Logger
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// NewPipeline creates a Pipeline with the given options.
// Default values: advanced mode on, AlgorithmAuto, ModePlain, one worker
// per GOMAXPROCS, and a logger that discards everything.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		advanced:  true,
		algorithm: AlgorithmAuto,
		mode:      ModePlain,
		workers:   runtime.GOMAXPROCS(0),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithAdvanced chooses median cut (true) or perceptual bucketing (false)
// for quality 7 and above when the algorithm is automatic.
func WithAdvanced(advanced bool) Option {
	return func(p *Pipeline) {
		p.advanced = advanced
	}
}

// WithAlgorithm overrides the quality-based algorithm choice.
func WithAlgorithm(alg Algorithm) Option {
	return func(p *Pipeline) {
		p.algorithm = alg
	}
}

// WithMode sets the output flavor.
func WithMode(mode Mode) Option {
	return func(p *Pipeline) {
		p.mode = mode
	}
}

// WithWorkers sets how many goroutines share the row-parallel work inside
// a stage. Values below 1 mean 1.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		p.workers = max(n, 1)
	}
}

// WithLogger sets the logger used for stage transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Algorithm returns the algorithm a run at quality will use.
func (p *Pipeline) Algorithm(quality int) Algorithm {
	if p.algorithm != AlgorithmAuto {
		return p.algorithm
	}
	return SelectAlgorithm(quality, p.advanced)
}

// Run converts img with a default Pipeline. See Pipeline.Run.
func Run(img image.Image, cfg Config, sink ProgressSink, oracle CancellationOracle) (Outcome, error) {
	return NewPipeline().Run(img, cfg, sink, oracle)
}

// Run converts img according to cfg without persisting the result. It is
// RunAndSave with no Saver.
func (p *Pipeline) Run(img image.Image, cfg Config, sink ProgressSink, oracle CancellationOracle) (Outcome, error) {
	return p.RunAndSave(img, cfg, sink, oracle, nil)
}

// RunAndSave validates cfg and then drives the stages Preprocessing,
// ColorQuantizing, Composing and Saving in order, polling oracle before each
// one. It returns exactly one Outcome. The error is non-nil only when cfg
// is invalid or img is nil, in which case no stage ran and sink received
// nothing. A nil sink, oracle or saver is treated as a no-op.
func (p *Pipeline) RunAndSave(
	img image.Image,
	cfg Config,
	sink ProgressSink,
	oracle CancellationOracle,
	saver Saver,
) (Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, ErrNilImage
	}
	if sink == nil {
		sink = ProgressFunc(func(ProgressEvent) {})
	}
	if oracle == nil {
		oracle = OracleFunc(func() (bool, bool) { return false, false })
	}

	r := &run{
		p:       p,
		cfg:     cfg,
		sink:    sink,
		oracle:  oracle,
		current: StageQueued,
		logger: p.logger.With(
			"width", cfg.Width,
			"height", cfg.Height,
			"quality", cfg.Quality,
			"algorithm", p.Algorithm(cfg.Quality).String(),
			"mode", p.mode.String()),
	}
	return r.execute(img, saver), nil
}

// run is the state of one invocation.
type run struct {
	p       *Pipeline
	cfg     Config
	sink    ProgressSink
	oracle  CancellationOracle
	current Stage
	logger  *slog.Logger
}

func (r *run) execute(img image.Image, saver Saver) Outcome {
	bounds := img.Bounds()
	original := image.Pt(bounds.Dx(), bounds.Dy())

	var grid *imageutil.RGBAImage
	if out := r.stage(StagePreprocessing, func() error {
		r.emit(ProgressLoading, "Loading image")
		grid = ResizeToGrid(Preprocess(img, r.cfg.Quality), r.cfg.Width, r.cfg.Height)
		r.emit(ProgressPreprocessed, "Preprocessing image")
		return nil
	}); out != nil {
		return out
	}

	var quantized *imageutil.RGBAImage
	if out := r.stage(StageColorQuantizing, func() error {
		r.emit(ProgressQuantizing, "Quantizing colors")
		var err error
		quantized, err = quantize(grid, r.cfg.Quality, r.p.Algorithm(r.cfg.Quality), r.p.workers)
		return err
	}); out != nil {
		return out
	}

	var text string
	if out := r.stage(StageComposing, func() error {
		var err error
		if r.p.mode == ModeANSI {
			text, err = composeANSI(quantized, r.p.workers)
		} else {
			text, err = compose(quantized, r.p.workers)
		}
		return err
	}); out != nil {
		return out
	}

	if out := r.stage(StageSaving, func() error {
		r.emit(ProgressSaving, "Saving result")
		if saver == nil {
			return nil
		}
		return saver.Save(text)
	}); out != nil {
		return out
	}

	r.transition(StageCompleted)
	r.sink.Report(ProgressEvent{
		Stage:   StageCompleted,
		Percent: ProgressDone,
		Message: "Quantization complete",
		Status:  StatusCompleted,
	})
	return &Completed{
		Text:         text,
		OutputSize:   image.Pt(r.cfg.Width, r.cfg.Height),
		OriginalSize: original,
	}
}

// stage polls the oracle, enters s and runs fn. It returns a terminal
// Outcome when the run must stop, nil otherwise.
func (r *run) stage(s Stage, fn func() error) Outcome {
	if cancelled, timeout := r.oracle.Cancelled(); cancelled {
		if timeout {
			return r.fail(r.current, ErrTimeLimit)
		}
		return r.cancel()
	}

	r.transition(s)
	if err := guard(fn); err != nil {
		return r.fail(s, err)
	}
	return nil
}

func (r *run) transition(s Stage) {
	r.logger.Debug("stage transition", "from", r.current, "to", s)
	r.current = s
}

func (r *run) emit(percent int, message string) {
	r.sink.Report(ProgressEvent{
		Stage:   r.current,
		Percent: percent,
		Message: message,
		Status:  StatusProcessing,
	})
}

func (r *run) cancel() Outcome {
	at := r.current
	r.logger.Info("run cancelled", "stage", at)
	r.transition(StageCancelled)
	r.sink.Report(ProgressEvent{
		Stage:   StageCancelled,
		Message: fmt.Sprintf("Cancelled before leaving %s", at),
		Status:  StatusCancelled,
	})
	return &Cancelled{Stage: at}
}

func (r *run) fail(at Stage, err error) Outcome {
	failed := newFailed(at, err)
	r.logger.Error("run failed",
		"stage", at,
		"error", failed.Message,
		"timeout", failed.IsTimeout)
	r.transition(StageFailed)
	r.sink.Report(ProgressEvent{
		Stage:   StageFailed,
		Message: failed.Message,
		Status:  StatusFailed,
	})
	return failed
}

// guard runs fn and converts a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return fn()
}
