package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wbrown/quanttxt"
	"github.com/wbrown/quanttxt/imageutil"
	"github.com/wbrown/quanttxt/internal/artifact"
	"github.com/wbrown/quanttxt/internal/platform/logger"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("quanttxt", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFile := flags.String("input", "",
		"Path to the input image file (required)")
	outputFile := flags.String("output", "-",
		"Path to save the text as UTF-16LE, or - for UTF-8 on stdout")
	width := flags.Int("width", 200,
		"Output width in characters (50-1000)")
	height := flags.Int("height", 200,
		"Output height in characters (50-1000)")
	quality := flags.Int("quality", 5,
		"Quality level 1-10; higher keeps more colors")
	advanced := flags.Bool("advanced", true,
		"Use median-cut quantization at quality 7 and above")
	algorithm := flags.String("algorithm", "auto",
		"Quantizer: auto, uniform, perceptual, mediancut or kmeans")
	ansi := flags.Bool("ansi", false,
		"Emit 256-color ANSI escapes around each glyph")
	pngFile := flags.String("png", "",
		"Also render the text to this PNG file")
	fontPath := flags.String("font", "",
		"TrueType font for -png (default: Go Mono)")
	quiet := flags.Bool("quiet", false,
		"Suppress progress output")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	level := "info"
	if *quiet {
		level = "error"
	}
	log := logger.New(stderr, level, "text")

	if *inputFile == "" {
		fmt.Fprintln(stderr, "Please provide the image using the -input flag")
		flags.PrintDefaults()
		return 2
	}

	alg, err := quanttxt.ParseAlgorithm(*algorithm)
	if err != nil {
		log.Error("invalid algorithm", "error", err)
		return 2
	}
	mode := quanttxt.ModePlain
	if *ansi {
		mode = quanttxt.ModeANSI
	}
	cfg := quanttxt.Config{Width: *width, Height: *height, Quality: *quality}

	img, err := imageutil.LoadImage(*inputFile)
	if err != nil {
		log.Error("failed to load image", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline := quanttxt.NewPipeline(
		quanttxt.WithAdvanced(*advanced),
		quanttxt.WithAlgorithm(alg),
		quanttxt.WithMode(mode),
		quanttxt.WithLogger(log),
	)

	start := time.Now()
	sink := quanttxt.ProgressFunc(func(e quanttxt.ProgressEvent) {
		if e.Status == quanttxt.StatusProcessing {
			log.Info(e.Message, "stage", e.Stage, "progress", e.Percent)
		}
	})
	oracle := quanttxt.OracleFunc(func() (bool, bool) {
		return ctx.Err() != nil, false
	})
	saver := quanttxt.SaverFunc(func(text string) error {
		if mode == quanttxt.ModeANSI {
			text = quanttxt.CompressANSI(text)
		}
		return writeOutput(*outputFile, text, stdout)
	})

	outcome, err := pipeline.RunAndSave(img, cfg, sink, oracle, saver)
	if err != nil {
		log.Error("invalid settings", "error", err)
		return 2
	}

	switch out := outcome.(type) {
	case *quanttxt.Completed:
		log.Info("conversion complete",
			"grid", fmt.Sprintf("%dx%d", out.OutputSize.X, out.OutputSize.Y),
			"original", fmt.Sprintf("%dx%d", out.OriginalSize.X, out.OriginalSize.Y),
			"algorithm", pipeline.Algorithm(cfg.Quality),
			"elapsed", time.Since(start))
		if *outputFile != "-" {
			log.Info("output written", "path", *outputFile)
		}
		if *pngFile != "" {
			if err := writePreview(*pngFile, *fontPath, out.Text); err != nil {
				log.Error("failed to write preview", "error", err)
				return 1
			}
			log.Info("preview written", "path", *pngFile)
		}
		return 0
	case *quanttxt.Cancelled:
		log.Warn("conversion cancelled", "stage", out.Stage)
		return 130
	case *quanttxt.Failed:
		log.Error("conversion failed", "stage", out.Stage, "error", out.Message)
		return 1
	}
	return 1
}

// writeOutput sends text to stdout as UTF-8 when path is "-", and to a
// UTF-16LE file otherwise.
func writeOutput(path, text string, stdout io.Writer) error {
	if path == "-" {
		_, err := io.WriteString(stdout, text+quanttxt.LineSeparator)
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := artifact.WriteUTF16LE(f, text); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writePreview(path, fontPath, text string) error {
	font, err := quanttxt.LoadFontBitmaps(fontPath)
	if err != nil {
		return err
	}
	opts := quanttxt.DefaultPreviewOptions()
	if strings.Contains(text, "\x1b[") {
		opts.Foreground = imageutil.RGB{R: 255, G: 255, B: 255}
		opts.Background = imageutil.RGB{}
	}
	return imageutil.SavePNG(font.RenderText(text, opts), path)
}
