// Command atlasweights measures how much of a character cell each atlas
// glyph covers in a TrueType font and compares it with the weight the atlas
// declares for it.
package main

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/wbrown/quanttxt"
)

// GlyphData is the measured bitmap set written by -output.
type GlyphData struct {
	FontName string
	Glyphs   map[rune]quanttxt.GlyphBitmap
}

// Measurement compares one atlas entry with its rendered bitmap.
type Measurement struct {
	Glyph    rune
	Declared float64
	Measured float64
}

// Delta is measured minus declared coverage.
func (m Measurement) Delta() float64 {
	return m.Measured - m.Declared
}

func measure(fb *quanttxt.FontBitmaps) ([]Measurement, []rune) {
	var out []Measurement
	var missing []rune
	for _, e := range quanttxt.Atlas() {
		bitmap, ok := fb.Glyph(e.Glyph)
		if !ok {
			missing = append(missing, e.Glyph)
			continue
		}
		out = append(out, Measurement{
			Glyph:    e.Glyph,
			Declared: e.Weight,
			Measured: bitmap.Coverage(),
		})
	}
	return out, missing
}

func report(w io.Writer, font string, ms []Measurement, missing []rune) {
	fmt.Fprintf(w, "Font: %s\n", font)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "glyph\tdeclared\tmeasured\tdelta\t")
	var sumAbs float64
	for _, m := range ms {
		fmt.Fprintf(tw, "%c\t%.3f\t%.3f\t%+.3f\t\n", m.Glyph, m.Declared, m.Measured, m.Delta())
		sumAbs += math.Abs(m.Delta())
	}
	tw.Flush()

	if len(ms) > 0 {
		fmt.Fprintf(w, "Mean absolute delta over %d glyphs: %.3f\n", len(ms), sumAbs/float64(len(ms)))
	}
	if len(missing) > 0 {
		fmt.Fprintf(w, "Missing from font: %s\n", string(missing))
	}
}

// saveGlyphData writes the bitmaps as gzip-compressed gob.
func saveGlyphData(data *GlyphData, path string) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(data); err != nil {
		gz.Close()
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to close gzip: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func loadGlyphData(path string) (*GlyphData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip: %w", err)
	}
	defer gz.Close()
	var data GlyphData
	if err := gob.NewDecoder(gz).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode data: %w", err)
	}
	return &data, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("atlasweights", flag.ContinueOnError)
	flags.SetOutput(stderr)
	fontPath := flags.String("font", "", "Path to a TrueType font (default: Go Mono)")
	outputFile := flags.String("output", "", "Also save the measured bitmaps to this file")
	byDelta := flags.Bool("sort", false, "Sort by absolute delta, largest first")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	fb, err := quanttxt.LoadFontBitmaps(*fontPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load font: %v\n", err)
		return 1
	}

	ms, missing := measure(fb)
	if *byDelta {
		sort.SliceStable(ms, func(i, j int) bool {
			return math.Abs(ms[i].Delta()) > math.Abs(ms[j].Delta())
		})
	}
	report(stdout, fb.Name(), ms, missing)

	if *outputFile != "" {
		data := &GlyphData{FontName: fb.Name(), Glyphs: make(map[rune]quanttxt.GlyphBitmap)}
		for _, e := range quanttxt.Atlas() {
			if bitmap, ok := fb.Glyph(e.Glyph); ok {
				data.Glyphs[e.Glyph] = bitmap
			}
		}
		if err := saveGlyphData(data, *outputFile); err != nil {
			fmt.Fprintf(stderr, "Failed to save glyph data: %v\n", err)
			return 1
		}
		fmt.Fprintf(stderr, "Saved %d glyph bitmaps to %s\n", len(data.Glyphs), *outputFile)
	}
	return 0
}
