package quanttxt

import (
	"strings"

	"github.com/wbrown/quanttxt/imageutil"
)

const (
	// SaturationThreshold is the saturation above which luminance is boosted.
	SaturationThreshold = 0.3
	// SaturationBoost scales the boost: Y' = Y * (1 + saturation*boost).
	SaturationBoost = 0.1

	// LineSeparator joins the rows of a composed text block.
	LineSeparator = "\n"
)

// Luminance returns the BT.709 luma of c normalized to [0, 1].
func Luminance(c imageutil.RGB) float64 {
	return imageutil.Luma709(c) / 255
}

// Saturation returns (max - min) / max over the channels of c, or 0 for
// black. The result is in [0, 1].
func Saturation(c imageutil.RGB) float64 {
	hi := max(c.R, c.G, c.B)
	if hi == 0 {
		return 0
	}
	lo := min(c.R, c.G, c.B)
	return float64(hi-lo) / float64(hi)
}

// AdjustedLuminance returns the luminance of c, brightened for strongly
// saturated colors so they do not render as dark as their luma suggests.
func AdjustedLuminance(c imageutil.RGB) float64 {
	y := Luminance(c)
	if s := Saturation(c); s > SaturationThreshold {
		y = clampUnit(y * (1 + s*SaturationBoost))
	}
	return y
}

// OpticalWeight returns the glyph darkness that represents c.
func OpticalWeight(c imageutil.RGB) float64 {
	return 1 - AdjustedLuminance(c)
}

// Compose turns a quantized raster into a text block: one glyph per pixel,
// one line per row, rows joined by LineSeparator without a trailing one.
func Compose(img *imageutil.RGBAImage) string {
	text, _ := compose(img, 1)
	return text
}

func compose(img *imageutil.RGBAImage, workers int) (string, error) {
	return composeRows(img, workers, func(sb *strings.Builder, row []imageutil.RGB, cache map[imageutil.RGB]rune) {
		for _, c := range row {
			g, ok := cache[c]
			if !ok {
				g = NearestGlyph(OpticalWeight(c))
				cache[c] = g
			}
			sb.WriteRune(g)
		}
	})
}

// composeRows renders every row with renderRow in parallel bands and joins
// the lines in row order.
func composeRows(
	img *imageutil.RGBAImage,
	workers int,
	renderRow func(sb *strings.Builder, row []imageutil.RGB, cache map[imageutil.RGB]rune),
) (string, error) {
	lines := make([]string, img.Height())
	err := forEachBand(img.Height(), workers, func(y0, y1 int) error {
		cache := make(map[imageutil.RGB]rune)
		var sb strings.Builder
		for y := y0; y < y1; y++ {
			sb.Reset()
			renderRow(&sb, img.Row(y), cache)
			lines[y] = sb.String()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return strings.Join(lines, LineSeparator), nil
}
