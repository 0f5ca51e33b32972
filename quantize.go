package quanttxt

import (
	"fmt"
	"math"
	"runtime"
	"strings"

	"github.com/wbrown/quanttxt/imageutil"
	"golang.org/x/sync/errgroup"
)

// Algorithm selects how a raster's colors are reduced.
type Algorithm int

const (
	// AlgorithmAuto picks an algorithm from the quality level.
	AlgorithmAuto Algorithm = iota
	// AlgorithmUniform buckets each channel independently.
	AlgorithmUniform
	// AlgorithmPerceptual buckets in CIE XYZ space.
	AlgorithmPerceptual
	// AlgorithmMedianCut builds an adaptive palette by median cut.
	AlgorithmMedianCut
	// AlgorithmKMeans builds an adaptive palette by k-means clustering.
	AlgorithmKMeans
)

var algorithmNames = map[Algorithm]string{
	AlgorithmAuto:       "auto",
	AlgorithmUniform:    "uniform",
	AlgorithmPerceptual: "perceptual",
	AlgorithmMedianCut:  "mediancut",
	AlgorithmKMeans:     "kmeans",
}

func (a Algorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// ParseAlgorithm converts a name such as "mediancut" to an Algorithm.
// The empty string parses as AlgorithmAuto.
func ParseAlgorithm(name string) (Algorithm, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return AlgorithmAuto, nil
	}
	for alg, n := range algorithmNames {
		if n == name {
			return alg, nil
		}
	}
	return AlgorithmAuto, fmt.Errorf("unknown algorithm %q", name)
}

// SelectAlgorithm applies the quality policy: uniform below quality 7,
// then median cut in advanced mode or perceptual bucketing otherwise.
func SelectAlgorithm(quality int, advanced bool) Algorithm {
	switch {
	case quality < HighQuality:
		return AlgorithmUniform
	case advanced:
		return AlgorithmMedianCut
	default:
		return AlgorithmPerceptual
	}
}

// Quantize reduces the colors of img for the given quality level and
// returns a new raster of the same size. AlgorithmAuto resolves as
// SelectAlgorithm(quality, true). Errors wrap ErrQuantization.
func Quantize(img *imageutil.RGBAImage, quality int, alg Algorithm) (*imageutil.RGBAImage, error) {
	return quantize(img, quality, alg, runtime.GOMAXPROCS(0))
}

func quantize(img *imageutil.RGBAImage, quality int, alg Algorithm, workers int) (*imageutil.RGBAImage, error) {
	if img == nil || img.Width() == 0 || img.Height() == 0 {
		return nil, fmt.Errorf("%w: empty raster", ErrQuantization)
	}
	if alg == AlgorithmAuto {
		alg = SelectAlgorithm(quality, true)
	}

	numColors := NumColors(quality)
	switch alg {
	case AlgorithmUniform:
		return mapChannels(img, UniformTable(quality)), nil
	case AlgorithmPerceptual:
		return quantizePerceptual(img, numColors, workers)
	case AlgorithmMedianCut:
		return ApplyPalette(img, MedianCutPalette(img.Pixels(), numColors), workers)
	case AlgorithmKMeans:
		palette, err := KMeansPalette(img.Pixels(), numColors)
		if err != nil {
			return nil, err
		}
		return ApplyPalette(img, palette, workers)
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %v", ErrQuantization, alg)
	}
}

// UniformLevels returns the number of buckets per channel used by the
// uniform quantizer for a palette of numColors.
func UniformLevels(numColors int) int {
	return cubeLevels(numColors, 2)
}

func cubeLevels(numColors, lowest int) int {
	levels := int(math.Ceil(math.Cbrt(float64(numColors))))
	return min(max(levels, lowest), 8)
}

// UniformTable returns the channel lookup table of the uniform quantizer.
// With step = 256/levels, channel v becomes floor(v/step)*step truncated
// to an integer and clipped to [0, 255]. The table is idempotent only
// when levels divides 256.
func UniformTable(quality int) [256]uint8 {
	levels := UniformLevels(NumColors(quality))
	step := 256.0 / float64(levels)
	var lut [256]uint8
	for v := 0; v < 256; v++ {
		lut[v] = clampUint8(int(math.Floor(float64(v)/step) * step))
	}
	return lut
}

// mapChannels applies the same per-channel table to every pixel.
func mapChannels(img *imageutil.RGBAImage, lut [256]uint8) *imageutil.RGBAImage {
	out := imageutil.NewRGBAImage(img.Width(), img.Height())
	for y := 0; y < img.Height(); y++ {
		for x := 0; x < img.Width(); x++ {
			c := img.GetRGB(x, y)
			out.SetRGB(x, y, imageutil.RGB{R: lut[c.R], G: lut[c.G], B: lut[c.B]})
		}
	}
	return out
}

// forEachBand splits [0, height) into at most workers contiguous bands and
// runs fn on each concurrently. A panic inside fn is returned as an error.
func forEachBand(height, workers int, fn func(y0, y1 int) error) error {
	if height <= 0 {
		return nil
	}
	workers = max(1, min(workers, height))
	band := (height + workers - 1) / workers

	var g errgroup.Group
	for y0 := 0; y0 < height; y0 += band {
		y1 := min(y0+band, height)
		g.Go(func() (err error) {
			defer func() {
				if v := recover(); v != nil {
					err = fmt.Errorf("panic in rows %d-%d: %v", y0, y1, v)
				}
			}()
			return fn(y0, y1)
		})
	}
	return g.Wait()
}

func clampUint8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
