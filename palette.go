package quanttxt

import (
	"fmt"
	"math"

	"github.com/wbrown/quanttxt/imageutil"
)

// Palette is an ordered list of colors. Position matters: nearest-color
// ties resolve to the lowest index.
type Palette []imageutil.RGB

// NearestIndex returns the index of the palette color with the smallest
// squared Euclidean RGB distance to c, scanning every entry. It returns
// -1 for an empty palette.
func (p Palette) NearestIndex(c imageutil.RGB) int {
	best, bestDist := -1, math.MaxInt
	for i, pc := range p {
		if d := sqDistance(c, pc); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// ApplyPalette maps every pixel of img to its nearest palette color and
// returns the new raster. Rows are processed in parallel bands, each with
// its own lookup cache.
func ApplyPalette(img *imageutil.RGBAImage, palette Palette, workers int) (*imageutil.RGBAImage, error) {
	if len(palette) == 0 {
		return nil, fmt.Errorf("%w: empty palette", ErrQuantization)
	}
	tree := NewPaletteTree(palette)
	out := imageutil.NewRGBAImage(img.Width(), img.Height())

	err := forEachBand(img.Height(), workers, func(y0, y1 int) error {
		cache := make(map[imageutil.RGB]imageutil.RGB)
		for y := y0; y < y1; y++ {
			for x := 0; x < img.Width(); x++ {
				c := img.GetRGB(x, y)
				q, ok := cache[c]
				if !ok {
					q = palette[tree.Nearest(c)]
					cache[c] = q
				}
				out.SetRGB(x, y, q)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuantization, err)
	}
	return out, nil
}

// sqDistance returns the squared Euclidean distance between two colors.
func sqDistance(a, b imageutil.RGB) int {
	dr := int(a.R) - int(b.R)
	dg := int(a.G) - int(b.G)
	db := int(a.B) - int(b.B)
	return dr*dr + dg*dg + db*db
}
