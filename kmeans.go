package quanttxt

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"github.com/wbrown/quanttxt/imageutil"
)

// maxKMeansSamples caps the observations handed to k-means; larger rasters
// are sampled on a regular stride.
const maxKMeansSamples = 12000

// KMeansPalette clusters pixels in normalized RGB and returns a palette of
// exactly numColors entries: cluster centers ordered by population, largest
// first, padded with black when fewer clusters exist. Seeding is random, so
// repeated calls may return different palettes.
func KMeansPalette(pixels []imageutil.RGB, numColors int) (Palette, error) {
	if numColors <= 0 {
		return nil, nil
	}
	palette := make(Palette, numColors)
	if len(pixels) == 0 {
		return palette, nil
	}

	stride := 1
	if len(pixels) > maxKMeansSamples {
		stride = int(math.Ceil(float64(len(pixels)) / maxKMeansSamples))
	}
	dataset := make(clusters.Observations, 0, len(pixels)/stride+1)
	distinct := make(map[imageutil.RGB]struct{})
	for i := 0; i < len(pixels); i += stride {
		p := pixels[i]
		distinct[p] = struct{}{}
		dataset = append(dataset, clusters.Coordinates{
			float64(p.R) / 255,
			float64(p.G) / 255,
			float64(p.B) / 255,
		})
	}

	k := min(numColors, len(distinct))
	km := kmeans.New()
	cc, err := km.Partition(dataset, k)
	if err != nil {
		return nil, fmt.Errorf("%w: k-means partition: %v", ErrQuantization, err)
	}

	slices.SortStableFunc(cc, func(a, b clusters.Cluster) int {
		return cmp.Compare(len(b.Observations), len(a.Observations))
	})

	i := 0
	for _, c := range cc {
		if len(c.Center) < 3 || len(c.Observations) == 0 {
			continue
		}
		palette[i] = imageutil.RGB{
			R: unitToByte(c.Center[0] + 0.5/255),
			G: unitToByte(c.Center[1] + 0.5/255),
			B: unitToByte(c.Center[2] + 0.5/255),
		}
		i++
	}
	return palette, nil
}
