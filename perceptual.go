package quanttxt

import (
	"fmt"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/wbrown/quanttxt/imageutil"
	"gonum.org/v1/gonum/mat"
)

// linearToXYZ is the BT.709 (D65) linear RGB to CIE XYZ matrix.
var linearToXYZ = mat.NewDense(3, 3, []float64{
	0.4124564, 0.3575761, 0.1804375,
	0.2126729, 0.7151522, 0.0721750,
	0.0193339, 0.1191920, 0.9503041,
})

// Row-major copies of the forward and inverse transforms; read-only after init.
var (
	toXYZ   [3][3]float64
	fromXYZ [3][3]float64
)

func init() {
	var inv mat.Dense
	if err := inv.Inverse(linearToXYZ); err != nil {
		panic(fmt.Sprintf("quanttxt: BT.709 matrix is singular: %v", err))
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			toXYZ[i][j] = linearToXYZ.At(i, j)
			fromXYZ[i][j] = inv.At(i, j)
		}
	}
}

// PerceptualLevels returns the number of buckets per XYZ axis used by the
// perceptual quantizer for a palette of numColors.
func PerceptualLevels(numColors int) int {
	return cubeLevels(numColors, 3)
}

// PerceptualColor quantizes one color in XYZ space: decode sRGB gamma,
// transform to XYZ, snap each axis to the lower edge of one of levels
// uniform buckets over [0, 1], transform back and re-encode gamma. It is
// an approximation of perceptual quantization, not a CIELAB quantizer.
func PerceptualColor(c imageutil.RGB, levels int) imageutil.RGB {
	r, g, b := colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}.LinearRgb()

	xyz := mulVec(&toXYZ, [3]float64{r, g, b})
	step := 1 / float64(levels)
	for i, v := range xyz {
		bucket := min(max(math.Floor(v/step), 0), float64(levels-1))
		xyz[i] = bucket * step
	}

	lin := mulVec(&fromXYZ, xyz)
	out := colorful.LinearRgb(clampUnit(lin[0]), clampUnit(lin[1]), clampUnit(lin[2]))
	return imageutil.RGB{
		R: unitToByte(out.R),
		G: unitToByte(out.G),
		B: unitToByte(out.B),
	}
}

func quantizePerceptual(img *imageutil.RGBAImage, numColors, workers int) (*imageutil.RGBAImage, error) {
	levels := PerceptualLevels(numColors)
	out := imageutil.NewRGBAImage(img.Width(), img.Height())
	err := forEachBand(img.Height(), workers, func(y0, y1 int) error {
		cache := make(map[imageutil.RGB]imageutil.RGB)
		for y := y0; y < y1; y++ {
			for x := 0; x < img.Width(); x++ {
				c := img.GetRGB(x, y)
				q, ok := cache[c]
				if !ok {
					q = PerceptualColor(c, levels)
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

func mulVec(m *[3][3]float64, v [3]float64) [3]float64 {
	return [3]float64{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

// unitToByte truncates a [0, 1] channel to [0, 255].
func unitToByte(v float64) uint8 {
	return clampUint8(int(clampUnit(v) * 255))
}
