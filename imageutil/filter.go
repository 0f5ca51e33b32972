package imageutil

import (
	"math"

	"github.com/disintegration/gift"
)

// MidGray is the pivot used by AdjustContrast.
const MidGray = 128

// MedianFilter replaces every pixel with the per-channel median of its
// size x size neighborhood. Pixels outside the image repeat the nearest
// edge pixel. Size should be odd; a size below 2 returns a copy.
func MedianFilter(img *RGBAImage, size int) *RGBAImage {
	if size < 2 {
		return img.Clone()
	}
	g := gift.New(gift.Median(size, false))
	dst := NewRGBAImage(img.Width(), img.Height())
	g.Draw(dst.RGBA, img.RGBA)
	return opaque(dst)
}

// AdjustContrast scales every channel's deviation from MidGray by factor
// and clips the result to [0, 255]. A factor of 1 leaves the image
// unchanged.
func AdjustContrast(img *RGBAImage, factor float64) *RGBAImage {
	lut := ContrastTable(factor)
	dst := NewRGBAImage(img.Width(), img.Height())
	for y := 0; y < img.Height(); y++ {
		for x := 0; x < img.Width(); x++ {
			c := img.GetRGB(x, y)
			dst.SetRGB(x, y, RGB{R: lut[c.R], G: lut[c.G], B: lut[c.B]})
		}
	}
	return dst
}

// ContrastTable returns the channel lookup table used by AdjustContrast.
func ContrastTable(factor float64) [256]uint8 {
	var lut [256]uint8
	for v := 0; v < 256; v++ {
		out := MidGray + (float64(v)-MidGray)*factor
		lut[v] = clampUint8(int(math.Round(out)))
	}
	return lut
}

// clampUint8 clamps an integer to the range [0, 255].
func clampUint8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
