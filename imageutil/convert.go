package imageutil

import "image/color"

// ToGrayscale converts an RGBA image to grayscale using the standard
// luminance formula: Y = 0.299*R + 0.587*G + 0.114*B
// This matches the BT.601 standard used by OpenCV's COLOR_BGR2GRAY.
func ToGrayscale(img *RGBAImage) *GrayImage {
	width, height := img.Width(), img.Height()
	gray := NewGrayImage(width, height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := img.GetRGB(x, y)
			lum := (299*int(c.R) + 587*int(c.G) + 114*int(c.B) + 500) / 1000
			gray.SetGray(x, y, color.Gray{Y: clampUint8(lum)})
		}
	}

	return gray
}

// ToGrayscaleFloat converts an RGBA image to grayscale, returning
// floating-point values in the range [0, 255] for higher precision.
func ToGrayscaleFloat(img *RGBAImage) [][]float64 {
	width, height := img.Width(), img.Height()
	gray := make([][]float64, height)

	for y := 0; y < height; y++ {
		gray[y] = make([]float64, width)
		for x := 0; x < width; x++ {
			gray[y][x] = Luma601(img.GetRGB(x, y))
		}
	}

	return gray
}

// Luma601 returns 0.299R + 0.587G + 0.114B in the range [0, 255].
func Luma601(c RGB) float64 {
	return 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
}

// Luma709 returns the ITU-R BT.709 weighted sum 0.2126R + 0.7152G + 0.0722B
// in the range [0, 255].
func Luma709(c RGB) float64 {
	return 0.2126*float64(c.R) + 0.7152*float64(c.G) + 0.0722*float64(c.B)
}
