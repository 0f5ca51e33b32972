package quanttxt

import (
	"image"

	"github.com/wbrown/quanttxt/imageutil"
)

// Quality thresholds for the preprocessing and quantization tiers.
const (
	// ContrastQuality is the lowest quality that stretches contrast.
	ContrastQuality = 5
	// HighQuality is the lowest quality that denoises and leaves the
	// uniform quantizer.
	HighQuality = 7

	// ContrastFactor scales each channel's distance from mid-gray.
	ContrastFactor = 1.1
	// DenoiseWindow is the median filter size.
	DenoiseWindow = 3
)

// Preprocess normalizes img to opaque RGB and applies the quality tiered
// adjustments: a 3x3 median denoise from quality 7 and a 1.1x contrast
// stretch around mid-gray from quality 5. The result has the same
// dimensions as img and never aliases it.
func Preprocess(img image.Image, quality int) *imageutil.RGBAImage {
	out := imageutil.RGBAImageFromImage(img)
	if quality >= HighQuality {
		out = imageutil.MedianFilter(out, DenoiseWindow)
	}
	if quality >= ContrastQuality {
		out = imageutil.AdjustContrast(out, ContrastFactor)
	}
	return out
}

// ResizeToGrid resamples img to exactly width x height with a Lanczos
// kernel. Each output pixel becomes one character cell.
func ResizeToGrid(img *imageutil.RGBAImage, width, height int) *imageutil.RGBAImage {
	return imageutil.Resize(img, width, height, imageutil.InterpolationLanczos)
}
