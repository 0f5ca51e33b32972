package quanttxt

import (
	"testing"

	"github.com/wbrown/quanttxt/imageutil"
)

// impulseImage is a dark gray field with one white pixel in the middle.
func impulseImage() *imageutil.RGBAImage {
	img := imageutil.CreateSolidImage(9, 9, imageutil.RGB{R: 60, G: 60, B: 60})
	img.SetRGB(4, 4, imageutil.RGB{R: 255, G: 255, B: 255})
	return img
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func TestPreprocessQualityTiers(t *testing.T) {
	// 60 stretched by 1.1 around 128 is 53.2; 255 stretched clips at 255.
	const stretched = 53
	tests := []struct {
		quality    int
		background uint8
		center     uint8
	}{
		{1, 60, 255},
		{4, 60, 255},
		{5, stretched, 255},
		{6, stretched, 255},
		{7, stretched, stretched},
		{10, stretched, stretched},
	}
	for _, tt := range tests {
		src := impulseImage()
		out := Preprocess(src, tt.quality)

		if out.Width() != src.Width() || out.Height() != src.Height() {
			t.Fatalf("Quality %d: expected %dx%d, got %dx%d",
				tt.quality, src.Width(), src.Height(), out.Width(), out.Height())
		}
		if bg := out.GetRGB(0, 0); absDiff(bg.R, tt.background) > 1 || bg.R != bg.G || bg.G != bg.B {
			t.Errorf("Quality %d: expected background %d, got %v", tt.quality, tt.background, bg)
		}
		if c := out.GetRGB(4, 4); absDiff(c.R, tt.center) > 1 {
			t.Errorf("Quality %d: expected center %d, got %v", tt.quality, tt.center, c)
		}
	}
}

func TestPreprocessBelowContrastTierIsIdentity(t *testing.T) {
	src := impulseImage()
	for q := MinQuality; q < ContrastQuality; q++ {
		if out := Preprocess(src, q); !out.Equal(src) {
			t.Errorf("Quality %d: expected an unchanged raster", q)
		}
	}
}

func TestPreprocessDoesNotAliasInput(t *testing.T) {
	src := impulseImage()
	out := Preprocess(src, MinQuality)
	out.SetRGB(0, 0, imageutil.RGB{R: 1})
	if got := src.GetRGB(0, 0); got.R != 60 {
		t.Errorf("Expected source to stay 60, got %v", got)
	}
}
