package quanttxt

import (
	"cmp"
	"slices"

	"github.com/wbrown/quanttxt/imageutil"
)

// colorBox is a set of pixels together with the channel along which it
// spans the widest range.
type colorBox struct {
	pixels  []imageutil.RGB
	spread  int
	channel int
}

func newColorBox(pixels []imageutil.RGB) colorBox {
	box := colorBox{pixels: pixels}
	if len(pixels) == 0 {
		return box
	}
	lo := [3]uint8{255, 255, 255}
	var hi [3]uint8
	for _, p := range pixels {
		for ch := 0; ch < 3; ch++ {
			v := getColorComponent(p, ch)
			lo[ch] = min(lo[ch], v)
			hi[ch] = max(hi[ch], v)
		}
	}
	for ch := 0; ch < 3; ch++ {
		if r := int(hi[ch]) - int(lo[ch]); r > box.spread {
			box.spread, box.channel = r, ch
		}
	}
	return box
}

// mean returns the channel-wise average of the box, truncated.
func (b colorBox) mean() imageutil.RGB {
	var sr, sg, sb int
	for _, p := range b.pixels {
		sr += int(p.R)
		sg += int(p.G)
		sb += int(p.B)
	}
	n := len(b.pixels)
	return imageutil.RGB{R: uint8(sr / n), G: uint8(sg / n), B: uint8(sb / n)}
}

// MedianCutPalette builds a palette of exactly numColors entries from
// pixels. Starting with one box holding every pixel, it repeatedly takes
// the box with the widest channel range (the earliest box on ties), sorts
// it along that channel and splits it at its median index. Boxes whose
// pixels are all identical are never split, so no box is ever empty. Each
// box contributes its mean color in creation order; when the pixels run
// out of distinct colors the remaining entries are black.
func MedianCutPalette(pixels []imageutil.RGB, numColors int) Palette {
	if numColors <= 0 {
		return nil
	}
	palette := make(Palette, numColors)
	if len(pixels) == 0 {
		return palette
	}

	boxes := []colorBox{newColorBox(slices.Clone(pixels))}
	for len(boxes) < numColors {
		pick := -1
		for i, b := range boxes {
			if b.spread > 0 && (pick < 0 || b.spread > boxes[pick].spread) {
				pick = i
			}
		}
		if pick < 0 {
			break
		}

		box := boxes[pick]
		ch := box.channel
		slices.SortStableFunc(box.pixels, func(p, q imageutil.RGB) int {
			return cmp.Compare(getColorComponent(p, ch), getColorComponent(q, ch))
		})
		mid := len(box.pixels) / 2
		boxes[pick] = newColorBox(box.pixels[:mid])
		boxes = append(boxes, newColorBox(box.pixels[mid:]))
	}

	for i, b := range boxes {
		palette[i] = b.mean()
	}
	return palette
}
