package quanttxt

import (
	"cmp"
	"math"
	"slices"

	"github.com/wbrown/quanttxt/imageutil"
)

// ColorNode represents a node in a KD-tree over palette colors. Each node
// holds one palette entry, its position in the palette, and the axis its
// children are split on.
type ColorNode struct {
	Color       imageutil.RGB
	Index       int
	Left, Right *ColorNode
	SplitAxis   int
}

// PaletteTree answers nearest-color queries against a fixed palette with
// the same result as Palette.NearestIndex, including its lowest-index
// tie-break. It is read-only once built and safe for concurrent use.
type PaletteTree struct {
	root *ColorNode
}

type indexedColor struct {
	color imageutil.RGB
	index int
}

// NewPaletteTree builds a KD-tree from the palette.
func NewPaletteTree(palette Palette) *PaletteTree {
	entries := make([]indexedColor, len(palette))
	for i, c := range palette {
		entries[i] = indexedColor{color: c, index: i}
	}
	return &PaletteTree{root: buildKDTree(entries)}
}

// buildKDTree constructs a KD-tree from a list of palette entries, choosing
// at each level the axis with the largest variance and splitting at the
// median. Entries equal to the median on the split axis may land on either
// side, which the search accounts for.
func buildKDTree(entries []indexedColor) *ColorNode {
	if len(entries) == 0 {
		return nil
	}

	axis := chooseSplitAxis(entries)
	slices.SortFunc(entries, func(a, b indexedColor) int {
		if c := cmp.Compare(getColorComponent(a.color, axis), getColorComponent(b.color, axis)); c != 0 {
			return c
		}
		return cmp.Compare(a.index, b.index)
	})

	median := len(entries) / 2
	return &ColorNode{
		Color:     entries[median].color,
		Index:     entries[median].index,
		Left:      buildKDTree(entries[:median]),
		Right:     buildKDTree(entries[median+1:]),
		SplitAxis: axis,
	}
}

// chooseSplitAxis returns the index of the channel with the largest
// variance, preferring R, then G, then B on ties.
func chooseSplitAxis(entries []indexedColor) int {
	var mean [3]float64
	for _, e := range entries {
		for ch := 0; ch < 3; ch++ {
			mean[ch] += float64(getColorComponent(e.color, ch))
		}
	}
	for ch := range mean {
		mean[ch] /= float64(len(entries))
	}

	var variance [3]float64
	for _, e := range entries {
		for ch := 0; ch < 3; ch++ {
			d := float64(getColorComponent(e.color, ch)) - mean[ch]
			variance[ch] += d * d
		}
	}

	axis := 0
	for ch := 1; ch < 3; ch++ {
		if variance[ch] > variance[axis] {
			axis = ch
		}
	}
	return axis
}

// getColorComponent returns the channel of color selected by axis
// (0 = R, 1 = G, 2 = B).
func getColorComponent(color imageutil.RGB, axis int) uint8 {
	switch axis {
	case 0:
		return color.R
	case 1:
		return color.G
	default:
		return color.B
	}
}

// Nearest returns the palette index closest to target, or -1 if the tree
// is empty.
func (t *PaletteTree) Nearest(target imageutil.RGB) int {
	best, bestDist := -1, math.MaxInt
	t.root.nearestNeighbor(target, &best, &bestDist)
	return best
}

// nearestNeighbor walks the subtree, updating best and bestDist whenever
// a closer entry, or an equally close entry with a lower index, is found.
func (node *ColorNode) nearestNeighbor(target imageutil.RGB, best, bestDist *int) {
	if node == nil {
		return
	}

	d := sqDistance(target, node.Color)
	if d < *bestDist || (d == *bestDist && node.Index < *best) {
		*best, *bestDist = node.Index, d
	}

	diff := int(getColorComponent(target, node.SplitAxis)) -
		int(getColorComponent(node.Color, node.SplitAxis))
	near, far := node.Left, node.Right
	if diff >= 0 {
		near, far = node.Right, node.Left
	}

	near.nearestNeighbor(target, best, bestDist)
	// Equal distance must still be explored for the index tie-break.
	if diff*diff <= *bestDist {
		far.nearestNeighbor(target, best, bestDist)
	}
}
