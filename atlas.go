package quanttxt

// AtlasEntry is one glyph of the character atlas. Weight is the glyph's
// optical darkness in [0, 1] (0 renders as paper, 1 as solid ink) and
// Density is the fraction of its cell the glyph covers.
type AtlasEntry struct {
	Glyph   rune
	Weight  float64
	Density float64
}

// atlas is the fixed glyph table, ordered lightest group first. Several
// glyphs appear twice with different weights and several weights are
// shared; lookups resolve ties by position in this table.
var atlas = [...]AtlasEntry{
	{' ', 0.0, 0.0},
	{'·', 0.05, 0.1},
	{'░', 0.15, 0.2},
	{'▒', 0.25, 0.3},
	{'▓', 0.35, 0.4},
	{'▄', 0.3, 0.35},
	{'▀', 0.3, 0.35},
	{'▌', 0.3, 0.35},
	{'▐', 0.3, 0.35},
	{'▖', 0.4, 0.45},
	{'▗', 0.4, 0.45},
	{'▘', 0.4, 0.45},
	{'▙', 0.5, 0.55},
	{'▚', 0.5, 0.55},
	{'▛', 0.5, 0.55},
	{'▜', 0.5, 0.55},
	{'▝', 0.4, 0.45},
	{'▞', 0.5, 0.55},
	{'▟', 0.5, 0.55},
	{'▱', 0.45, 0.5},
	{'▰', 0.55, 0.6},
	{'▲', 0.5, 0.55},
	{'△', 0.5, 0.55},
	{'▴', 0.5, 0.55},
	{'▵', 0.45, 0.5},
	{'▸', 0.5, 0.55},
	{'▹', 0.5, 0.55},
	{'►', 0.5, 0.55},
	{'▻', 0.5, 0.55},
	{'◐', 0.6, 0.65},
	{'◑', 0.6, 0.65},
	{'◒', 0.55, 0.6},
	{'◓', 0.55, 0.6},
	{'◔', 0.5, 0.55},
	{'◕', 0.65, 0.7},
	{'◖', 0.6, 0.65},
	{'◗', 0.6, 0.65},
	{'◘', 0.7, 0.75},
	{'◙', 0.7, 0.75},
	{'◚', 0.65, 0.7},
	{'◛', 0.65, 0.7},
	{'◜', 0.65, 0.7},
	{'◝', 0.65, 0.7},
	{'◞', 0.65, 0.7},
	{'◟', 0.65, 0.7},
	{'◠', 0.75, 0.8},
	{'◡', 0.75, 0.8},
	{'◢', 0.8, 0.85},
	{'◣', 0.8, 0.85},
	{'◤', 0.8, 0.85},
	{'◥', 0.8, 0.85},
	{'◦', 0.7, 0.75},
	{'◬', 0.75, 0.8},
	{'◭', 0.75, 0.8},
	{'◮', 0.75, 0.8},
	{'◯', 0.85, 0.9},
	{'◰', 0.8, 0.85},
	{'◱', 0.8, 0.85},
	{'◲', 0.8, 0.85},
	{'◳', 0.8, 0.85},
	{'◴', 0.8, 0.85},
	{'◵', 0.8, 0.85},
	{'◶', 0.8, 0.85},
	{'◷', 0.8, 0.85},
	{'■', 0.9, 0.95},
	{'□', 0.1, 0.15},
	{'▪', 0.95, 1.0},
	{'▫', 0.05, 0.1},
	{'▬', 0.85, 0.9},
	{'▭', 0.15, 0.2},
	{'▲', 0.9, 0.95},
	{'△', 0.1, 0.15},
	{'●', 0.95, 1.0},
	{'○', 0.05, 0.1},
	{'◆', 0.9, 0.95},
	{'◇', 0.1, 0.15},
	{'◈', 0.5, 0.55},
	{'█', 1.0, 1.0},
	{'▉', 0.95, 1.0},
	{'▊', 0.9, 0.95},
	{'▋', 0.85, 0.9},
	{'▌', 0.75, 0.8},
	{'▍', 0.65, 0.7},
	{'▎', 0.55, 0.6},
	{'▏', 0.45, 0.5},
	{'▐', 0.75, 0.8},
	{'▔', 0.5, 0.55},
	{'▕', 0.5, 0.55},
	{'▖', 0.5, 0.55},
	{'▗', 0.5, 0.55},
	{'▘', 0.5, 0.55},
	{'▙', 0.75, 0.8},
	{'▚', 0.5, 0.55},
	{'▛', 0.75, 0.8},
	{'▜', 0.75, 0.8},
	{'▝', 0.5, 0.55},
	{'▞', 0.5, 0.55},
	{'▟', 0.75, 0.8},
}

// AtlasSize is the number of entries in the character atlas.
const AtlasSize = len(atlas)

// Atlas returns a copy of the character atlas in table order.
func Atlas() []AtlasEntry {
	entries := make([]AtlasEntry, AtlasSize)
	copy(entries, atlas[:])
	return entries
}

// NearestGlyph returns the atlas glyph whose weight is closest to weight.
// Weights outside [0, 1] are clamped. When several entries are equally
// close the one declared first in the table wins.
func NearestGlyph(weight float64) rune {
	return atlas[nearestEntry(weight)].Glyph
}

// nearestEntry returns the index of the entry closest to weight.
func nearestEntry(weight float64) int {
	weight = clampUnit(weight)
	best := 0
	bestDiff := absFloat(atlas[0].Weight - weight)
	for i := 1; i < AtlasSize; i++ {
		if d := absFloat(atlas[i].Weight - weight); d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return best
}

// GlyphForLuminance maps a luminance in [0, 1] (0 black, 1 white) to the
// glyph with the inverse optical weight.
func GlyphForLuminance(luminance float64) rune {
	return NearestGlyph(1 - luminance)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
