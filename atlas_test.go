package quanttxt

import "testing"

func TestNearestGlyphExtremes(t *testing.T) {
	minEntry, maxEntry := atlas[0], atlas[0]
	for _, e := range atlas {
		if e.Weight < minEntry.Weight {
			minEntry = e
		}
		if e.Weight > maxEntry.Weight {
			maxEntry = e
		}
	}

	if got := NearestGlyph(0.0); got != minEntry.Glyph {
		t.Errorf("Expected minimum-weight glyph %q, got %q", minEntry.Glyph, got)
	}
	if got := NearestGlyph(1.0); got != maxEntry.Glyph {
		t.Errorf("Expected maximum-weight glyph %q, got %q", maxEntry.Glyph, got)
	}
	if got := NearestGlyph(1.0); got != '█' {
		t.Errorf("Expected full block for weight 1, got %q", got)
	}
}

func TestNearestGlyphClampsOutOfRange(t *testing.T) {
	if NearestGlyph(-3) != NearestGlyph(0) {
		t.Error("Negative weights should behave like 0")
	}
	if NearestGlyph(7) != NearestGlyph(1) {
		t.Error("Weights above 1 should behave like 1")
	}
}

func TestNearestGlyphTieBreaksInTableOrder(t *testing.T) {
	tests := []struct {
		weight float64
		want   rune
	}{
		// '▄', '▀', '▌' and '▐' all weigh 0.3; the first declared wins.
		{0.3, '▄'},
		// 0.5 is shared by many quadrant and triangle glyphs.
		{0.5, '▙'},
		// 0.8 first appears at '◢'.
		{0.8, '◢'},
		{0.81, '◢'},
		// 0.9 first appears at '■'.
		{0.9, '■'},
	}
	for _, tt := range tests {
		if got := NearestGlyph(tt.weight); got != tt.want {
			t.Errorf("Expected %q for weight %v, got %q", tt.want, tt.weight, got)
		}
	}
}

func TestNearestGlyphMatchesLinearScan(t *testing.T) {
	for i := 0; i <= 1000; i++ {
		w := float64(i) / 1000
		got := nearestEntry(w)
		for j := 0; j < got; j++ {
			if absFloat(atlas[j].Weight-w) <= absFloat(atlas[got].Weight-w) {
				t.Fatalf("Weight %v: entry %d (%q) is at least as close as chosen %d (%q)",
					w, j, atlas[j].Glyph, got, atlas[got].Glyph)
			}
		}
		for j := got + 1; j < AtlasSize; j++ {
			if absFloat(atlas[j].Weight-w) < absFloat(atlas[got].Weight-w) {
				t.Fatalf("Weight %v: later entry %d (%q) is strictly closer", w, j, atlas[j].Glyph)
			}
		}
	}
}

func TestAtlasReturnsCopy(t *testing.T) {
	entries := Atlas()
	if len(entries) != AtlasSize {
		t.Fatalf("Expected %d entries, got %d", AtlasSize, len(entries))
	}
	entries[0].Glyph = 'X'
	if atlas[0].Glyph == 'X' {
		t.Error("Modifying Atlas() result should not affect the table")
	}
}

func TestAtlasWeightsInRange(t *testing.T) {
	for i, e := range atlas {
		if e.Weight < 0 || e.Weight > 1 {
			t.Errorf("Entry %d (%q) has weight %v outside [0, 1]", i, e.Glyph, e.Weight)
		}
	}
}

func TestGlyphForLuminance(t *testing.T) {
	if got := GlyphForLuminance(1.0); got != ' ' {
		t.Errorf("Expected space for white, got %q", got)
	}
	if got := GlyphForLuminance(0.0); got != '█' {
		t.Errorf("Expected full block for black, got %q", got)
	}
}
