package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/quanttxt"
)

func TestMeasureGoMono(t *testing.T) {
	fb, err := quanttxt.LoadFontBitmaps("")
	require.NoError(t, err)

	ms, missing := measure(fb)
	assert.Empty(t, missing)
	require.Len(t, ms, len(quanttxt.Atlas()))
	for _, m := range ms {
		assert.GreaterOrEqual(t, m.Measured, 0.0)
		assert.LessOrEqual(t, m.Measured, 1.0)
	}
	assert.Equal(t, ' ', ms[0].Glyph)
	assert.Zero(t, ms[0].Measured)
}

func TestRunWritesGlyphData(t *testing.T) {
	out := filepath.Join(t.TempDir(), "gomono.glyphs")
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"-output", out, "-sort"}, &stdout, &stderr), stderr.String())

	assert.True(t, strings.HasPrefix(stdout.String(), "Font: Go Mono\n"))
	assert.Contains(t, stdout.String(), "Mean absolute delta")

	data, err := loadGlyphData(out)
	require.NoError(t, err)
	assert.Equal(t, "Go Mono", data.FontName)
	fb, err := quanttxt.LoadFontBitmaps("")
	require.NoError(t, err)
	for r, bitmap := range data.Glyphs {
		want, ok := fb.Glyph(r)
		require.True(t, ok)
		assert.Equal(t, want, bitmap, "glyph %c", r)
	}
}

func TestRunMissingFont(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"-font", filepath.Join(t.TempDir(), "none.ttf")}, &stdout, &stderr))
}
