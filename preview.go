package quanttxt

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math/bits"
	"os"
	"strings"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"github.com/wbrown/quanttxt/imageutil"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
)

const (
	// GlyphWidth and GlyphHeight define the character cell size of the
	// bitmap renderer.
	GlyphWidth  = 8
	GlyphHeight = 8
)

// GlyphBitmap represents an 8x8 character as a 64-bit integer
// Each bit represents a pixel: 1 = foreground, 0 = background
type GlyphBitmap uint64

// getBit checks if a specific bit is set in the bitmap
func (g GlyphBitmap) getBit(x, y int) bool {
	if x < 0 || x >= GlyphWidth || y < 0 || y >= GlyphHeight {
		return false
	}
	return g&(1<<(y*GlyphWidth+x)) != 0
}

// setBit sets a specific bit in the bitmap
func (g *GlyphBitmap) setBit(x, y int, value bool) {
	if x < 0 || x >= GlyphWidth || y < 0 || y >= GlyphHeight {
		return
	}
	pos := y*GlyphWidth + x
	if value {
		*g |= 1 << pos
	} else {
		*g &= ^(1 << pos)
	}
}

// Coverage returns the fraction of the cell that is foreground.
func (g GlyphBitmap) Coverage() float64 {
	return float64(bits.OnesCount64(uint64(g))) / (GlyphWidth * GlyphHeight)
}

// FontBitmaps holds pre-rendered bitmaps for the atlas glyphs and printable
// ASCII. It is read-only after loading.
type FontBitmaps struct {
	glyphs map[rune]GlyphBitmap
	name   string
}

// LoadFontBitmaps renders the glyph set from a TrueType file. An empty path
// selects the bundled Go Mono font.
func LoadFontBitmaps(path string) (*FontBitmaps, error) {
	if path == "" {
		f, err := freetype.ParseFont(gomono.TTF)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Go Mono: %w", err)
		}
		return NewFontBitmaps(f, "Go Mono"), nil
	}

	fontBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font: %w", err)
	}
	f, err := freetype.ParseFont(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font %s: %w", path, err)
	}
	return NewFontBitmaps(f, path), nil
}

// NewFontBitmaps pre-renders printable ASCII and every atlas glyph.
func NewFontBitmaps(ttfFont *truetype.Font, name string) *FontBitmaps {
	fb := &FontBitmaps{
		glyphs: make(map[rune]GlyphBitmap),
		name:   name,
	}
	for r := rune(32); r <= rune(126); r++ {
		fb.glyphs[r] = renderGlyphToBitmap(ttfFont, r)
	}
	for _, e := range atlas {
		if _, ok := fb.glyphs[e.Glyph]; !ok {
			fb.glyphs[e.Glyph] = renderGlyphToBitmap(ttfFont, e.Glyph)
		}
	}
	return fb
}

// Name returns the font name or path the bitmaps came from.
func (fb *FontBitmaps) Name() string {
	return fb.name
}

// Glyph returns the bitmap for a character.
func (fb *FontBitmaps) Glyph(r rune) (GlyphBitmap, bool) {
	bitmap, ok := fb.glyphs[r]
	return bitmap, ok
}

// renderGlyphToBitmap renders a single glyph to an 8x8 bitmap. Pixels above
// 25% alpha count as set so thin anti-aliased strokes survive, and the
// baseline is placed from the face metrics so descenders are not clipped.
func renderGlyphToBitmap(ttfFont *truetype.Font, r rune) GlyphBitmap {
	face := truetype.NewFace(ttfFont, &truetype.Options{
		Size:    float64(GlyphHeight),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	defer face.Close()

	img := image.NewAlpha(image.Rect(0, 0, GlyphWidth, GlyphHeight))

	ctx := freetype.NewContext()
	ctx.SetDPI(72)
	ctx.SetFont(ttfFont)
	ctx.SetFontSize(float64(GlyphHeight))
	ctx.SetClip(img.Bounds())
	ctx.SetDst(img)
	ctx.SetSrc(image.White)
	ctx.SetHinting(font.HintingFull)

	metrics := face.Metrics()
	ascent := metrics.Ascent.Round()
	descent := metrics.Descent.Round()
	baselineY := (GlyphHeight + ascent - descent) / 2

	if _, err := ctx.DrawString(string(r), freetype.Pt(0, baselineY)); err != nil {
		return 0
	}

	var bitmap GlyphBitmap
	for y := 0; y < GlyphHeight; y++ {
		for x := 0; x < GlyphWidth; x++ {
			if img.AlphaAt(x, y).A > 64 {
				bitmap.setBit(x, y, true)
			}
		}
	}
	return bitmap
}

// PreviewOptions controls RenderText.
type PreviewOptions struct {
	// Scale multiplies the 8x8 cell; values below 1 mean 1.
	Scale int
	// Foreground is the ink color for text without color escapes.
	Foreground imageutil.RGB
	// Background fills every cell.
	Background imageutil.RGB
}

// DefaultPreviewOptions renders black ink on white paper at scale 1.
func DefaultPreviewOptions() PreviewOptions {
	return PreviewOptions{
		Scale:      1,
		Foreground: imageutil.RGB{},
		Background: imageutil.RGB{R: 255, G: 255, B: 255},
	}
}

// RenderText rasterizes a composed text block, one cell per glyph. 256-color
// foreground escapes as produced by ComposeANSI and CompressANSI set the ink
// color of the glyphs that follow them; a reset restores the default.
// Glyphs the font lacks render as empty cells.
func (fb *FontBitmaps) RenderText(text string, opts PreviewOptions) *image.RGBA {
	scale := max(opts.Scale, 1)
	lines := strings.Split(text, LineSeparator)

	type cell struct {
		r  rune
		fg imageutil.RGB
	}
	rows := make([][]cell, len(lines))
	width := 0
	for y, line := range lines {
		fg := opts.Foreground
		for _, segment := range splitEscapes(line) {
			if segment.escape {
				if code := foregroundCode(segment.fg); code >= 0 {
					fg = ANSI256ToRGB(code)
				} else if segment.reset {
					fg = opts.Foreground
				}
				continue
			}
			for _, r := range segment.text {
				rows[y] = append(rows[y], cell{r: r, fg: fg})
			}
		}
		width = max(width, len(rows[y]))
	}

	charW, charH := GlyphWidth*scale, GlyphHeight*scale
	img := image.NewRGBA(image.Rect(0, 0, width*charW, len(rows)*charH))
	draw.Draw(img, img.Bounds(), &image.Uniform{opts.Background.ToColor()}, image.Point{}, draw.Src)

	for y, row := range rows {
		for x, c := range row {
			bitmap, ok := fb.glyphs[c.r]
			if !ok {
				continue
			}
			renderBitmap(img, bitmap, x*charW, y*charH, scale, c.fg.ToColor())
		}
	}
	return img
}

// renderBitmap paints the set bits of a GlyphBitmap at the given position
// with scaling.
func renderBitmap(img *image.RGBA, bitmap GlyphBitmap, startX, startY, scale int, fg color.RGBA) {
	for y := 0; y < GlyphHeight; y++ {
		for x := 0; x < GlyphWidth; x++ {
			if !bitmap.getBit(x, y) {
				continue
			}
			rect := image.Rect(startX+x*scale, startY+y*scale, startX+(x+1)*scale, startY+(y+1)*scale)
			draw.Draw(img, rect, &image.Uniform{fg}, image.Point{}, draw.Src)
		}
	}
}

type textSegment struct {
	escape bool
	reset  bool
	fg     string
	text   string
}

// splitEscapes splits a line into SGR escape sequences and the text
// between them.
func splitEscapes(line string) []textSegment {
	var out []textSegment
	for len(line) > 0 {
		i := strings.Index(line, ESC+"[")
		if i < 0 {
			out = append(out, textSegment{text: line})
			break
		}
		if i > 0 {
			out = append(out, textSegment{text: line[:i]})
		}
		rest := line[i+2:]
		end := strings.IndexByte(rest, 'm')
		if end < 0 {
			break
		}
		params := rest[:end]
		fg, _ := extractColors(params)
		out = append(out, textSegment{
			escape: true,
			reset:  params == "" || params == "0",
			fg:     fg,
		})
		line = rest[end+1:]
	}
	return out
}
