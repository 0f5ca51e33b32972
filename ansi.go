package quanttxt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wbrown/quanttxt/imageutil"
)

// ESC introduces ANSI control sequences.
const ESC = "\u001b"

const (
	ansiReset     = ESC + "[0m"
	neutralDelta  = 3
	cubeStep      = 51
	grayRampFirst = 232
)

// RGBToANSI256 maps a color to an xterm 256-color code. Near-neutral colors
// (every pair of channels within 3 of each other) use the grayscale ramp:
// 16 below gray 8, 231 above gray 248, otherwise 232 + (gray-8)/10 capped
// at 255. Everything else uses the 6x6x6 cube with floor(channel/51) per
// axis.
func RGBToANSI256(c imageutil.RGB) int {
	r, g, b := int(c.R), int(c.G), int(c.B)
	if absInt(r-g) < neutralDelta && absInt(g-b) < neutralDelta && absInt(r-b) < neutralDelta {
		gray := (r + g + b) / 3
		switch {
		case gray < 8:
			return 16
		case gray > 248:
			return 231
		default:
			return min(grayRampFirst+(gray-8)/10, 255)
		}
	}
	ri := min(r/cubeStep, 5)
	gi := min(g/cubeStep, 5)
	bi := min(b/cubeStep, 5)
	return 16 + 36*ri + 6*gi + bi
}

// ansiBase16 holds the conventional xterm colors for codes 0-15.
var ansiBase16 = [16]imageutil.RGB{
	{R: 0, G: 0, B: 0}, {R: 128, G: 0, B: 0}, {R: 0, G: 128, B: 0}, {R: 128, G: 128, B: 0},
	{R: 0, G: 0, B: 128}, {R: 128, G: 0, B: 128}, {R: 0, G: 128, B: 128}, {R: 192, G: 192, B: 192},
	{R: 128, G: 128, B: 128}, {R: 255, G: 0, B: 0}, {R: 0, G: 255, B: 0}, {R: 255, G: 255, B: 0},
	{R: 0, G: 0, B: 255}, {R: 255, G: 0, B: 255}, {R: 0, G: 255, B: 255}, {R: 255, G: 255, B: 255},
}

// ANSI256ToRGB returns a representative color for a 256-color code, using
// the same cube and ramp spacing as RGBToANSI256.
func ANSI256ToRGB(code int) imageutil.RGB {
	switch {
	case code < 0:
		return imageutil.RGB{}
	case code < 16:
		return ansiBase16[code]
	case code < grayRampFirst:
		n := code - 16
		return imageutil.RGB{
			R: uint8(n / 36 * cubeStep),
			G: uint8(n / 6 % 6 * cubeStep),
			B: uint8(n % 6 * cubeStep),
		}
	default:
		v := clampUint8(8 + (code-grayRampFirst)*10)
		return imageutil.RGB{R: v, G: v, B: v}
	}
}

// ComposeANSI renders a quantized raster as color-annotated text. Glyphs are
// chosen from BT.601 luma and each one is wrapped in its own foreground
// color escape and reset, one line per row.
func ComposeANSI(img *imageutil.RGBAImage) string {
	text, _ := composeANSI(img, 1)
	return text
}

func composeANSI(img *imageutil.RGBAImage, workers int) (string, error) {
	return composeRows(img, workers, func(sb *strings.Builder, row []imageutil.RGB, cache map[imageutil.RGB]rune) {
		for _, c := range row {
			g, ok := cache[c]
			if !ok {
				g = GlyphForLuminance(imageutil.Luma601(c) / 255)
				cache[c] = g
			}
			fmt.Fprintf(sb, "%s[38;5;%dm%c%s", ESC, RGBToANSI256(c), g, ansiReset)
		}
	})
}

// CompressANSI compresses an ANSI image by combining adjacent glyphs with
// the same foreground and background colors under one escape sequence. The
// function takes an ANSI image as a string and returns the more efficient
// ANSI image as a string, with a reset at the end of every line.
func CompressANSI(ansiImage string) string {
	var compressed strings.Builder

	lines := strings.Split(ansiImage, "\n")
	for i, line := range lines {
		var currentFg, currentBg string
		var run strings.Builder
		started := false

		flush := func() {
			if started && run.Len() > 0 {
				compressed.WriteString(formatANSICode(currentFg, currentBg, run.String()))
			}
			run.Reset()
		}

		for _, segment := range strings.Split(line, ESC+"[") {
			if segment == "" {
				continue
			}
			parts := strings.SplitN(segment, "m", 2)
			if len(parts) != 2 {
				continue
			}
			colorCode, block := parts[0], parts[1]
			if block == "" {
				continue
			}
			fg, bg := extractColors(colorCode)

			// A space shows only its background.
			if block == " " {
				fg = currentFg
			}

			if !started || fg != currentFg || bg != currentBg {
				flush()
				currentFg, currentBg = fg, bg
				started = true
			}
			run.WriteString(block)
		}
		flush()
		compressed.WriteString(ansiReset)
		if i < len(lines)-1 {
			compressed.WriteByte('\n')
		}
	}

	return compressed.String()
}

// formatANSICode formats an ANSI color code with the given foreground and
// background colors followed by the glyph run.
func formatANSICode(fg, bg, run string) string {
	var code strings.Builder
	code.WriteString(ESC)
	code.WriteByte('[')
	code.WriteString(fg)
	if fg != "" && bg != "" {
		code.WriteByte(';')
	}
	code.WriteString(bg)
	code.WriteByte('m')
	code.WriteString(run)
	return code.String()
}

// extractColors extracts the foreground and background color codes from
// an ANSI color code. The function takes an ANSI color code as a string
// and returns the foreground and background color codes as strings.
func extractColors(colorCodes string) (fg string, bg string) {
	colors := strings.Split(colorCodes, ";")
	for i := 0; i < len(colors); i++ {
		if colors[i] == "38" && i+2 < len(colors) && colors[i+1] == "5" {
			fg = "38;5;" + colors[i+2]
			i += 2
		} else if colors[i] == "48" && i+2 < len(colors) && colors[i+1] == "5" {
			bg = "48;5;" + colors[i+2]
			i += 2
		} else if colorIsForeground(colors[i]) {
			fg = colors[i]
		} else if colorIsBackground(colors[i]) {
			bg = colors[i]
		}
	}
	return fg, bg
}

// colorIsForeground reports whether an SGR parameter sets the foreground.
func colorIsForeground(color string) bool {
	return strings.HasPrefix(color, "3") || strings.HasPrefix(color, "9")
}

// colorIsBackground reports whether an SGR parameter sets the background.
func colorIsBackground(color string) bool {
	return strings.HasPrefix(color, "4") || strings.HasPrefix(color, "10")
}

// foregroundCode returns the 256-color index of an extracted "38;5;N"
// foreground, or -1.
func foregroundCode(fg string) int {
	n, ok := strings.CutPrefix(fg, "38;5;")
	if !ok {
		return -1
	}
	code, err := strconv.Atoi(n)
	if err != nil {
		return -1
	}
	return code
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
