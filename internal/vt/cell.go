package vt

import "strings"

// ColorKind distinguishes default, palette and truecolor values.
type ColorKind uint8

const (
	// ColorDefault is the terminal's default foreground or background.
	ColorDefault ColorKind = iota
	// ColorIndexed is a palette entry, 0-15 for the ANSI colors and 16-255 for the extended cube.
	ColorIndexed
	// ColorRGB is a 24-bit color.
	ColorRGB
)

// Color is a cell foreground or background.
type Color struct {
	Kind  ColorKind
	Index uint8
	R     uint8
	G     uint8
	B     uint8
}

// DefaultColor is the zero Color.
var DefaultColor = Color{}

// Indexed returns a palette color. The index is clamped to 0-255.
func Indexed(i int) Color {
	return Color{Kind: ColorIndexed, Index: clampByte(i)}
}

// RGB returns a truecolor value.
func RGB(r, g, b uint8) Color {
	return Color{Kind: ColorRGB, R: r, G: g, B: b}
}

// Attr is a set of text attributes.
type Attr uint16

const (
	AttrBold Attr = 1 << iota
	AttrFaint
	AttrItalic
	AttrUnderline
	AttrBlink
	AttrInverse
	AttrHidden
	AttrStrike
)

// Style is the rendition applied to written cells.
type Style struct {
	Fg    Color
	Bg    Color
	Attrs Attr
}

// Has reports whether every attribute in a is set.
func (s Style) Has(a Attr) bool {
	return s.Attrs&a == a
}

// Cell is one character position in the grid.
// Width is 1 for normal runes, 2 for the left half of a wide rune and 0 for
// the right half, which carries no rune of its own.
type Cell struct {
	Rune  rune
	Width uint8
	Style Style
}

// DefaultCell is a space with default colors and no attributes.
var DefaultCell = Cell{Rune: ' ', Width: 1}

func blankCell(bg Color) Cell {
	return Cell{Rune: ' ', Width: 1, Style: Style{Bg: bg}}
}

func (c Cell) visiblyBlank() bool {
	if c.Width == 0 {
		return false
	}
	if c.Rune != ' ' && c.Rune != 0 {
		return false
	}
	return c.Style.Bg.Kind == ColorDefault && c.Style.Attrs&(AttrInverse|AttrUnderline|AttrStrike) == 0
}

// Line is a row taken out of the grid, either finalized by a line feed or
// evicted into scrollback.
type Line struct {
	Cells   []Cell
	Wrapped bool
	// Input marks a row finalized from a Screen.MarkInputStart column: it
	// holds what was typed after the prompt, without the prompt.
	Input   bool
}

// Text returns the row's characters with trailing blanks removed.
func (l Line) Text() string {
	return cellsText(l.Cells)
}

// Slice returns the line starting at the given rune position, skipping the
// right halves of wide runes when counting.
func (l Line) Slice(runes int) Line {
	i := 0
	for i < len(l.Cells) && runes > 0 {
		if l.Cells[i].Width != 0 {
			runes--
		}
		i++
	}
	for i < len(l.Cells) && l.Cells[i].Width == 0 {
		i++
	}
	return Line{Cells: append([]Cell(nil), l.Cells[i:]...), Wrapped: l.Wrapped, Input: l.Input}
}

// TrimLeft drops leading spaces.
func (l Line) TrimLeft() Line {
	i := 0
	for i < len(l.Cells) && l.Cells[i].Width == 1 && l.Cells[i].Rune == ' ' {
		i++
	}
	return Line{Cells: l.Cells[i:], Wrapped: l.Wrapped, Input: l.Input}
}

func cellsText(cells []Cell) string {
	var b strings.Builder
	b.Grow(len(cells))
	for _, c := range cells {
		if c.Width == 0 {
			continue
		}
		if c.Rune == 0 {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(c.Rune)
	}
	return strings.TrimRight(b.String(), " ")
}

// trimCells drops trailing visibly blank cells.
func trimCells(cells []Cell) []Cell {
	end := len(cells)
	for end > 0 && cells[end-1].visiblyBlank() {
		end--
	}
	return append([]Cell(nil), cells[:end]...)
}

func clampByte(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
