package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"pkt.systems/termdeck/internal/vt"
	"pkt.systems/termdeck/schema"
)

func renderTabBar(tabs []schema.TabSnapshot, theme Theme, width int) string {
	active := lipgloss.NewStyle().Bold(true).Padding(0, 1).
		Background(theme.TabActiveBG).Foreground(theme.TabActiveFG)
	inactive := lipgloss.NewStyle().Padding(0, 1).
		Background(theme.TabInactiveBG).Foreground(theme.TabInactiveFG)
	parts := make([]string, 0, len(tabs))
	for i, tab := range tabs {
		label := fmt.Sprintf("%d %s%s", i+1, tab.Name, statusMark(tab))
		if tab.Active {
			parts = append(parts, active.Render(label))
			continue
		}
		parts = append(parts, inactive.Render(label))
	}
	bar := lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	return lipgloss.NewStyle().Background(theme.TabBarBG).Width(width).MaxWidth(width).Render(bar)
}

func statusMark(tab schema.TabSnapshot) string {
	if tab.Kind != schema.TabTerminal {
		return ""
	}
	switch tab.Status {
	case schema.StatusConnecting:
		return " …"
	case schema.StatusFailed:
		return " !"
	case schema.StatusDisconnected:
		return " ×"
	}
	return ""
}

// renderGrid draws the visible screen. Runs of cells sharing a style are
// rendered together.
func renderGrid(snap vt.Snapshot, width, height int, showCursor bool) []string {
	rows := make([]string, 0, height)
	for y := 0; y < height; y++ {
		if y >= len(snap.Cells) {
			rows = append(rows, "")
			continue
		}
		cursorX := -1
		if showCursor && snap.CursorVisible && y == snap.CursorY {
			cursorX = snap.CursorX
		}
		rows = append(rows, renderRow(snap.Cells[y], width, cursorX))
	}
	return rows
}

func renderRow(cells []vt.Cell, width, cursorX int) string {
	var (
		out   strings.Builder
		run   strings.Builder
		style vt.Style
		inv   bool
		used  int
	)
	flush := func() {
		if run.Len() == 0 {
			return
		}
		out.WriteString(cellStyle(style, inv).Render(run.String()))
		run.Reset()
	}
	for x, c := range cells {
		if c.Width == 0 {
			continue
		}
		if used+int(c.Width) > width {
			break
		}
		cursor := x == cursorX
		if run.Len() > 0 && (c.Style != style || cursor != inv) {
			flush()
		}
		style, inv = c.Style, cursor
		r := c.Rune
		if r == 0 || c.Style.Has(vt.AttrHidden) {
			r = ' '
		}
		run.WriteRune(r)
		used += int(c.Width)
	}
	flush()
	return out.String()
}

func cellStyle(s vt.Style, cursor bool) lipgloss.Style {
	st := lipgloss.NewStyle()
	if fg, ok := terminalColor(s.Fg); ok {
		st = st.Foreground(fg)
	}
	if bg, ok := terminalColor(s.Bg); ok {
		st = st.Background(bg)
	}
	if s.Has(vt.AttrBold) {
		st = st.Bold(true)
	}
	if s.Has(vt.AttrFaint) {
		st = st.Faint(true)
	}
	if s.Has(vt.AttrItalic) {
		st = st.Italic(true)
	}
	if s.Has(vt.AttrUnderline) {
		st = st.Underline(true)
	}
	if s.Has(vt.AttrBlink) {
		st = st.Blink(true)
	}
	if s.Has(vt.AttrStrike) {
		st = st.Strikethrough(true)
	}
	if s.Has(vt.AttrInverse) != cursor {
		st = st.Reverse(true)
	}
	return st
}

func terminalColor(c vt.Color) (lipgloss.Color, bool) {
	switch c.Kind {
	case vt.ColorIndexed:
		return lipgloss.Color(strconv.Itoa(int(c.Index))), true
	case vt.ColorRGB:
		return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)), true
	}
	return "", false
}

// renderText fits plain lines into the body area, keeping the last height lines.
func renderText(lines []string, width, height int) []string {
	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	rows := make([]string, 0, height)
	for _, line := range lines {
		rows = append(rows, runewidth.Truncate(line, width, ""))
	}
	for len(rows) < height {
		rows = append(rows, "")
	}
	return rows
}
