package vt

import (
	"strings"

	"github.com/mattn/go-runewidth"

	"pkt.systems/termdeck/internal/ring"
)

// Modes holds the mode flags that change how later bytes are interpreted.
type Modes struct {
	Insert         bool // IRM
	Origin         bool // DECOM
	AutoWrap       bool // DECAWM
	BracketedPaste bool
	AppKeypad      bool // DECKPAM
	AppCursor      bool // DECCKM
	CursorVisible  bool // DECTCEM
	NewLine        bool // LNM
}

func defaultModes() Modes {
	return Modes{AutoWrap: true, CursorVisible: true}
}

type crOrigin struct {
	col     int
	marked  bool
	pending bool
}

type savedCursor struct {
	x, y        int
	style       Style
	origin      bool
	wrapPending bool
	valid       bool
}

// Screen is the grid state of a terminal: the primary and alternate grids,
// cursor, pen, scroll region, modes and scrollback.
//
// The cursor always lies inside the grid. Writing into the last column sets a
// pending wrap instead of moving past the edge; the next printable rune
// performs the wrap when auto-wrap is on.
type Screen struct {
	width  int
	height int

	primary   [][]Cell
	alt       [][]Cell
	grid      [][]Cell
	altActive bool

	x           int
	y           int
	wrapPending bool
	style       Style
	top         int
	bottom      int
	modes       Modes
	tabs        []bool

	saved     savedCursor
	altSaved  savedCursor
	saved1049 savedCursor

	scrollback *ring.Ring[Line]

	// originCol is the leftmost column the cursor visited on the current row
	// since it arrived there; finalized rows start at that column.
	originCol   int
	// inputMarked is set by MarkInputStart and cleared when the cursor
	// leaves the row or moves left of originCol.
	inputMarked bool
	// cr holds the row origin from before a carriage return, so CR LF
	// finalizes the row as if the CR had not moved the cursor.
	cr          crOrigin
	finalized   []Line

	changed bool
	moved   bool
}

func newScreen(cols, rows, scrollback int) *Screen {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	s := &Screen{
		width:      cols,
		height:     rows,
		modes:      defaultModes(),
		scrollback: ring.New[Line](scrollback),
	}
	s.primary = newGrid(cols, rows)
	s.alt = newGrid(cols, rows)
	s.grid = s.primary
	s.bottom = rows - 1
	s.resetTabs()
	return s
}

func newGrid(cols, rows int) [][]Cell {
	grid := make([][]Cell, rows)
	for i := range grid {
		grid[i] = newRow(cols, DefaultColor)
	}
	return grid
}

func newRow(cols int, bg Color) []Cell {
	row := make([]Cell, cols)
	for i := range row {
		row[i] = blankCell(bg)
	}
	return row
}

// Size returns the grid dimensions.
func (s *Screen) Size() (cols, rows int) {
	return s.width, s.height
}

// Cursor returns the zero-based cursor column and row.
func (s *Screen) Cursor() (x, y int) {
	return s.x, s.y
}

// CursorVisible reports DECTCEM.
func (s *Screen) CursorVisible() bool {
	return s.modes.CursorVisible
}

// AltScreen reports whether the alternate grid is active.
func (s *Screen) AltScreen() bool {
	return s.altActive
}

// Modes returns the current mode flags.
func (s *Screen) Modes() Modes {
	return s.modes
}

// Pen returns the style applied to newly written cells.
func (s *Screen) Pen() Style {
	return s.style
}

// ScrollRegion returns the zero-based inclusive scroll margins.
func (s *Screen) ScrollRegion() (top, bottom int) {
	return s.top, s.bottom
}

// Cell returns the cell at x, y or DefaultCell when out of range.
func (s *Screen) Cell(x, y int) Cell {
	if y < 0 || y >= s.height || x < 0 || x >= s.width {
		return DefaultCell
	}
	return s.grid[y][x]
}

// Row returns a copy of row y.
func (s *Screen) Row(y int) []Cell {
	if y < 0 || y >= s.height {
		return nil
	}
	return append([]Cell(nil), s.grid[y]...)
}

// RowText returns row y with trailing blanks removed.
func (s *Screen) RowText(y int) string {
	if y < 0 || y >= s.height {
		return ""
	}
	return cellsText(s.grid[y])
}

// Text returns every row joined by newlines.
func (s *Screen) Text() string {
	lines := make([]string, s.height)
	for y := range lines {
		lines[y] = cellsText(s.grid[y])
	}
	return strings.Join(lines, "\n")
}

// TextBeforeCursor returns the text of the cursor row left of the cursor.
func (s *Screen) TextBeforeCursor() string {
	end := s.x
	if s.wrapPending {
		end = s.width
	}
	return cellsText(s.grid[s.y][:end])
}

// Scrollback returns the retained history, oldest first.
func (s *Screen) Scrollback() []Line {
	return s.scrollback.All()
}

// ScrollbackLen returns the number of retained history rows.
func (s *Screen) ScrollbackLen() int {
	return s.scrollback.Len()
}

// Snapshot is a copy of the visible state for rendering.
type Snapshot struct {
	Cols          int
	Rows          int
	Cells         [][]Cell
	CursorX       int
	CursorY       int
	CursorVisible bool
	AltScreen     bool
	Modes         Modes
}

// Snapshot copies the visible grid.
func (s *Screen) Snapshot() Snapshot {
	cells := make([][]Cell, s.height)
	for y := range cells {
		cells[y] = append([]Cell(nil), s.grid[y]...)
	}
	return Snapshot{
		Cols:          s.width,
		Rows:          s.height,
		Cells:         cells,
		CursorX:       s.x,
		CursorY:       s.y,
		CursorVisible: s.modes.CursorVisible,
		AltScreen:     s.altActive,
		Modes:         s.modes,
	}
}

func (s *Screen) beginFeed() {
	s.changed = false
	s.moved = false
	s.finalized = nil
}

func (s *Screen) takeFinalized() []Line {
	out := s.finalized
	s.finalized = nil
	return out
}

// setCursor moves the cursor, clamped to the grid, and clears a pending wrap.
func (s *Screen) setCursor(x, y int) {
	x = clamp(x, 0, s.width-1)
	y = clamp(y, 0, s.height-1)
	s.cr.pending = false
	if y != s.y || x < s.originCol {
		s.originCol = x
		s.inputMarked = false
	}
	if x != s.x || y != s.y {
		s.moved = true
	}
	s.x, s.y = x, y
	s.wrapPending = false
}

// moveTo positions the cursor, honoring origin mode for the row.
func (s *Screen) moveTo(x, y int) {
	if s.modes.Origin {
		y = clamp(y+s.top, s.top, s.bottom)
	}
	s.setCursor(x, y)
}

func (s *Screen) setCursorCol(x int) {
	s.setCursor(x, s.y)
}

func (s *Screen) setCursorRow(y int) {
	s.moveTo(s.x, y)
}

func (s *Screen) cursorUp(n int) {
	limit := 0
	if s.y >= s.top {
		limit = s.top
	}
	s.setCursor(s.x, max(s.y-n, limit))
}

func (s *Screen) cursorDown(n int) {
	limit := s.height - 1
	if s.y <= s.bottom {
		limit = s.bottom
	}
	s.setCursor(s.x, min(s.y+n, limit))
}

func (s *Screen) cursorForward(n int) {
	s.setCursor(s.x+n, s.y)
}

func (s *Screen) cursorBack(n int) {
	s.setCursor(s.x-n, s.y)
}

func (s *Screen) carriageReturn() {
	col, marked := s.originCol, s.inputMarked
	s.setCursor(0, s.y)
	s.cr = crOrigin{col: col, marked: marked, pending: true}
}

// MarkInputStart records the cursor column as the start of user input on the
// cursor row. Until the cursor leaves the row or moves left of that column,
// the row is finalized from there and flagged as Input.
func (s *Screen) MarkInputStart() {
	if s.altActive || s.wrapPending {
		return
	}
	s.originCol = s.x
	s.inputMarked = true
}

// lineFeed finalizes the cursor row and moves down, scrolling at the bottom margin.
func (s *Screen) lineFeed() {
	s.finalizeRow(false)
	s.index()
}

func (s *Screen) wrapLine() {
	s.finalizeRow(true)
	s.setCursor(0, s.y)
	s.index()
}

func (s *Screen) index() {
	switch {
	case s.y == s.bottom:
		s.scrollUp(1)
		s.originCol = s.x
		s.wrapPending = false
		s.moved = true
	case s.y < s.height-1:
		s.setCursor(s.x, s.y+1)
	}
}

func (s *Screen) reverseIndex() {
	switch {
	case s.y == s.top:
		s.scrollDown(1)
		s.originCol = s.x
		s.inputMarked = false
		s.wrapPending = false
		s.moved = true
	case s.y > 0:
		s.setCursor(s.x, s.y-1)
	}
}

func (s *Screen) finalizeRow(wrapped bool) {
	from, marked := s.originCol, s.inputMarked
	if s.cr.pending {
		from, marked = s.cr.col, s.cr.marked
	}
	s.cr = crOrigin{}
	s.inputMarked = false
	if s.altActive {
		return
	}
	row := s.grid[s.y]
	from = min(from, len(row))
	for from > 0 && from < len(row) && row[from].Width == 0 {
		from--
	}
	s.finalized = append(s.finalized, Line{Cells: trimCells(row[from:]), Wrapped: wrapped, Input: marked})
}

// put writes r at the cursor in the current pen and advances.
func (s *Screen) put(r rune) {
	s.cr.pending = false
	w := runewidth.RuneWidth(r)
	if w <= 0 {
		return
	}
	if w > 2 {
		w = 2
	}
	if w == 2 && s.width < 2 {
		w = 1
	}
	if s.wrapPending {
		s.wrapPending = false
		if s.modes.AutoWrap {
			s.wrapLine()
		}
	}
	if w == 2 && s.x == s.width-1 {
		if s.modes.AutoWrap {
			s.clearWide(s.x)
			s.grid[s.y][s.x] = blankCell(s.style.Bg)
			s.wrapLine()
		} else {
			s.setCursor(s.width-2, s.y)
		}
	}
	if s.modes.Insert {
		s.insertChars(w)
	}
	row := s.grid[s.y]
	s.clearWide(s.x)
	if w == 2 {
		s.clearWide(s.x + 1)
	}
	row[s.x] = Cell{Rune: r, Width: uint8(w), Style: s.style}
	if w == 2 {
		row[s.x+1] = Cell{Width: 0, Style: s.style}
	}
	s.changed = true
	s.moved = true
	next := s.x + w
	if next >= s.width {
		s.x = s.width - 1
		s.wrapPending = s.modes.AutoWrap
		return
	}
	s.x = next
}

// clearWide blanks the other half of a wide rune that overlaps column x.
func (s *Screen) clearWide(x int) {
	row := s.grid[s.y]
	if x < 0 || x >= len(row) {
		return
	}
	switch row[x].Width {
	case 0:
		if x > 0 {
			row[x-1] = blankCell(row[x-1].Style.Bg)
		}
		row[x] = blankCell(row[x].Style.Bg)
	case 2:
		if x+1 < len(row) {
			row[x+1] = blankCell(row[x+1].Style.Bg)
		}
	}
}

func (s *Screen) scrollUp(n int) {
	n = min(n, s.bottom-s.top+1)
	if n <= 0 {
		return
	}
	if s.top == 0 && !s.altActive {
		for i := 0; i < n; i++ {
			s.scrollback.Push(Line{Cells: trimCells(s.grid[i])})
		}
	}
	copy(s.grid[s.top:s.bottom+1-n], s.grid[s.top+n:s.bottom+1])
	for i := s.bottom - n + 1; i <= s.bottom; i++ {
		s.grid[i] = newRow(s.width, s.style.Bg)
	}
	s.changed = true
}

func (s *Screen) scrollDown(n int) {
	n = min(n, s.bottom-s.top+1)
	if n <= 0 {
		return
	}
	copy(s.grid[s.top+n:s.bottom+1], s.grid[s.top:s.bottom+1-n])
	for i := s.top; i < s.top+n; i++ {
		s.grid[i] = newRow(s.width, s.style.Bg)
	}
	s.changed = true
}

func (s *Screen) clearRange(y, from, to int) {
	row := s.grid[y]
	from = clamp(from, 0, len(row))
	to = clamp(to, 0, len(row))
	if from >= to {
		return
	}
	if from > 0 && row[from].Width == 0 {
		row[from-1] = blankCell(row[from-1].Style.Bg)
	}
	if to < len(row) && row[to].Width == 0 {
		row[to] = blankCell(row[to].Style.Bg)
	}
	for i := from; i < to; i++ {
		row[i] = blankCell(s.style.Bg)
	}
	s.changed = true
}

func (s *Screen) eraseInLine(mode int) {
	switch mode {
	case 0:
		s.clearRange(s.y, s.x, s.width)
	case 1:
		s.clearRange(s.y, 0, s.x+1)
	case 2:
		s.clearRange(s.y, 0, s.width)
	default:
		return
	}
	s.wrapPending = false
}

func (s *Screen) eraseInDisplay(mode int) {
	switch mode {
	case 0:
		s.clearRange(s.y, s.x, s.width)
		for y := s.y + 1; y < s.height; y++ {
			s.clearRange(y, 0, s.width)
		}
	case 1:
		for y := 0; y < s.y; y++ {
			s.clearRange(y, 0, s.width)
		}
		s.clearRange(s.y, 0, s.x+1)
	case 2:
		for y := 0; y < s.height; y++ {
			s.clearRange(y, 0, s.width)
		}
	case 3:
		s.scrollback.Clear()
		s.changed = true
		return
	default:
		return
	}
	s.wrapPending = false
}

func (s *Screen) eraseChars(n int) {
	s.clearRange(s.y, s.x, s.x+n)
	s.wrapPending = false
}

func (s *Screen) insertChars(n int) {
	row := s.grid[s.y]
	n = min(n, s.width-s.x)
	if n <= 0 {
		return
	}
	s.clearWide(s.x)
	copy(row[s.x+n:], row[s.x:s.width-n])
	for i := s.x; i < s.x+n; i++ {
		row[i] = blankCell(s.style.Bg)
	}
	if last := row[s.width-1]; last.Width == 2 {
		row[s.width-1] = blankCell(last.Style.Bg)
	}
	s.wrapPending = false
	s.changed = true
}

func (s *Screen) deleteChars(n int) {
	row := s.grid[s.y]
	n = min(n, s.width-s.x)
	if n <= 0 {
		return
	}
	s.clearWide(s.x)
	if s.x+n < s.width && row[s.x+n].Width == 0 {
		row[s.x+n] = blankCell(row[s.x+n].Style.Bg)
	}
	copy(row[s.x:], row[s.x+n:])
	for i := s.width - n; i < s.width; i++ {
		row[i] = blankCell(s.style.Bg)
	}
	s.wrapPending = false
	s.changed = true
}

func (s *Screen) insertLines(n int) {
	if s.y < s.top || s.y > s.bottom {
		return
	}
	n = min(n, s.bottom-s.y+1)
	copy(s.grid[s.y+n:s.bottom+1], s.grid[s.y:s.bottom+1-n])
	for i := s.y; i < s.y+n; i++ {
		s.grid[i] = newRow(s.width, s.style.Bg)
	}
	s.setCursor(0, s.y)
	s.changed = true
}

func (s *Screen) deleteLines(n int) {
	if s.y < s.top || s.y > s.bottom {
		return
	}
	n = min(n, s.bottom-s.y+1)
	copy(s.grid[s.y:s.bottom+1-n], s.grid[s.y+n:s.bottom+1])
	for i := s.bottom - n + 1; i <= s.bottom; i++ {
		s.grid[i] = newRow(s.width, s.style.Bg)
	}
	s.setCursor(0, s.y)
	s.changed = true
}

// setScrollRegion sets zero-based inclusive margins and homes the cursor.
// Invalid regions are ignored.
func (s *Screen) setScrollRegion(top, bottom int) {
	if bottom < 0 || bottom >= s.height {
		bottom = s.height - 1
	}
	top = max(top, 0)
	if top >= bottom {
		return
	}
	s.top, s.bottom = top, bottom
	s.moveTo(0, 0)
}

func (s *Screen) saveCursor() {
	sc := savedCursor{
		x:           s.x,
		y:           s.y,
		style:       s.style,
		origin:      s.modes.Origin,
		wrapPending: s.wrapPending,
		valid:       true,
	}
	if s.altActive {
		s.altSaved = sc
		return
	}
	s.saved = sc
}

func (s *Screen) restoreCursor() {
	sc := s.saved
	if s.altActive {
		sc = s.altSaved
	}
	if !sc.valid {
		s.style = Style{}
		s.modes.Origin = false
		s.setCursor(0, 0)
		return
	}
	s.style = sc.style
	s.modes.Origin = sc.origin
	s.setCursor(sc.x, sc.y)
	s.wrapPending = sc.wrapPending
}

// enterAlt switches to the alternate grid. Mode 1049 saves the cursor and
// clears the alternate grid first.
func (s *Screen) enterAlt(mode int) {
	if s.altActive {
		return
	}
	if mode == 1049 {
		s.saved1049 = savedCursor{x: s.x, y: s.y, style: s.style, origin: s.modes.Origin, valid: true}
	}
	s.altActive = true
	s.grid = s.alt
	if mode == 1049 {
		s.clearGrid(s.alt)
	}
	s.wrapPending = false
	s.changed = true
}

// exitAlt returns to the primary grid. Mode 1047 clears the alternate grid on
// the way out and 1049 restores the cursor saved on entry.
func (s *Screen) exitAlt(mode int) {
	if !s.altActive {
		return
	}
	if mode == 1047 {
		s.clearGrid(s.alt)
	}
	s.altActive = false
	s.grid = s.primary
	if mode == 1049 && s.saved1049.valid {
		s.style = s.saved1049.style
		s.modes.Origin = s.saved1049.origin
		s.setCursor(s.saved1049.x, s.saved1049.y)
	}
	s.wrapPending = false
	s.changed = true
}

func (s *Screen) clearGrid(grid [][]Cell) {
	for i := range grid {
		grid[i] = newRow(s.width, DefaultColor)
	}
}

func (s *Screen) resetTabs() {
	s.tabs = make([]bool, s.width)
	for i := 8; i < s.width; i += 8 {
		s.tabs[i] = true
	}
}

func (s *Screen) tab(n int) {
	x := s.x
	for ; n > 0 && x < s.width-1; n-- {
		x++
		for x < s.width-1 && !s.tabs[x] {
			x++
		}
	}
	s.setCursor(x, s.y)
}

func (s *Screen) backTab(n int) {
	x := s.x
	for ; n > 0 && x > 0; n-- {
		x--
		for x > 0 && !s.tabs[x] {
			x--
		}
	}
	s.setCursor(x, s.y)
}

func (s *Screen) setTabStop() {
	s.tabs[s.x] = true
}

func (s *Screen) clearTabStop(mode int) {
	switch mode {
	case 0:
		s.tabs[s.x] = false
	case 3:
		for i := range s.tabs {
			s.tabs[i] = false
		}
	}
}

// alignmentTest fills the grid with 'E' (DECALN).
func (s *Screen) alignmentTest() {
	for y := range s.grid {
		for x := range s.grid[y] {
			s.grid[y][x] = Cell{Rune: 'E', Width: 1}
		}
	}
	s.top, s.bottom = 0, s.height-1
	s.setCursor(0, 0)
	s.changed = true
}

// softReset implements DECSTR: modes, pen, margins and saved cursor return
// to defaults without touching the grid.
func (s *Screen) softReset() {
	s.modes = Modes{AutoWrap: true, CursorVisible: true, BracketedPaste: s.modes.BracketedPaste}
	s.style = Style{}
	s.top, s.bottom = 0, s.height-1
	s.saved = savedCursor{}
	s.altSaved = savedCursor{}
	s.wrapPending = false
	s.changed = true
}

// reset implements RIS. Scrollback is kept.
func (s *Screen) reset() {
	s.primary = newGrid(s.width, s.height)
	s.alt = newGrid(s.width, s.height)
	s.grid = s.primary
	s.altActive = false
	s.style = Style{}
	s.top, s.bottom = 0, s.height-1
	s.modes = defaultModes()
	s.saved = savedCursor{}
	s.altSaved = savedCursor{}
	s.saved1049 = savedCursor{}
	s.resetTabs()
	s.setCursor(0, 0)
	s.originCol = 0
	s.inputMarked = false
	s.changed = true
}

// resize changes the grid dimensions. Shrinking drops blank rows below the
// cursor first, then evicts rows from the top (into scrollback for the
// primary grid), so the bottom-most content stays visible.
func (s *Screen) resize(cols, rows int) {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	if cols == s.width && rows == s.height {
		return
	}

	primaryAnchor, altAnchor := s.y, -1
	if s.altActive {
		primaryAnchor, altAnchor = -1, s.y
		if s.saved1049.valid {
			primaryAnchor = s.saved1049.y
		}
	}
	evict := func(row []Cell) {
		s.scrollback.Push(Line{Cells: trimCells(row)})
	}
	var primaryShift, altShift int
	s.primary, primaryShift = resizeGrid(s.primary, cols, rows, primaryAnchor, evict)
	s.alt, altShift = resizeGrid(s.alt, cols, rows, altAnchor, nil)

	shift := primaryShift
	s.grid = s.primary
	if s.altActive {
		shift = altShift
		s.grid = s.alt
	}
	s.width, s.height = cols, rows
	s.top, s.bottom = 0, rows-1
	s.resetTabs()

	s.x = clamp(s.x, 0, cols-1)
	s.y = clamp(s.y-shift, 0, rows-1)
	if s.x < s.originCol {
		s.originCol = s.x
		s.inputMarked = false
	}
	s.cr = crOrigin{}
	s.wrapPending = false
	s.saved = clampSaved(s.saved, cols, rows, primaryShift)
	s.saved1049 = clampSaved(s.saved1049, cols, rows, primaryShift)
	s.altSaved = clampSaved(s.altSaved, cols, rows, altShift)
	s.changed = true
}

func clampSaved(sc savedCursor, cols, rows, shift int) savedCursor {
	if !sc.valid {
		return sc
	}
	sc.x = clamp(sc.x, 0, cols-1)
	sc.y = clamp(sc.y-shift, 0, rows-1)
	sc.wrapPending = false
	return sc
}

func resizeGrid(grid [][]Cell, cols, rows, anchor int, evict func([]Cell)) ([][]Cell, int) {
	shift := 0
	if rows < len(grid) {
		excess := len(grid) - rows
		for excess > 0 && len(grid)-1 > anchor && rowBlank(grid[len(grid)-1]) {
			grid = grid[:len(grid)-1]
			excess--
		}
		if excess > 0 {
			if evict != nil {
				for _, row := range grid[:excess] {
					evict(row)
				}
			}
			grid = grid[excess:]
			shift = excess
		}
	}
	out := make([][]Cell, rows)
	for i := range out {
		if i < len(grid) {
			out[i] = resizeRow(grid[i], cols)
			continue
		}
		out[i] = newRow(cols, DefaultColor)
	}
	return out, shift
}

func resizeRow(row []Cell, cols int) []Cell {
	out := make([]Cell, cols)
	n := copy(out, row)
	for i := n; i < cols; i++ {
		out[i] = DefaultCell
	}
	if cols < len(row) && out[cols-1].Width == 2 {
		out[cols-1] = blankCell(out[cols-1].Style.Bg)
	}
	return out
}

func rowBlank(row []Cell) bool {
	for _, c := range row {
		if !c.visiblyBlank() {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
