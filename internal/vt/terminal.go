package vt

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/ansi/parser"
)

const (
	// DefaultScrollbackLines bounds the history kept above the primary grid.
	DefaultScrollbackLines = 1000
	// DefaultMaxPendingEscape bounds OSC, DCS, SOS, PM and APC strings.
	// A longer string is dropped and parsing resumes at ground.
	DefaultMaxPendingEscape = 4096
)

// Options configures a Terminal.
type Options struct {
	Cols             int
	Rows             int
	ScrollbackLines  int
	MaxPendingEscape int
	// OnAnomaly is called with a short description of each malformed or
	// unsupported sequence.
	OnAnomaly func(desc string)
}

// Result reports what a Feed call changed.
type Result struct {
	// Finalized holds rows completed by a line feed or auto-wrap, in order.
	Finalized    []Line
	Changed      bool
	CursorMoved  bool
	Title        string
	TitleChanged bool
	IconName     string
	IconChanged  bool
	Bell         bool
	// Replies holds bytes the terminal answers with (DSR, DA); the caller
	// writes them back to the remote side.
	Replies []byte
}

// Terminal is a screen model driven by a byte stream.
// It is not safe for concurrent use.
type Terminal struct {
	screen    *Screen
	in        input
	seq       seq
	title     string
	icon      string
	anomalies int
	onAnomaly func(string)
	lastRune  rune
	res       Result
}

// New returns a terminal sized cols x rows.
func New(opts Options) *Terminal {
	if opts.Cols <= 0 {
		opts.Cols = 80
	}
	if opts.Rows <= 0 {
		opts.Rows = 24
	}
	if opts.ScrollbackLines <= 0 {
		opts.ScrollbackLines = DefaultScrollbackLines
	}
	if opts.MaxPendingEscape <= 0 {
		opts.MaxPendingEscape = DefaultMaxPendingEscape
	}
	t := &Terminal{
		screen:    newScreen(opts.Cols, opts.Rows, opts.ScrollbackLines),
		onAnomaly: opts.OnAnomaly,
	}
	t.in.maxStr = opts.MaxPendingEscape
	t.in.p = ansi.NewParser()
	t.in.p.SetDataSize(opts.MaxPendingEscape)
	t.in.p.SetHandler(ansi.Handler{
		Print:     t.print,
		Execute:   t.execute,
		HandleCsi: t.handleCSI,
		HandleEsc: t.handleEscape,
		HandleOsc: t.handleOSC,
	})
	return t
}

// Screen exposes the grid for reading.
func (t *Terminal) Screen() *Screen {
	return t.screen
}

// Title returns the last title set by OSC 0 or 2.
func (t *Terminal) Title() string {
	return t.title
}

// IconName returns the last icon name set by OSC 0 or 1.
func (t *Terminal) IconName() string {
	return t.icon
}

// Anomalies returns the number of malformed or unsupported sequences seen.
func (t *Terminal) Anomalies() int {
	return t.anomalies
}

// Pending reports whether an incomplete sequence or rune is buffered.
func (t *Terminal) Pending() bool {
	return t.in.pending()
}

// Resize changes the grid size. Sizes below one are raised to one.
func (t *Terminal) Resize(cols, rows int) {
	t.screen.resize(cols, rows)
}

// Feed interprets data. Sequences and runes split across calls are
// completed by later calls.
func (t *Terminal) Feed(data []byte) Result {
	t.res = Result{}
	t.screen.beginFeed()
	for _, b := range data {
		t.step(b)
	}
	res := t.res
	res.Finalized = t.screen.takeFinalized()
	res.Changed = t.screen.changed || res.TitleChanged || res.IconChanged
	res.CursorMoved = t.screen.moved
	t.res = Result{}
	return res
}

func (t *Terminal) anomaly(desc string) {
	t.anomalies++
	if t.onAnomaly != nil {
		t.onAnomaly(desc)
	}
}

func (t *Terminal) reply(s string) {
	t.res.Replies = append(t.res.Replies, s...)
}

func (t *Terminal) step(b byte) {
	in := &t.in
	state := in.p.State()
	if in.held {
		in.held = false
		if state == parser.EscapeState && b == '\\' {
			t.dispatchOSC(in.osc)
		}
	}
	switch {
	case isString(state) && state != parser.OscStringState && b == 0x07:
		// BEL ends DCS, SOS, PM and APC strings too; their payload is unused.
		in.resync()
		return
	case isString(state):
		in.strLen++
		if in.strLen > in.maxStr {
			t.anomaly("sequence overflow")
			in.resync()
			return
		}
		if state == parser.OscStringState && b >= 0x20 {
			in.osc = append(in.osc, b)
		}
		// 8-bit C1 controls are not honoured; in a UTF-8 stream these bytes
		// belong to runes of the payload.
		if b >= 0x80 {
			return
		}
	case state == parser.Utf8State && b&0xC0 != 0x80:
		in.p.Reset()
		t.print(utf8.RuneError)
		t.step(b)
		return
	case state != parser.Utf8State && b >= 0x80 && !utf8Lead(b):
		in.p.Reset()
		t.print(utf8.RuneError)
		return
	}
	in.cur = b
	in.p.Advance(b)
	if next := in.p.State(); next != state && isString(next) {
		in.strLen = 0
		in.osc = in.osc[:0]
	}
}

func (t *Terminal) print(r rune) {
	t.lastRune = r
	t.screen.put(r)
}

// execute runs a C0 control.
func (t *Terminal) execute(b byte) {
	s := t.screen
	switch b {
	case 0x07:
		t.res.Bell = true
	case 0x08:
		s.cursorBack(1)
	case 0x09:
		s.tab(1)
	case 0x0A, 0x0B, 0x0C:
		s.lineFeed()
		if s.modes.NewLine {
			s.carriageReturn()
		}
	case 0x0D:
		s.carriageReturn()
	}
}

func (t *Terminal) handleEscape(cmd ansi.Cmd) {
	t.seq.load(cmd, nil)
	t.dispatchEscape()
}

func (t *Terminal) dispatchEscape() {
	s := t.screen
	q := &t.seq
	if q.inter != 0 {
		switch q.inter {
		case '(', ')', '*', '+', '-', '.', '/', ' ', '%':
			// charset designation and conformance level are accepted and ignored
		case '#':
			if q.final == '8' {
				s.alignmentTest()
				return
			}
			t.anomaly(q.describeEscape())
		default:
			t.anomaly(q.describeEscape())
		}
		return
	}
	switch q.final {
	case '7':
		s.saveCursor()
	case '8':
		s.restoreCursor()
	case 'D':
		s.lineFeed()
	case 'E':
		s.lineFeed()
		s.carriageReturn()
	case 'H':
		s.setTabStop()
	case 'M':
		s.reverseIndex()
	case 'c':
		s.reset()
	case '=':
		s.modes.AppKeypad = true
	case '>':
		s.modes.AppKeypad = false
	case '\\', 'N', 'O':
	default:
		t.anomaly(q.describeEscape())
	}
}

// handleOSC applies an OSC string. One ended by ESC is held until the next
// byte shows whether the ESC began ST; any other sequence aborts it.
func (t *Terminal) handleOSC(_ int, _ []byte) {
	if t.in.cur == 0x1B {
		t.in.held = true
		return
	}
	t.dispatchOSC(t.in.osc)
}

func (t *Terminal) dispatchOSC(data []byte) {
	code, text := data, []byte(nil)
	if i := bytes.IndexByte(data, ';'); i >= 0 {
		code, text = data[:i], data[i+1:]
	}
	n, err := strconv.Atoi(string(code))
	if err != nil {
		t.anomaly("OSC " + strconv.Quote(string(code)))
		return
	}
	value := strings.ToValidUTF8(string(text), string(utf8.RuneError))
	switch n {
	case 0:
		t.setTitle(value)
		t.setIcon(value)
	case 1:
		t.setIcon(value)
	case 2:
		t.setTitle(value)
	default:
		// colors, working directory, hyperlinks and clipboard are consumed
	}
}

func (t *Terminal) setTitle(v string) {
	t.title = v
	t.res.Title = v
	t.res.TitleChanged = true
}

func (t *Terminal) setIcon(v string) {
	t.icon = v
	t.res.IconName = v
	t.res.IconChanged = true
}
