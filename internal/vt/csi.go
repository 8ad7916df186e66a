package vt

import (
	"fmt"

	"github.com/charmbracelet/x/ansi"
)

func (t *Terminal) handleCSI(cmd ansi.Cmd, params ansi.Params) {
	t.seq.load(cmd, params)
	t.dispatchCSI()
}

func (t *Terminal) dispatchCSI() {
	p := &t.seq
	s := t.screen
	final := p.final
	if p.inter != 0 {
		switch {
		case p.inter == '!' && final == 'p':
			s.softReset()
		case p.inter == ' ' && final == 'q':
			// cursor shape
		case p.inter == '"' && final == 'p':
			// conformance level
		default:
			t.anomaly(p.describeCSI())
		}
		return
	}
	switch p.prefix {
	case 0:
	case '?':
		t.dispatchPrivate()
		return
	case '>':
		switch final {
		case 'c':
			t.reply("\x1b[>0;10;1c")
		case 'm', 'n', 'q', 'u':
			// key modifier and version queries are consumed
		default:
			t.anomaly(p.describeCSI())
		}
		return
	default:
		switch final {
		case 'c', 'u':
		default:
			t.anomaly(p.describeCSI())
		}
		return
	}

	n := p.param(0, 1)
	switch final {
	case 'A':
		s.cursorUp(n)
	case 'B', 'e':
		s.cursorDown(n)
	case 'C', 'a':
		s.cursorForward(n)
	case 'D':
		s.cursorBack(n)
	case 'E':
		s.cursorDown(n)
		s.carriageReturn()
	case 'F':
		s.cursorUp(n)
		s.carriageReturn()
	case 'G', '`':
		s.setCursorCol(n - 1)
	case 'H', 'f':
		s.moveTo(p.param(1, 1)-1, n-1)
	case 'I':
		s.tab(n)
	case 'Z':
		s.backTab(n)
	case 'J':
		s.eraseInDisplay(p.rawParam(0, 0))
	case 'K':
		s.eraseInLine(p.rawParam(0, 0))
	case 'L':
		s.insertLines(n)
	case 'M':
		s.deleteLines(n)
	case 'P':
		s.deleteChars(n)
	case '@':
		s.insertChars(n)
	case 'X':
		s.eraseChars(n)
	case 'S':
		s.scrollUp(n)
	case 'T':
		if len(p.params) <= 1 {
			s.scrollDown(n)
		}
	case 'b':
		t.repeat(n)
	case 'd':
		s.setCursorRow(n - 1)
	case 'g':
		s.clearTabStop(p.rawParam(0, 0))
	case 'h':
		t.setModes(true)
	case 'l':
		t.setModes(false)
	case 'm':
		t.sgr()
	case 'n':
		t.deviceStatus()
	case 'c':
		if p.rawParam(0, 0) == 0 {
			t.reply("\x1b[?1;2c")
		}
	case 'r':
		s.setScrollRegion(p.param(0, 1)-1, p.param(1, s.height)-1)
	case 's':
		s.saveCursor()
	case 'u':
		s.restoreCursor()
	case 't', 'q':
		// window manipulation and LEDs
	default:
		t.anomaly(p.describeCSI())
	}
}

func (t *Terminal) dispatchPrivate() {
	p := &t.seq
	s := t.screen
	switch p.final {
	case 'h':
		t.setPrivateModes(true)
	case 'l':
		t.setPrivateModes(false)
	case 'J':
		s.eraseInDisplay(p.rawParam(0, 0))
	case 'K':
		s.eraseInLine(p.rawParam(0, 0))
	case 'n':
		if p.rawParam(0, 0) == 6 {
			row, col := t.cursorReport()
			t.reply(fmt.Sprintf("\x1b[?%d;%dR", row, col))
		}
	case 's', 'r', 'u':
		// private mode save/restore and keyboard protocol queries
	default:
		t.anomaly(p.describeCSI())
	}
}

func (t *Terminal) repeat(n int) {
	if t.lastRune == 0 {
		return
	}
	n = min(n, t.screen.width*t.screen.height)
	for i := 0; i < n; i++ {
		t.screen.put(t.lastRune)
	}
}

func (t *Terminal) cursorReport() (row, col int) {
	s := t.screen
	row, col = s.y+1, s.x+1
	if s.modes.Origin {
		row -= s.top
	}
	return row, col
}

func (t *Terminal) deviceStatus() {
	switch t.seq.rawParam(0, 0) {
	case 5:
		t.reply("\x1b[0n")
	case 6:
		row, col := t.cursorReport()
		t.reply(fmt.Sprintf("\x1b[%d;%dR", row, col))
	}
}

func (t *Terminal) setModes(set bool) {
	s := t.screen
	for _, m := range t.seq.params {
		switch m {
		case 4:
			s.modes.Insert = set
		case 20:
			s.modes.NewLine = set
		default:
			t.anomaly(fmt.Sprintf("mode %d", m))
		}
	}
}

func (t *Terminal) setPrivateModes(set bool) {
	s := t.screen
	for _, m := range t.seq.params {
		switch m {
		case 1:
			s.modes.AppCursor = set
		case 6:
			s.modes.Origin = set
			s.moveTo(0, 0)
		case 7:
			s.modes.AutoWrap = set
			if !set {
				s.wrapPending = false
			}
		case 25:
			if s.modes.CursorVisible != set {
				s.changed = true
			}
			s.modes.CursorVisible = set
		case 47, 1047, 1049:
			if set {
				s.enterAlt(m)
			} else {
				s.exitAlt(m)
			}
		case 1048:
			if set {
				s.saveCursor()
			} else {
				s.restoreCursor()
			}
		case 2004:
			s.modes.BracketedPaste = set
		case 3, 4, 5, 8, 12, 40, 45, 1034, 1036, 1039, 2026:
			// column mode, smooth scroll, reverse video, autorepeat, blink,
			// margin bell and meta keys are accepted and ignored
		case 9, 1000, 1001, 1002, 1003, 1004, 1005, 1006, 1015, 1016:
			// mouse and focus reporting
		default:
			t.anomaly(fmt.Sprintf("private mode %d", m))
		}
	}
}
