package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// EncodeKey converts a key press into the bytes a terminal would send.
// Cursor keys use SS3 sequences when the remote enabled application cursor
// mode. Unknown keys encode to nil.
func EncodeKey(k tea.KeyMsg, appCursor bool) []byte {
	var out []byte
	switch {
	case k.Type == tea.KeyRunes:
		out = []byte(string(k.Runes))
	case k.Type == tea.KeySpace:
		out = []byte{' '}
	case k.Type >= 0 && k.Type <= 127:
		// C0 controls, Enter, Tab, Backspace and Escape carry their byte value.
		out = []byte{byte(k.Type)}
	default:
		out = specialKey(k.Type, appCursor)
	}
	if out == nil {
		return nil
	}
	if k.Alt {
		out = append([]byte{0x1b}, out...)
	}
	return out
}

func specialKey(t tea.KeyType, appCursor bool) []byte {
	cursor := func(final byte) []byte {
		if appCursor {
			return []byte{0x1b, 'O', final}
		}
		return []byte{0x1b, '[', final}
	}
	switch t {
	case tea.KeyUp:
		return cursor('A')
	case tea.KeyDown:
		return cursor('B')
	case tea.KeyRight:
		return cursor('C')
	case tea.KeyLeft:
		return cursor('D')
	case tea.KeyHome:
		return cursor('H')
	case tea.KeyEnd:
		return cursor('F')
	case tea.KeyCtrlUp:
		return []byte("\x1b[1;5A")
	case tea.KeyCtrlDown:
		return []byte("\x1b[1;5B")
	case tea.KeyCtrlRight:
		return []byte("\x1b[1;5C")
	case tea.KeyCtrlLeft:
		return []byte("\x1b[1;5D")
	case tea.KeyShiftTab:
		return []byte("\x1b[Z")
	case tea.KeyInsert:
		return []byte("\x1b[2~")
	case tea.KeyDelete:
		return []byte("\x1b[3~")
	case tea.KeyPgUp:
		return []byte("\x1b[5~")
	case tea.KeyPgDown:
		return []byte("\x1b[6~")
	case tea.KeyF1:
		return []byte("\x1bOP")
	case tea.KeyF2:
		return []byte("\x1bOQ")
	case tea.KeyF3:
		return []byte("\x1bOR")
	case tea.KeyF4:
		return []byte("\x1bOS")
	case tea.KeyF5:
		return []byte("\x1b[15~")
	case tea.KeyF6:
		return []byte("\x1b[17~")
	case tea.KeyF7:
		return []byte("\x1b[18~")
	case tea.KeyF8:
		return []byte("\x1b[19~")
	case tea.KeyF9:
		return []byte("\x1b[20~")
	case tea.KeyF10:
		return []byte("\x1b[21~")
	case tea.KeyF11:
		return []byte("\x1b[23~")
	case tea.KeyF12:
		return []byte("\x1b[24~")
	}
	return nil
}
