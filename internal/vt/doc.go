// Package vt implements a VT100/xterm terminal state machine.
//
// A Terminal consumes the raw byte stream of a remote shell and maintains a
// styled character grid with cursor, scroll region, modes, an alternate
// screen and a bounded scrollback. Feed is synchronous and never blocks;
// partial escape sequences and partial UTF-8 runes are carried across calls,
// so splitting a stream at arbitrary byte boundaries yields the same state as
// feeding it whole.
//
// Supported sequences:
//
//   - C0: BEL, BS, HT, LF, VT, FF, CR
//   - ESC: 7 8 D E H M c = > #8, charset designations (consumed)
//   - CSI: A B C D E F G H I J K L M P S T X Z @ ` a d e f g h l m n r s u c
//   - DEC private modes: 1 6 7 25 47 1047 1048 1049 2004 (mouse modes consumed)
//   - OSC: 0 1 2 (title and icon name), others consumed
//   - DCS, SOS, PM, APC strings: consumed
//
// Bytes are tokenized by the DEC-compatible state machine of
// github.com/charmbracelet/x/ansi. Only 7-bit C1 forms are honoured: in the
// UTF-8 streams a terminal deck sees, a lone byte in 0x80-0x9F is broken
// text and prints as U+FFFD. A string sequence longer than
// Options.MaxPendingEscape is dropped and parsing resumes at ground.
//
// Unknown sequences are discarded without touching the grid and are counted
// as anomalies.
package vt
