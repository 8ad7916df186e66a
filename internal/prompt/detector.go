// Package prompt derives the shell prompt, window title and executed
// commands from terminal output. Detection is heuristic and never fails.
package prompt

import (
	"strings"
	"unicode/utf8"

	"pkt.systems/termdeck/internal/vt"
)

// Source is the part of a screen the detector reads. MarkInputStart is
// called when a prompt is captured, so the row finalizes without it.
type Source interface {
	TextBeforeCursor() string
	AltScreen() bool
	MarkInputStart()
}

// Update reports what changed in one observation.
type Update struct {
	Prompt        string
	PromptChanged bool
	Title         string
	TitleChanged  bool
	// Commands holds the command text of finalized rows that began with the
	// prompt, in order.
	Commands []string
}

// Empty reports whether the update carries nothing.
func (u Update) Empty() bool {
	return !u.PromptChanged && !u.TitleChanged && len(u.Commands) == 0
}

// Detector tracks the prompt and title of one session.
type Detector struct {
	prompt       string
	title        string
	inputPending bool
}

// New returns an empty detector.
func New() *Detector {
	return &Detector{}
}

// Prompt returns the last captured prompt.
func (d *Detector) Prompt() string {
	return d.prompt
}

// Title returns the last title update.
func (d *Detector) Title() string {
	return d.title
}

// NoteInput records that the user sent input. Until a row is finalized the
// cursor row holds the user's own typing, so no prompt is captured.
func (d *Detector) NoteInput() {
	d.inputPending = true
}

// Observe inspects one feed result. A feed that did not move the cursor means
// output paused, and the cursor row is captured as the prompt.
func (d *Detector) Observe(res vt.Result, src Source) Update {
	var u Update
	if res.TitleChanged && res.Title != d.title {
		d.title = res.Title
		u.Title = res.Title
		u.TitleChanged = true
	}
	for _, line := range res.Finalized {
		if line.Input {
			if cmd := strings.TrimSpace(line.Text()); cmd != "" {
				u.Commands = append(u.Commands, cmd)
			}
			continue
		}
		if cmd, ok := d.Classify(line); ok {
			u.Commands = append(u.Commands, cmd)
		}
	}
	if len(res.Finalized) > 0 {
		d.inputPending = false
	}
	if !res.CursorMoved {
		d.capture(src, &u)
	}
	return u
}

// Idle captures the prompt after output has been quiet for a while.
func (d *Detector) Idle(src Source) Update {
	var u Update
	d.capture(src, &u)
	return u
}

func (d *Detector) capture(src Source, u *Update) {
	if d.inputPending || src == nil || src.AltScreen() {
		return
	}
	text := strings.TrimSpace(src.TextBeforeCursor())
	if text == "" || strings.HasPrefix(text, "Last login") {
		return
	}
	src.MarkInputStart()
	if text == d.prompt {
		return
	}
	d.prompt = text
	u.Prompt = text
	u.PromptChanged = true
}

// Classify returns the command typed after the prompt when line starts with
// the current prompt.
func (d *Detector) Classify(line vt.Line) (string, bool) {
	if d.prompt == "" {
		return "", false
	}
	text := line.Text()
	body := strings.TrimLeft(text, " ")
	if !strings.HasPrefix(body, d.prompt) {
		return "", false
	}
	lead := len(text) - len(body)
	rest := line.Slice(lead + utf8.RuneCountInString(d.prompt)).TrimLeft()
	cmd := strings.TrimSpace(rest.Text())
	if cmd == "" {
		return "", false
	}
	return cmd, true
}
