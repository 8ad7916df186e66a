package core

import (
	"strings"

	"pkt.systems/termdeck/internal/ring"
)

// historyBuffer keeps the commands a session ran, newest last.
type historyBuffer struct {
	entries *ring.Ring[string]
}

func newHistory(max int) *historyBuffer {
	return &historyBuffer{entries: ring.New[string](max)}
}

// Append records entry unless it is blank or repeats the previous entry.
func (h *historyBuffer) Append(entry string) bool {
	if h == nil {
		return false
	}
	if strings.TrimSpace(entry) == "" {
		return false
	}
	if last, ok := h.entries.Last(); ok && last == entry {
		return false
	}
	h.entries.Push(entry)
	return true
}

func (h *historyBuffer) Entries() []string {
	if h == nil {
		return nil
	}
	return h.entries.All()
}
