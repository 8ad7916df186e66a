package core

import "pkt.systems/termdeck/internal/ring"

// bufferView is a snapshot of a buffer's visible state.
type bufferView struct {
	Lines        []string
	TotalLines   int
	ScrollOffset int
	AtBottom     bool
}

// buffer stores finalized transcript lines and scroll state. The oldest line
// is dropped once the ring is full.
// ScrollOffset is the number of lines from the bottom; 0 means at bottom.
type buffer struct {
	lines        *ring.Ring[string]
	scrollOffset int
}

func newBuffer(maxLines int) *buffer {
	return &buffer{lines: ring.New[string](maxLines)}
}

// Append adds lines to the buffer. If the buffer is scrolled up, the scroll offset
// is increased to keep the view anchored.
func (b *buffer) Append(lines ...string) {
	if len(lines) == 0 {
		return
	}
	for _, line := range lines {
		b.lines.Push(line)
	}
	if b.scrollOffset > 0 {
		b.scrollOffset += len(lines)
		if b.scrollOffset > b.lines.Len() {
			b.scrollOffset = b.lines.Len()
		}
	}
}

// ResetScroll returns the view to the bottom.
func (b *buffer) ResetScroll() {
	b.scrollOffset = 0
}

// Scroll adjusts the scroll offset by delta. Positive delta scrolls up (older lines),
// negative delta scrolls down. Limit is the viewport height.
func (b *buffer) Scroll(delta, limit int) {
	b.scrollOffset = clampScroll(b.scrollOffset+delta, b.lines.Len(), limit)
}

// Snapshot returns a view of the buffer for the given viewport limit.
func (b *buffer) Snapshot(limit int) bufferView {
	total := b.lines.Len()
	if limit <= 0 || limit > total {
		limit = total
	}

	maxScroll := maxScroll(total, limit)
	if b.scrollOffset > maxScroll {
		b.scrollOffset = maxScroll
	}

	end := total - b.scrollOffset
	start := end - limit
	if start < 0 {
		start = 0
	}

	return bufferView{
		Lines:        b.lines.Slice(start, end),
		TotalLines:   total,
		ScrollOffset: b.scrollOffset,
		AtBottom:     b.scrollOffset == 0,
	}
}

// copyInto replays the stored lines into dst, oldest first.
func (b *buffer) copyInto(dst *buffer) {
	dst.Append(b.lines.All()...)
}

func maxScroll(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	if total <= limit {
		return 0
	}
	return total - limit
}

func clampScroll(offset, total, limit int) int {
	max := maxScroll(total, limit)
	if offset < 0 {
		return 0
	}
	if offset > max {
		return max
	}
	return offset
}
