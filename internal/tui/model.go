// Package tui renders the tab manager with bubbletea and turns key presses
// into terminal input.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pkt.systems/pslog"
	"pkt.systems/termdeck/core"
	"pkt.systems/termdeck/internal/eventbus"
	"pkt.systems/termdeck/internal/version"
	"pkt.systems/termdeck/schema"
)

// DefaultTickInterval paces Manager.Tick and redraws.
const DefaultTickInterval = 33 * time.Millisecond

// Deck is the part of the tab manager the display drives.
// *core.Manager implements it.
type Deck interface {
	Tabs() []schema.TabSnapshot
	Active() schema.TabID
	Activate(tabID schema.TabID) error
	Cycle(delta int) schema.TabID
	Session(tabID schema.TabID) (*core.Session, error)
	OpenTerminal(ctx context.Context, cfg schema.ConnectionConfig) (schema.TabSnapshot, error)
	Close(ctx context.Context, tabID schema.TabID) error
	Reconnect(ctx context.Context, tabID schema.TabID) error
	Tick(now time.Time) bool
}

// Options configures the model.
type Options struct {
	Context context.Context
	// Events is drained once per tick for status notices.
	Events       <-chan eventbus.Event
	Theme        Theme
	Connections  []schema.ConnectionConfig
	TickInterval time.Duration
	Logger       pslog.Logger
}

type tickMsg time.Time

type errMsg struct{ err error }

// Model is the bubbletea model of the terminal deck.
type Model struct {
	deck     Deck
	ctx      context.Context
	events   <-chan eventbus.Event
	theme    Theme
	conns    []schema.ConnectionConfig
	interval time.Duration
	log      pslog.Logger

	width    int
	height   int
	prefix   bool
	notice   string
	quitting bool
	sized    map[schema.SessionID][2]int
}

// New returns a model over deck.
func New(deck Deck, opts Options) Model {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Theme.Name == "" {
		opts.Theme = ThemeByName(DefaultTheme)
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Logger == nil {
		opts.Logger = pslog.Ctx(opts.Context)
	}
	return Model{
		deck:     deck,
		ctx:      opts.Context,
		events:   opts.Events,
		theme:    opts.Theme,
		conns:    opts.Connections,
		interval: opts.TickInterval,
		log:      opts.Logger,
		sized:    make(map[schema.SessionID][2]int),
	}
}

// Run runs the display until the user quits or ctx ends.
func Run(ctx context.Context, deck Deck, opts Options) error {
	opts.Context = ctx
	p := tea.NewProgram(New(deck, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.tickCmd()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.deck.Tick(time.Time(msg))
		m.drainEvents()
		return m, tea.Batch(m.tickCmd(), m.syncSize())
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		clear(m.sized)
		return m, m.syncSize()
	case tea.KeyMsg:
		return m.handleKey(msg)
	case errMsg:
		m.notice = msg.err.Error()
	}
	return m, nil
}

func (m Model) bodySize() (cols, rows int) {
	cols, rows = m.width, m.height-2
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return cols, rows
}

// syncSize resizes the active session to the body area once per size.
func (m Model) syncSize() tea.Cmd {
	if m.width == 0 || m.height == 0 {
		return nil
	}
	s, err := m.deck.Session(m.deck.Active())
	if err != nil {
		return nil
	}
	// The pty is opened at the configured size; later sizes follow the window.
	if status, _ := s.Status(); status != schema.StatusConnected {
		return nil
	}
	cols, rows := m.bodySize()
	size := [2]int{cols, rows}
	if m.sized[s.ID()] == size {
		return nil
	}
	m.sized[s.ID()] = size
	ctx := m.ctx
	return func() tea.Msg {
		if err := s.Resize(ctx, cols, rows); err != nil && !errors.Is(err, schema.ErrDisconnected) {
			return errMsg{err: err}
		}
		return nil
	}
}

func (m *Model) drainEvents() {
	for _, ev := range eventbus.Drain(m.events) {
		switch ev.Type {
		case eventbus.EventTab:
			if ev.Tab.Type == schema.TabEventClosed {
				m.notice = fmt.Sprintf("closed %s", ev.Tab.Name)
			}
		case eventbus.EventSession:
			if !ev.Session.StatusChanged {
				continue
			}
			m.notice = ev.Session.Status.String()
			if ev.Session.Reason != "" {
				m.notice += ": " + ev.Session.Reason
			}
		}
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.prefix {
		m.prefix = false
		return m.handlePrefix(msg)
	}
	if msg.Type == tea.KeyCtrlCloseBracket {
		m.prefix = true
		return m, nil
	}
	s, err := m.deck.Session(m.deck.Active())
	if err != nil {
		return m.handleWelcomeKey(msg)
	}
	s.ResetTranscriptScroll()
	if msg.Paste {
		err = s.SendPaste(m.ctx, string(msg.Runes))
	} else if data := EncodeKey(msg, s.Modes().AppCursor); data != nil {
		err = s.SendInput(m.ctx, data)
	}
	m.noteSendError(err)
	return m, nil
}

func (m *Model) noteSendError(err error) {
	switch {
	case err == nil:
	case errors.Is(err, schema.ErrDisconnected):
		m.notice = "not connected, Ctrl+] r reconnects"
	default:
		m.notice = err.Error()
	}
}

func (m Model) handlePrefix(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	active := m.deck.Active()
	if msg.Type == tea.KeyCtrlCloseBracket {
		if s, err := m.deck.Session(active); err == nil {
			m.noteSendError(s.SendInput(m.ctx, []byte{0x1d}))
		}
		return m, nil
	}
	if msg.Type != tea.KeyRunes || len(msg.Runes) != 1 {
		return m, nil
	}
	r := msg.Runes[0]
	switch {
	case r == 'n':
		m.deck.Cycle(1)
		return m, m.syncSize()
	case r == 'p':
		m.deck.Cycle(-1)
		return m, m.syncSize()
	case r >= '1' && r <= '9':
		tabs := m.deck.Tabs()
		if i := int(r - '1'); i < len(tabs) {
			_ = m.deck.Activate(tabs[i].ID)
		}
		return m, m.syncSize()
	case r == 'w':
		if err := m.deck.Close(m.ctx, active); err != nil {
			m.notice = err.Error()
		}
		return m, m.syncSize()
	case r == 'r':
		if err := m.deck.Reconnect(m.ctx, active); err != nil {
			m.notice = err.Error()
			return m, nil
		}
		m.notice = "reconnecting"
		return m, m.syncSize()
	case r == 'k' || r == 'j':
		if s, err := m.deck.Session(active); err == nil {
			_, rows := m.bodySize()
			delta := rows
			if r == 'j' {
				delta = -rows
			}
			s.ScrollTranscript(delta, rows)
		}
		return m, nil
	case r == 'q':
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) handleWelcomeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type != tea.KeyRunes || len(msg.Runes) != 1 {
		return m, nil
	}
	r := msg.Runes[0]
	switch {
	case r == 'q':
		m.quitting = true
		return m, tea.Quit
	case r >= '1' && r <= '9':
		i := int(r - '1')
		if i >= len(m.conns) {
			return m, nil
		}
		conn := m.conns[i]
		if cols, rows := m.bodySize(); m.width > 0 {
			conn.Cols, conn.Rows = cols, rows
		}
		if _, err := m.deck.OpenTerminal(m.ctx, conn); err != nil {
			m.notice = err.Error()
			m.log.Warn("open saved connection failed", "name", conn.Name, "err", err)
		}
		return m, m.syncSize()
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "starting…"
	}
	cols, rows := m.bodySize()
	lines := make([]string, 0, rows+2)
	lines = append(lines, renderTabBar(m.deck.Tabs(), m.theme, m.width))

	s, err := m.deck.Session(m.deck.Active())
	if err != nil {
		lines = append(lines, renderText(m.welcomeLines(), cols, rows)...)
		lines = append(lines, m.statusLine("", false))
		return strings.Join(lines, "\n")
	}
	view := s.Snapshot(rows)
	if view.Transcript.ScrollOffset > 0 {
		lines = append(lines, renderText(view.Transcript.Lines, cols, rows)...)
	} else {
		lines = append(lines, renderGrid(view.Screen, cols, rows, view.Status == schema.StatusConnected)...)
	}
	text, failed := sessionStatus(view)
	lines = append(lines, m.statusLine(text, failed))
	return strings.Join(lines, "\n")
}

func sessionStatus(view core.SessionView) (string, bool) {
	var parts []string
	failed := false
	switch view.Status {
	case schema.StatusConnecting:
		parts = append(parts, "connecting to "+view.Name+"…")
	case schema.StatusConnected:
		parts = append(parts, view.Name)
		if view.Title != "" {
			parts = append(parts, view.Title)
		}
		if view.Prompt != "" {
			parts = append(parts, "prompt "+view.Prompt)
		}
	case schema.StatusFailed:
		failed = true
		parts = append(parts, "failed: "+view.Reason, "Ctrl+] r retries")
	case schema.StatusDisconnected:
		msg := "disconnected"
		if view.Reason != "" {
			msg += ": " + view.Reason
		}
		parts = append(parts, msg, "Ctrl+] r reconnects")
	}
	if view.Transcript.ScrollOffset > 0 {
		parts = append(parts, fmt.Sprintf("scrollback -%d", view.Transcript.ScrollOffset))
	}
	return strings.Join(parts, " | "), failed
}

func (m Model) statusLine(text string, failed bool) string {
	if m.prefix {
		text = "^] n/p tabs  1-9 jump  w close  r reconnect  k/j scroll  q quit"
	} else if m.notice != "" {
		if text != "" {
			text += " | "
		}
		text += m.notice
	}
	style := lipgloss.NewStyle().Foreground(m.theme.MetaFG).MaxWidth(m.width)
	if failed {
		style = style.Foreground(m.theme.ErrorFG)
	}
	return style.Render(text)
}

func (m Model) welcomeLines() []string {
	lines := []string{
		"termdeck " + version.Current(),
		"",
	}
	if len(m.conns) == 0 {
		lines = append(lines,
			"No saved connections.",
			"Add them under connections: in the config file or run: termdeck connect user@host",
		)
	} else {
		lines = append(lines, "Saved connections:")
		for i, conn := range m.conns {
			if i == 9 {
				break
			}
			lines = append(lines, fmt.Sprintf("  %d  %-16s %s@%s", i+1, conn.DisplayName(), conn.Username, conn.Address()))
		}
	}
	lines = append(lines,
		"",
		"Ctrl+] then: n/p next/previous tab, 1-9 jump, w close, r reconnect, k/j scroll, q quit",
	)
	return lines
}
