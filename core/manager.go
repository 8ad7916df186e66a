package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/termdeck/internal/logx"
	"pkt.systems/termdeck/schema"
)

// Manager owns the tab list. It starts with a single welcome tab and never
// runs out of tabs: closing the last one opens a fresh welcome tab.
type Manager struct {
	reg    Registry
	sink   EventSink
	logger pslog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cfg    schema.SessionConfig
	tabs   map[schema.TabID]*tab
	order  []schema.TabID
	active schema.TabID
}

// NewManager constructs a tab manager.
func NewManager(cfg schema.SessionConfig, deps ManagerDeps) (*Manager, error) {
	if deps.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if deps.EventSink == nil {
		deps.EventSink = nopSink{}
	}
	if deps.Logger == nil {
		deps.Logger = pslog.Ctx(context.Background())
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	m := &Manager{
		reg:    deps.Registry,
		sink:   deps.EventSink,
		logger: deps.Logger,
		now:    deps.Now,
		cfg:    schema.NormalizeSessionConfig(cfg),
		tabs:   make(map[schema.TabID]*tab),
	}
	m.mu.Lock()
	welcome := m.addWelcomeLocked()
	m.mu.Unlock()
	m.sink.OnTabEvent(welcome)
	return m, nil
}

// SetSessionConfig replaces the defaults used for sessions opened from now on.
func (m *Manager) SetSessionConfig(cfg schema.SessionConfig) {
	m.mu.Lock()
	m.cfg = schema.NormalizeSessionConfig(cfg)
	m.mu.Unlock()
	m.logger.Info("session defaults updated")
}

func (m *Manager) addWelcomeLocked() schema.TabEvent {
	t := &tab{ID: newTabID(), Name: welcomeTabName, Kind: schema.TabWelcome}
	m.tabs[t.ID] = t
	m.order = append(m.order, t.ID)
	if m.active == "" {
		m.active = t.ID
	}
	return schema.TabEvent{Type: schema.TabEventCreated, Tab: t.ID, Kind: t.Kind, Name: t.Name}
}

// OpenTerminal opens a terminal tab for conn, starts connecting and makes it
// the active tab. The connection outcome shows up on a later Tick.
func (m *Manager) OpenTerminal(ctx context.Context, conn schema.ConnectionConfig) (schema.TabSnapshot, error) {
	conn, err := schema.NormalizeConnectionConfig(conn)
	if err != nil {
		return schema.TabSnapshot{}, err
	}
	t := &tab{ID: newTabID(), Name: formatTabName(conn.DisplayName()), Kind: schema.TabTerminal}
	log := logx.WithConnection(logx.WithTab(ctx, t.ID), conn)

	m.mu.Lock()
	t.session = newSession(ctx, t.ID, conn, m.cfg, m.reg, m.sink)
	m.tabs[t.ID] = t
	m.order = append(m.order, t.ID)
	m.active = t.ID
	snap := t.Snapshot(true)
	m.mu.Unlock()

	m.sink.OnTabEvent(schema.TabEvent{Type: schema.TabEventCreated, Tab: t.ID, Kind: t.Kind, Name: t.Name})
	m.sink.OnTabEvent(schema.TabEvent{Type: schema.TabEventActivated, Tab: t.ID, Kind: t.Kind, Name: t.Name})
	t.session.connect(ctx)
	log.Info("tab opened", "session", t.session.ID())
	return snap, nil
}

// Close closes a tab, disconnecting its session first. Closing an unknown tab
// is a no-op.
func (m *Manager) Close(ctx context.Context, tabID schema.TabID) error {
	m.mu.Lock()
	t, ok := m.tabs[tabID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	var err error
	if t.session != nil {
		err = t.session.Disconnect(ctx)
	}

	m.mu.Lock()
	if _, still := m.tabs[tabID]; !still {
		m.mu.Unlock()
		return err
	}
	idx := m.indexLocked(tabID)
	delete(m.tabs, tabID)
	m.order = append(m.order[:idx], m.order[idx+1:]...)
	events := []schema.TabEvent{{Type: schema.TabEventClosed, Tab: t.ID, Kind: t.Kind, Name: t.Name}}
	if len(m.order) == 0 {
		m.active = ""
		events = append(events, m.addWelcomeLocked())
		m.active = ""
	}
	if m.active == tabID || m.active == "" {
		if idx >= len(m.order) {
			idx = len(m.order) - 1
		}
		m.active = m.order[idx]
		next := m.tabs[m.active]
		events = append(events, schema.TabEvent{Type: schema.TabEventActivated, Tab: next.ID, Kind: next.Kind, Name: next.Name})
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.sink.OnTabEvent(ev)
	}
	logx.WithTab(ctx, tabID).Info("tab closed")
	return err
}

// Activate makes tabID the active tab.
func (m *Manager) Activate(tabID schema.TabID) error {
	m.mu.Lock()
	t, ok := m.tabs[tabID]
	if !ok {
		m.mu.Unlock()
		return schema.ErrTabNotFound
	}
	m.active = tabID
	m.mu.Unlock()
	m.sink.OnTabEvent(schema.TabEvent{Type: schema.TabEventActivated, Tab: t.ID, Kind: t.Kind, Name: t.Name})
	return nil
}

// Cycle activates the tab delta positions away from the active one, wrapping.
func (m *Manager) Cycle(delta int) schema.TabID {
	m.mu.Lock()
	n := len(m.order)
	idx := m.indexLocked(m.active)
	next := m.order[((idx+delta)%n+n)%n]
	m.mu.Unlock()
	_ = m.Activate(next)
	return next
}

// Rename sets a tab's display name.
func (m *Manager) Rename(tabID schema.TabID, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("tab name is required")
	}
	m.mu.Lock()
	t, ok := m.tabs[tabID]
	if !ok {
		m.mu.Unlock()
		return schema.ErrTabNotFound
	}
	t.Name = formatTabName(name)
	ev := schema.TabEvent{Type: schema.TabEventRenamed, Tab: t.ID, Kind: t.Kind, Name: t.Name}
	m.mu.Unlock()
	m.sink.OnTabEvent(ev)
	return nil
}

// Reconnect replaces a terminal tab's session with a fresh one for the same
// connection. The screen and scrollback start empty; the transcript carries
// over only when KeepTranscriptOnReconnect is set.
func (m *Manager) Reconnect(ctx context.Context, tabID schema.TabID) error {
	m.mu.Lock()
	t, ok := m.tabs[tabID]
	if !ok {
		m.mu.Unlock()
		return schema.ErrTabNotFound
	}
	if t.session == nil {
		m.mu.Unlock()
		return schema.ErrNotTerminal
	}
	old := t.session
	cfg := m.cfg
	m.mu.Unlock()

	if err := old.Disconnect(ctx); err != nil {
		logx.WithTab(ctx, tabID).Warn("reconnect despawn failed", "err", err)
	}
	log := logx.WithConnection(logx.WithTab(ctx, tabID), old.Config())
	fresh := newSession(ctx, tabID, old.Config(), cfg, m.reg, m.sink)
	if cfg.KeepTranscriptOnReconnect {
		old.mu.Lock()
		old.transcript.copyInto(fresh.transcript)
		old.mu.Unlock()
	}

	m.mu.Lock()
	if m.tabs[tabID] != t {
		m.mu.Unlock()
		return schema.ErrTabNotFound
	}
	t.session = fresh
	m.mu.Unlock()
	fresh.connect(ctx)
	log.Info("tab reconnect", "session", fresh.ID(), "previous", old.ID())
	return nil
}

// Tabs returns the tabs in display order.
func (m *Manager) Tabs() []schema.TabSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.TabSnapshot, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.tabs[id].Snapshot(id == m.active))
	}
	return out
}

// TabLayout is a terminal tab as it would be reopened.
type TabLayout struct {
	Name       schema.TabName
	Connection schema.ConnectionConfig
	Active     bool
}

// Layout returns the terminal tabs in display order. Welcome tabs are left out.
func (m *Manager) Layout() []TabLayout {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TabLayout
	for _, id := range m.order {
		t := m.tabs[id]
		if t.session == nil {
			continue
		}
		out = append(out, TabLayout{Name: t.Name, Connection: t.session.Config(), Active: id == m.active})
	}
	return out
}

// Active returns the active tab id.
func (m *Manager) Active() schema.TabID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Session returns the session of a terminal tab.
func (m *Manager) Session(tabID schema.TabID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[tabID]
	if !ok {
		return nil, schema.ErrTabNotFound
	}
	if t.session == nil {
		return nil, schema.ErrNotTerminal
	}
	return t.session, nil
}

// Tick ticks every session and reports whether anything changed.
func (m *Manager) Tick(now time.Time) bool {
	if now.IsZero() {
		now = m.now()
	}
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		if s := m.tabs[id].session; s != nil {
			sessions = append(sessions, s)
		}
	}
	m.mu.Unlock()
	changed := false
	for _, s := range sessions {
		if s.Tick(now) {
			changed = true
		}
	}
	return changed
}

// Shutdown disconnects every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		if s := m.tabs[id].session; s != nil {
			sessions = append(sessions, s)
		}
	}
	m.mu.Unlock()
	var errs []error
	for _, s := range sessions {
		if err := s.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.logger.Info("tab manager shutdown", "sessions", len(sessions))
	return errors.Join(errs...)
}

func (m *Manager) indexLocked(tabID schema.TabID) int {
	for i, id := range m.order {
		if id == tabID {
			return i
		}
	}
	return 0
}
