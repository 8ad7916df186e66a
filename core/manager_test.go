package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/termdeck/internal/actor"
	"pkt.systems/termdeck/internal/vt"
	"pkt.systems/termdeck/schema"
)

type fakeChannel struct {
	reader *io.PipeReader
	remote *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	sizes   [][2]int
	closed  bool
}

func newFakeChannel() *fakeChannel {
	r, w := io.Pipe()
	return &fakeChannel{reader: r, remote: w}
}

func (f *fakeChannel) Read(p []byte) (int, error) { return f.reader.Read(p) }

func (f *fakeChannel) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Write(p)
}

func (f *fakeChannel) Resize(cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = append(f.sizes, [2]int{cols, rows})
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.reader.Close()
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) writtenString() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

func (f *fakeChannel) lastSize() [2]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sizes) == 0 {
		return [2]int{}
	}
	return f.sizes[len(f.sizes)-1]
}

type fakeDialer struct {
	mu    sync.Mutex
	chans []*fakeChannel
	err   error
}

func (d *fakeDialer) Dial(context.Context, schema.ConnectionConfig) (actor.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	ch := newFakeChannel()
	d.chans = append(d.chans, ch)
	return ch, nil
}

func (d *fakeDialer) channel(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chans[i]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.chans)
}

type recordingSink struct {
	mu       sync.Mutex
	tabs     []schema.TabEvent
	sessions []schema.SessionEvent
}

func (r *recordingSink) OnTabEvent(ev schema.TabEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tabs = append(r.tabs, ev)
}

func (r *recordingSink) OnSessionEvent(ev schema.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, ev)
}

func (r *recordingSink) tabTypes() []schema.TabEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.TabEventType, len(r.tabs))
	for i, ev := range r.tabs {
		out[i] = ev.Type
	}
	return out
}

func (r *recordingSink) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.sessions {
		out = append(out, ev.Lines...)
	}
	return out
}

func newTestManager(t *testing.T, cfg schema.SessionConfig, dialer actor.Dialer) (*Manager, *actor.Registry, *recordingSink) {
	t.Helper()
	reg := actor.NewRegistry(actor.Options{Dialer: dialer})
	sink := &recordingSink{}
	m, err := NewManager(cfg, ManagerDeps{Registry: reg, EventSink: sink})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return m, reg, sink
}

// slowSpawnRegistry delays Spawn so a tab can be closed before its actor
// registers.
type slowSpawnRegistry struct {
	*actor.Registry
	delay time.Duration
}

func (r slowSpawnRegistry) Spawn(ctx context.Context, id schema.SessionID, cfg schema.ConnectionConfig) (*actor.Actor, error) {
	time.Sleep(r.delay)
	return r.Registry.Spawn(ctx, id, cfg)
}

func newSlowSpawnManager(t *testing.T, dialer actor.Dialer) (*Manager, *actor.Registry) {
	t.Helper()
	reg := actor.NewRegistry(actor.Options{Dialer: dialer})
	m, err := NewManager(schema.SessionConfig{}, ManagerDeps{
		Registry:  slowSpawnRegistry{Registry: reg, delay: 50 * time.Millisecond},
		EventSink: &recordingSink{},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return m, reg
}

func testConn() schema.ConnectionConfig {
	return schema.ConnectionConfig{Host: "example.test", Username: "alice", Password: "pw", Cols: 40, Rows: 10}
}

func tickUntil(t *testing.T, m *Manager, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met after ticking")
		}
		m.Tick(time.Now())
		time.Sleep(2 * time.Millisecond)
	}
}

func statusIs(t *testing.T, m *Manager, tabID schema.TabID, want schema.SessionStatus) func() bool {
	return func() bool {
		s, err := m.Session(tabID)
		if err != nil {
			t.Fatalf("session: %v", err)
		}
		status, _ := s.Status()
		return status == want
	}
}

func TestManagerStartsWithWelcomeTab(t *testing.T) {
	m, _, sink := newTestManager(t, schema.SessionConfig{}, &fakeDialer{})
	tabs := m.Tabs()
	if len(tabs) != 1 || tabs[0].Kind != schema.TabWelcome || !tabs[0].Active {
		t.Fatalf("expected one active welcome tab, got %+v", tabs)
	}
	first := tabs[0].ID
	if _, err := m.Session(first); !errors.Is(err, schema.ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal, got %v", err)
	}
	if err := m.Reconnect(context.Background(), first); !errors.Is(err, schema.ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal on reconnect, got %v", err)
	}

	if err := m.Close(context.Background(), first); err != nil {
		t.Fatalf("close: %v", err)
	}
	tabs = m.Tabs()
	if len(tabs) != 1 || tabs[0].Kind != schema.TabWelcome || tabs[0].ID == first || m.Active() != tabs[0].ID {
		t.Fatalf("expected a fresh welcome tab, got %+v", tabs)
	}
	got := sink.tabTypes()
	want := []schema.TabEventType{schema.TabEventCreated, schema.TabEventClosed, schema.TabEventCreated, schema.TabEventActivated}
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
	if err := m.Close(context.Background(), "missing"); err != nil {
		t.Fatalf("closing unknown tab should be a no-op, got %v", err)
	}
}

func TestOpenTerminalConnectsAndFeedsTranscript(t *testing.T) {
	dialer := &fakeDialer{}
	m, _, sink := newTestManager(t, schema.SessionConfig{}, dialer)
	ctx := context.Background()
	snap, err := m.OpenTerminal(ctx, testConn())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !snap.Active || snap.Kind != schema.TabTerminal || snap.Status != schema.StatusConnecting || snap.Name != "alice@example.test" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	tickUntil(t, m, statusIs(t, m, snap.ID, schema.StatusConnected))

	ch := dialer.channel(0)
	if _, err := ch.remote.Write([]byte("hello\r\nworld\r\n$ ")); err != nil {
		t.Fatalf("remote write: %v", err)
	}
	s, _ := m.Session(snap.ID)
	tickUntil(t, m, func() bool { return s.Snapshot(0).Prompt == "$" })

	view := s.Snapshot(0)
	if len(view.Transcript.Lines) != 2 || view.Transcript.Lines[0] != "hello" || view.Transcript.Lines[1] != "world" {
		t.Fatalf("unexpected transcript %v", view.Transcript.Lines)
	}
	if got := sink.lines(); len(got) != 2 {
		t.Fatalf("expected finalized lines in events, got %v", got)
	}
	if row := strings.TrimSpace(cellsRow(view, 2)); row != "$" {
		t.Fatalf("expected prompt on the third row, got %q", row)
	}

	if err := s.SendInput(ctx, []byte("ls\r")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := ch.writtenString(); got != "ls\r" {
		t.Fatalf("unexpected bytes written %q", got)
	}
	if _, err := ch.remote.Write([]byte("ls\r\nfile\r\n$ ")); err != nil {
		t.Fatalf("remote write: %v", err)
	}
	tickUntil(t, m, func() bool { return len(s.Snapshot(0).History) == 1 })
	if h := s.Snapshot(0).History; h[0] != "ls" {
		t.Fatalf("expected ls in history, got %v", h)
	}

	if err := s.Resize(ctx, 80, 24); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if got := ch.lastSize(); got != [2]int{80, 24} {
		t.Fatalf("expected remote resize to 80x24, got %v", got)
	}
	if err := s.Resize(ctx, 0, 24); !errors.Is(err, schema.ErrInvalidSize) {
		t.Fatalf("expected ErrInvalidSize, got %v", err)
	}
}

func cellsRow(view SessionView, y int) string {
	return vt.Line{Cells: view.Screen.Cells[y]}.Text()
}

func TestTerminalRepliesGoBackToRemote(t *testing.T) {
	dialer := &fakeDialer{}
	m, _, _ := newTestManager(t, schema.SessionConfig{}, dialer)
	snap, err := m.OpenTerminal(context.Background(), testConn())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tickUntil(t, m, statusIs(t, m, snap.ID, schema.StatusConnected))
	ch := dialer.channel(0)
	if _, err := ch.remote.Write([]byte("ab\x1b[6n")); err != nil {
		t.Fatalf("remote write: %v", err)
	}
	tickUntil(t, m, func() bool { return ch.writtenString() == "\x1b[1;3R" })
}

func TestTranscriptDropsOldestLines(t *testing.T) {
	dialer := &fakeDialer{}
	m, _, _ := newTestManager(t, schema.SessionConfig{TranscriptLines: 3}, dialer)
	snap, err := m.OpenTerminal(context.Background(), testConn())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tickUntil(t, m, statusIs(t, m, snap.ID, schema.StatusConnected))
	if _, err := dialer.channel(0).remote.Write([]byte("1\r\n2\r\n3\r\n4\r\n5\r\n")); err != nil {
		t.Fatalf("remote write: %v", err)
	}
	s, _ := m.Session(snap.ID)
	tickUntil(t, m, func() bool { return s.Snapshot(0).Transcript.TotalLines == 3 && s.Snapshot(0).Transcript.Lines[2] == "5" })
	if lines := s.Snapshot(0).Transcript.Lines; lines[0] != "3" {
		t.Fatalf("expected oldest lines dropped, got %v", lines)
	}
}

func TestConnectFailureMarksFailed(t *testing.T) {
	dialer := &fakeDialer{err: schema.AuthError("authenticate", errors.New("unable to authenticate"))}
	m, reg, _ := newTestManager(t, schema.SessionConfig{}, dialer)
	snap, err := m.OpenTerminal(context.Background(), testConn())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tickUntil(t, m, statusIs(t, m, snap.ID, schema.StatusFailed))
	s, _ := m.Session(snap.ID)
	if _, reason := s.Status(); !strings.Contains(reason, "unable to authenticate") {
		t.Fatalf("expected auth reason, got %q", reason)
	}
	if err := s.SendInput(context.Background(), []byte("x")); !errors.Is(err, schema.ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected no registered actors, got %d", reg.Len())
	}
}

func TestOpenTerminalRejectsInvalidConfig(t *testing.T) {
	m, _, _ := newTestManager(t, schema.SessionConfig{}, &fakeDialer{})
	if _, err := m.OpenTerminal(context.Background(), schema.ConnectionConfig{Username: "alice"}); !errors.Is(err, schema.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if len(m.Tabs()) != 1 {
		t.Fatalf("expected no tab for an invalid config")
	}
}

func TestRemoteExitDisconnects(t *testing.T) {
	dialer := &fakeDialer{}
	m, reg, _ := newTestManager(t, schema.SessionConfig{}, dialer)
	snap, err := m.OpenTerminal(context.Background(), testConn())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tickUntil(t, m, statusIs(t, m, snap.ID, schema.StatusConnected))
	ch := dialer.channel(0)
	if _, err := ch.remote.Write([]byte("bye\r\n")); err != nil {
		t.Fatalf("remote write: %v", err)
	}
	_ = ch.remote.Close()
	tickUntil(t, m, statusIs(t, m, snap.ID, schema.StatusDisconnected))
	s, _ := m.Session(snap.ID)
	if _, reason := s.Status(); !strings.Contains(reason, "EOF") {
		t.Fatalf("expected EOF reason, got %q", reason)
	}
	if lines := s.Snapshot(0).Transcript.Lines; len(lines) != 1 || lines[0] != "bye" {
		t.Fatalf("expected output before exit to be kept, got %v", lines)
	}
	tickUntil(t, m, func() bool { return reg.Len() == 0 })
}

func TestCloseTabDespawnsActor(t *testing.T) {
	dialer := &fakeDialer{}
	m, reg, _ := newTestManager(t, schema.SessionConfig{}, dialer)
	welcome := m.Active()
	snap, err := m.OpenTerminal(context.Background(), testConn())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tickUntil(t, m, statusIs(t, m, snap.ID, schema.StatusConnected))
	if reg.Len() != 1 {
		t.Fatalf("expected one actor, got %d", reg.Len())
	}
	if err := m.Close(context.Background(), snap.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected actor despawned, got %d", reg.Len())
	}
	if m.Active() != welcome || len(m.Tabs()) != 1 {
		t.Fatalf("expected the welcome tab to become active, got %+v", m.Tabs())
	}
}

func TestCloseWhileConnectingReleasesActor(t *testing.T) {
	dialer := &fakeDialer{}
	m, reg := newSlowSpawnManager(t, dialer)
	snap, err := m.OpenTerminal(context.Background(), testConn())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := m.Close(context.Background(), snap.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	tickUntil(t, m, func() bool {
		return dialer.count() == 1 && dialer.channel(0).isClosed() && reg.Len() == 0
	})
	time.Sleep(20 * time.Millisecond)
	if reg.Len() != 0 {
		t.Fatalf("expected no live actors, got %d", reg.Len())
	}
}

func TestReconnectWhileConnectingReleasesFirstActor(t *testing.T) {
	dialer := &fakeDialer{}
	m, reg := newSlowSpawnManager(t, dialer)
	ctx := context.Background()
	snap, err := m.OpenTerminal(ctx, testConn())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	old, _ := m.Session(snap.ID)
	if err := m.Reconnect(ctx, snap.ID); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	tickUntil(t, m, statusIs(t, m, snap.ID, schema.StatusConnected))
	tickUntil(t, m, func() bool {
		return dialer.count() == 2 && reg.Len() == 1 && dialer.channel(0).isClosed() != dialer.channel(1).isClosed()
	})
	fresh, _ := m.Session(snap.ID)
	if fresh.ID() == old.ID() {
		t.Fatalf("expected a new session")
	}
	if _, ok := reg.Get(fresh.ID()); !ok {
		t.Fatalf("expected the new session's actor to stay registered")
	}
	if _, ok := reg.Get(old.ID()); ok {
		t.Fatalf("expected the abandoned actor to be gone")
	}
	if status, _ := old.Status(); status != schema.StatusDisconnected {
		t.Fatalf("expected old session disconnected, got %s", status)
	}
}

func TestPromptEchoReachesTranscriptWithoutPrompt(t *testing.T) {
	dialer := &fakeDialer{}
	m, _, _ := newTestManager(t, schema.SessionConfig{}, dialer)
	snap, err := m.OpenTerminal(context.Background(), testConn())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tickUntil(t, m, statusIs(t, m, snap.ID, schema.StatusConnected))
	s, _ := m.Session(snap.ID)
	ch := dialer.channel(0)
	for _, chunk := range []string{"(base) ➜  ~", "\x1b[0m", "\x1b[K"} {
		if _, err := ch.remote.Write([]byte(chunk)); err != nil {
			t.Fatalf("remote write: %v", err)
		}
	}
	tickUntil(t, m, func() bool { return s.Snapshot(0).Prompt == "(base) ➜  ~" })
	if _, err := ch.remote.Write([]byte("pwd\n/Users/x\n")); err != nil {
		t.Fatalf("remote write: %v", err)
	}
	tickUntil(t, m, func() bool { return s.Snapshot(0).Transcript.TotalLines == 2 })
	view := s.Snapshot(0)
	if got := view.Transcript.Lines; got[0] != "pwd" || got[1] != "/Users/x" {
		t.Fatalf("unexpected transcript %q", got)
	}
	if len(view.History) != 1 || view.History[0] != "pwd" {
		t.Fatalf("unexpected history %q", view.History)
	}
}

func TestReconnectKeepsTranscriptWhenConfigured(t *testing.T) {
	dialer := &fakeDialer{}
	m, _, _ := newTestManager(t, schema.SessionConfig{KeepTranscriptOnReconnect: true}, dialer)
	ctx := context.Background()
	snap, err := m.OpenTerminal(ctx, testConn())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tickUntil(t, m, statusIs(t, m, snap.ID, schema.StatusConnected))
	if _, err := dialer.channel(0).remote.Write([]byte("before\r\n")); err != nil {
		t.Fatalf("remote write: %v", err)
	}
	old, _ := m.Session(snap.ID)
	tickUntil(t, m, func() bool { return old.Snapshot(0).Transcript.TotalLines == 1 })

	if err := m.Reconnect(ctx, snap.ID); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	tickUntil(t, m, statusIs(t, m, snap.ID, schema.StatusConnected))
	fresh, _ := m.Session(snap.ID)
	if fresh.ID() == old.ID() {
		t.Fatalf("expected a new session id")
	}
	if dialer.count() != 2 {
		t.Fatalf("expected a second dial, got %d", dialer.count())
	}
	if lines := fresh.Snapshot(0).Transcript.Lines; len(lines) != 1 || lines[0] != "before" {
		t.Fatalf("expected transcript carried over, got %v", lines)
	}
	if status, _ := old.Status(); status != schema.StatusDisconnected {
		t.Fatalf("expected old session disconnected, got %s", status)
	}
}

func TestTabRenameActivateCycle(t *testing.T) {
	m, _, _ := newTestManager(t, schema.SessionConfig{}, &fakeDialer{})
	ctx := context.Background()
	welcome := m.Active()
	a, err := m.OpenTerminal(ctx, testConn())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := m.Rename(a.ID, strings.Repeat("x", 40)); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if name := m.Tabs()[1].Name; len([]rune(string(name))) != tabNameMax || !strings.HasSuffix(string(name), tabNameSuffix) {
		t.Fatalf("expected truncated name, got %q", name)
	}
	if err := m.Rename(a.ID, "  "); err == nil {
		t.Fatalf("expected error for blank name")
	}
	if err := m.Activate("missing"); !errors.Is(err, schema.ErrTabNotFound) {
		t.Fatalf("expected ErrTabNotFound, got %v", err)
	}
	if next := m.Cycle(1); next != welcome {
		t.Fatalf("expected cycle to wrap to welcome, got %s", next)
	}
	if prev := m.Cycle(-1); prev != a.ID {
		t.Fatalf("expected cycle back to terminal, got %s", prev)
	}
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestLayoutListsTerminalTabs(t *testing.T) {
	m, _, _ := newTestManager(t, schema.SessionConfig{}, &fakeDialer{})
	ctx := context.Background()
	if got := m.Layout(); len(got) != 0 {
		t.Fatalf("expected empty layout, got %+v", got)
	}
	first, err := m.OpenTerminal(ctx, testConn())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	second := testConn()
	second.Name = "db"
	if _, err := m.OpenTerminal(ctx, second); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := m.Activate(first.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	layout := m.Layout()
	if len(layout) != 2 {
		t.Fatalf("expected two terminal tabs, got %+v", layout)
	}
	if !layout[0].Active || layout[1].Active {
		t.Fatalf("expected the first tab active, got %+v", layout)
	}
	if layout[0].Name != "alice@example.test" || layout[1].Name != "db" {
		t.Fatalf("unexpected names %q %q", layout[0].Name, layout[1].Name)
	}
	if layout[1].Connection.Host != "example.test" || layout[1].Connection.Port != schema.DefaultPort {
		t.Fatalf("unexpected connection %+v", layout[1].Connection)
	}
	_ = m.Shutdown(ctx)
}
