package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/termdeck/internal/actor"
	"pkt.systems/termdeck/internal/logx"
	"pkt.systems/termdeck/internal/prompt"
	"pkt.systems/termdeck/internal/vt"
	"pkt.systems/termdeck/schema"
)

// maxChunksPerTick bounds how much output one Tick feeds, so a flooding remote
// cannot starve rendering.
const maxChunksPerTick = 256

var (
	pasteStart = []byte("\x1b[200~")
	pasteEnd   = []byte("\x1b[201~")
)

// SessionView is the render state of a session.
type SessionView struct {
	ID         schema.SessionID
	Tab        schema.TabID
	Name       string
	Status     schema.SessionStatus
	Reason     string
	Prompt     string
	Title      string
	IconName   string
	Screen     vt.Snapshot
	Transcript bufferView
	History    []string
	Anomalies  int
}

type connectOutcome struct {
	actor *actor.Actor
	err   error
}

// Session binds one remote shell to its terminal screen. Tick is the only
// place output reaches the terminal; a mutex orders it against readers on
// other goroutines.
type Session struct {
	id   schema.SessionID
	tab  schema.TabID
	conn schema.ConnectionConfig
	cfg  schema.SessionConfig
	reg  Registry
	sink EventSink
	log  pslog.Logger

	outcomes chan connectOutcome

	mu         sync.Mutex
	status     schema.SessionStatus
	reason     string
	term       *vt.Terminal
	detector   *prompt.Detector
	transcript *buffer
	history    *historyBuffer
	handle     *actor.Actor
	lastOutput time.Time
	idleDone   bool
	pending    schema.SessionEvent
}

func newSession(ctx context.Context, tabID schema.TabID, conn schema.ConnectionConfig, cfg schema.SessionConfig, reg Registry, sink EventSink) *Session {
	id := newSessionID()
	log := logx.WithConnection(logx.WithTabSession(ctx, tabID, id), conn)
	s := &Session{
		id:         id,
		tab:        tabID,
		conn:       conn,
		cfg:        cfg,
		reg:        reg,
		sink:       sink,
		log:        log,
		outcomes:   make(chan connectOutcome, 1),
		status:     schema.StatusConnecting,
		detector:   prompt.New(),
		transcript: newBuffer(cfg.TranscriptLines),
		history:    newHistory(cfg.HistoryLines),
	}
	s.term = vt.New(vt.Options{
		Cols:             conn.Cols,
		Rows:             conn.Rows,
		ScrollbackLines:  cfg.ScrollbackLines,
		MaxPendingEscape: cfg.MaxPendingEscape,
		OnAnomaly: func(desc string) {
			log.Debug("terminal parse anomaly", "sequence", desc)
		},
	})
	s.pending = schema.SessionEvent{Tab: tabID, Session: id}
	return s
}

// ID returns the session id.
func (s *Session) ID() schema.SessionID {
	return s.id
}

// Config returns the connection config the session was opened with.
func (s *Session) Config() schema.ConnectionConfig {
	return s.conn
}

// Status returns the connection state and, for Failed or Disconnected, why.
func (s *Session) Status() (schema.SessionStatus, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.reason
}

// connect spawns the actor in the background. The outcome is applied on the
// next Tick. An actor that comes up after the session was disconnected is
// despawned here, since Disconnect found nothing to tear down.
func (s *Session) connect(ctx context.Context) {
	s.log.Info("session connect start")
	ctx = logx.ContextWithTabSessionLogger(ctx, s.log, s.tab, s.id)
	go func() {
		a, err := s.reg.Spawn(ctx, s.id, s.conn)
		if err == nil && s.abandoned() {
			s.log.Info("session connect abandoned")
			if err := s.reg.Despawn(context.WithoutCancel(ctx), s.id); err != nil {
				s.log.Debug("abandoned actor close failed", "err", err)
			}
			return
		}
		s.outcomes <- connectOutcome{actor: a, err: err}
	}()
}

func (s *Session) abandoned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status != schema.StatusConnecting
}

// Tick applies pending connection outcomes, feeds queued output to the
// terminal and runs prompt detection. It never blocks on the network and
// reports whether anything visible changed.
func (s *Session) Tick(now time.Time) bool {
	s.mu.Lock()
	changed := s.applyOutcomeLocked()
	if s.handle != nil && s.status == schema.StatusConnected {
		if s.drainLocked() {
			changed = true
		}
	}
	if s.status == schema.StatusConnected && !s.idleDone && !s.lastOutput.IsZero() && now.Sub(s.lastOutput) >= s.cfg.IdlePrompt {
		s.idleDone = true
		s.applyDetectionLocked(s.detector.Idle(s.term.Screen()))
	}
	event := s.takeEventLocked()
	s.mu.Unlock()

	if !event.Empty() {
		s.sink.OnSessionEvent(event)
		changed = true
	}
	return changed
}

func (s *Session) applyOutcomeLocked() bool {
	var out connectOutcome
	select {
	case out = <-s.outcomes:
	default:
		return false
	}
	if s.status != schema.StatusConnecting {
		// Disconnected after the actor registered; Despawn tore it down.
		return false
	}
	if out.err != nil {
		s.setStatusLocked(schema.StatusFailed, out.err.Error())
		s.log.Warn("session connect failed", "err", out.err)
		return true
	}
	s.handle = out.actor
	s.setStatusLocked(schema.StatusConnected, "")
	s.log.Info("session connected")
	return true
}

func (s *Session) drainLocked() bool {
	changed := false
	for i := 0; i < maxChunksPerTick; i++ {
		select {
		case chunk, ok := <-s.handle.Chunks():
			if !ok {
				s.remoteClosedLocked()
				return true
			}
			s.feedLocked(chunk)
			changed = true
		default:
			return changed
		}
	}
	return changed
}

func (s *Session) remoteClosedLocked() {
	err := s.handle.Err()
	s.handle = nil
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	s.setStatusLocked(schema.StatusDisconnected, reason)
	s.log.Info("session remote closed", "err", err)
	// Release the registry slot; the actor already terminated.
	go func() {
		_ = s.reg.Despawn(context.Background(), s.id)
	}()
}

func (s *Session) feedLocked(chunk actor.Chunk) {
	res := s.term.Feed(chunk.Data)
	if len(res.Replies) > 0 {
		if err := s.reg.TryDispatch(s.id, actor.SendBytes{Data: res.Replies}); err != nil {
			s.log.Debug("terminal reply dropped", "bytes", len(res.Replies), "err", err)
		}
	}
	if len(res.Finalized) > 0 {
		lines := make([]string, len(res.Finalized))
		for i, line := range res.Finalized {
			lines[i] = line.Text()
		}
		s.transcript.Append(lines...)
		s.pending.Lines = append(s.pending.Lines, lines...)
	}
	s.lastOutput = chunk.At
	s.idleDone = false
	s.applyDetectionLocked(s.detector.Observe(res, s.term.Screen()))
}

func (s *Session) applyDetectionLocked(u prompt.Update) {
	if u.PromptChanged {
		s.pending.Prompt = u.Prompt
		s.pending.PromptChanged = true
	}
	if u.TitleChanged {
		s.pending.Title = u.Title
		s.pending.TitleChanged = true
	}
	for _, cmd := range u.Commands {
		if s.history.Append(cmd) {
			s.pending.Commands = append(s.pending.Commands, cmd)
		}
	}
}

func (s *Session) setStatusLocked(status schema.SessionStatus, reason string) {
	s.status = status
	s.reason = reason
	s.pending.Status = status
	s.pending.Reason = reason
	s.pending.StatusChanged = true
}

func (s *Session) takeEventLocked() schema.SessionEvent {
	event := s.pending
	s.pending = schema.SessionEvent{Tab: s.tab, Session: s.id}
	return event
}

// SendInput writes keystrokes to the remote shell.
func (s *Session) SendInput(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	s.mu.Lock()
	if s.status != schema.StatusConnected {
		s.mu.Unlock()
		return schema.ErrDisconnected
	}
	s.detector.NoteInput()
	s.mu.Unlock()
	return s.dispatch(ctx, actor.SendBytes{Data: append([]byte(nil), data...)})
}

// Modes returns the terminal mode flags that affect input encoding.
func (s *Session) Modes() vt.Modes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term.Screen().Modes()
}

// SendPaste writes pasted text, bracketed when the remote enabled bracketed
// paste mode.
func (s *Session) SendPaste(ctx context.Context, text string) error {
	s.mu.Lock()
	bracketed := s.term.Screen().Modes().BracketedPaste
	s.mu.Unlock()
	if !bracketed {
		return s.SendInput(ctx, []byte(text))
	}
	data := make([]byte, 0, len(pasteStart)+len(text)+len(pasteEnd))
	data = append(data, pasteStart...)
	data = append(data, text...)
	data = append(data, pasteEnd...)
	return s.SendInput(ctx, data)
}

// Resize resizes the screen and, when connected, the remote pty.
func (s *Session) Resize(ctx context.Context, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("%w: %dx%d", schema.ErrInvalidSize, cols, rows)
	}
	s.mu.Lock()
	if curCols, curRows := s.term.Screen().Size(); curCols == cols && curRows == rows {
		s.mu.Unlock()
		return nil
	}
	s.term.Resize(cols, rows)
	connected := s.status == schema.StatusConnected
	s.mu.Unlock()
	if !connected {
		return nil
	}
	return s.dispatch(ctx, actor.Resize{Cols: cols, Rows: rows})
}

// ScrollTranscript moves the transcript view by delta lines; positive scrolls back.
func (s *Session) ScrollTranscript(delta, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript.Scroll(delta, limit)
}

// ResetTranscriptScroll returns the transcript view to the newest lines.
func (s *Session) ResetTranscriptScroll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript.ResetScroll()
}

func (s *Session) dispatch(ctx context.Context, cmd actor.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()
	err := s.reg.Dispatch(ctx, s.id, cmd)
	if errors.Is(err, schema.ErrSessionNotFound) {
		err = schema.ErrDisconnected
	}
	if err != nil && !errors.Is(err, schema.ErrDisconnected) {
		s.log.Warn("session dispatch failed", "command", fmt.Sprintf("%T", cmd), "err", err)
	}
	return err
}

// Disconnect closes the connection. The screen stays as it was.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return nil
	}
	s.setStatusLocked(schema.StatusDisconnected, "")
	s.handle = nil
	event := s.takeEventLocked()
	s.mu.Unlock()

	s.sink.OnSessionEvent(event)
	s.log.Info("session disconnect")
	return s.reg.Despawn(ctx, s.id)
}

// Snapshot returns the render state. The transcript view is sized to limit
// lines; zero returns every line.
func (s *Session) Snapshot(limit int) SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionView{
		ID:         s.id,
		Tab:        s.tab,
		Name:       s.conn.DisplayName(),
		Status:     s.status,
		Reason:     s.reason,
		Prompt:     s.detector.Prompt(),
		Title:      s.term.Title(),
		IconName:   s.term.IconName(),
		Screen:     s.term.Screen().Snapshot(),
		Transcript: s.transcript.Snapshot(limit),
		History:    s.history.Entries(),
		Anomalies:  s.term.Anomalies(),
	}
}
