package prompt

import (
	"reflect"
	"testing"

	"pkt.systems/termdeck/internal/vt"
)

type session struct {
	term *vt.Terminal
	det  *Detector
}

func newSession() *session {
	return &session{term: vt.New(vt.Options{Cols: 80, Rows: 24}), det: New()}
}

func (s *session) feed(data string) Update {
	return s.det.Observe(s.term.Feed([]byte(data)), s.term.Screen())
}

func TestPromptCapturedWhenOutputPauses(t *testing.T) {
	s := newSession()
	u := s.feed("(base) ➜  ~")
	if u.PromptChanged {
		t.Fatalf("prompt captured while cursor was moving")
	}
	u = s.feed("\x1b[0m")
	if !u.PromptChanged || u.Prompt != "(base) ➜  ~" {
		t.Fatalf("unexpected update %+v", u)
	}
	u = s.feed("\x1b[K")
	if u.PromptChanged {
		t.Fatalf("unchanged prompt reported again")
	}
	u = s.feed("pwd\n/Users/x\n")
	if !reflect.DeepEqual(u.Commands, []string{"pwd"}) {
		t.Fatalf("unexpected commands %q", u.Commands)
	}
}

func TestCapturedPromptLeavesFinalizedCommandBare(t *testing.T) {
	s := newSession()
	for _, chunk := range []string{"(base) ➜  ~", "\x1b[0m", "\x1b[K"} {
		s.feed(chunk)
	}
	res := s.term.Feed([]byte("pwd\n/Users/x\n"))
	var got []string
	for _, line := range res.Finalized {
		got = append(got, line.Text())
	}
	if !reflect.DeepEqual(got, []string{"pwd", "/Users/x"}) {
		t.Fatalf("unexpected finalized rows %q", got)
	}
	if u := s.det.Observe(res, s.term.Screen()); !reflect.DeepEqual(u.Commands, []string{"pwd"}) {
		t.Fatalf("unexpected commands %q", u.Commands)
	}
}

func TestIdleCapture(t *testing.T) {
	s := newSession()
	s.feed("user@host:~$ ")
	u := s.det.Idle(s.term.Screen())
	if !u.PromptChanged || u.Prompt != "user@host:~$" {
		t.Fatalf("unexpected idle update %+v", u)
	}
}

func TestInputSuppressesCapture(t *testing.T) {
	s := newSession()
	s.feed("$ ")
	s.det.Idle(s.term.Screen())
	s.det.NoteInput()
	s.feed("ls")
	if u := s.det.Idle(s.term.Screen()); u.PromptChanged {
		t.Fatalf("typed text captured as prompt: %+v", u)
	}
	u := s.feed("\r\nfile\r\n$ ")
	if !reflect.DeepEqual(u.Commands, []string{"ls"}) {
		t.Fatalf("unexpected commands %q", u.Commands)
	}
	if u := s.det.Idle(s.term.Screen()); u.PromptChanged {
		t.Fatalf("same prompt reported as changed")
	}
	if s.det.Prompt() != "$" {
		t.Fatalf("unexpected prompt %q", s.det.Prompt())
	}
}

func TestLastLoginIsNotAPrompt(t *testing.T) {
	s := newSession()
	s.feed("Last login: Mon Jan 1 on ttys001")
	if u := s.det.Idle(s.term.Screen()); u.PromptChanged {
		t.Fatalf("login banner captured: %+v", u)
	}
}

func TestAltScreenSkipsCapture(t *testing.T) {
	s := newSession()
	s.feed("\x1b[?1049h~ vim")
	if u := s.det.Idle(s.term.Screen()); u.PromptChanged {
		t.Fatalf("alternate screen captured: %+v", u)
	}
}

func TestTitleForwarded(t *testing.T) {
	s := newSession()
	u := s.feed("\x1b]2;build logs\x07")
	if !u.TitleChanged || u.Title != "build logs" || s.det.Title() != "build logs" {
		t.Fatalf("unexpected update %+v", u)
	}
	if u.PromptChanged {
		t.Fatalf("empty cursor row must not become a prompt")
	}
}

func TestClassifyWithoutPrompt(t *testing.T) {
	d := New()
	if _, ok := d.Classify(vt.Line{}); ok {
		t.Fatalf("expected no command without a prompt")
	}
}
