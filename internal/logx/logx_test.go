package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
	"pkt.systems/termdeck/schema"
)

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestWithConnectionAddsFields(t *testing.T) {
	capture := &logCapture{}
	log := WithConnection(newCaptureLogger(capture), schema.ConnectionConfig{Host: "db1", Port: 2222, Username: "ops"})
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["host"] != "db1:2222" {
		t.Fatalf("expected host field, got %+v", entry)
	}
	if entry["user"] != "ops" {
		t.Fatalf("expected user field, got %+v", entry)
	}
}

func TestWithConnectionSkipsEmpty(t *testing.T) {
	capture := &logCapture{}
	log := WithConnection(newCaptureLogger(capture), schema.ConnectionConfig{})
	log.Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["host"]; ok {
		t.Fatalf("did not expect host for empty config")
	}
}

func TestWithTabSessionAddsFields(t *testing.T) {
	capture := &logCapture{}
	ctx := pslog.ContextWithLogger(context.Background(), newCaptureLogger(capture))
	log := WithTabSession(ctx, "tab1", "s1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["tab"] != "tab1" {
		t.Fatalf("expected tab field, got %+v", entry)
	}
	if entry["session"] != "s1" {
		t.Fatalf("expected session field, got %+v", entry)
	}
}

func TestContextMarkersDeduplicate(t *testing.T) {
	capture := &logCapture{}
	base := newCaptureLogger(capture).With("tab", "tab1")
	ctx := ContextWithTabSessionLogger(context.Background(), base, "tab1", "")
	WithTab(ctx, "tab1").Info("hello")

	line := capture.buf.String()
	if bytes.Count([]byte(line), []byte(`"tab"`)) != 1 {
		t.Fatalf("expected a single tab field, got %s", line)
	}
}

func TestSessionLoggerPrefersMarkedContext(t *testing.T) {
	capture := &logCapture{}
	sessionLog := newCaptureLogger(capture).With("tab", "tab1").With("session", "s1")
	ctx := ContextWithTabSessionLogger(context.Background(), sessionLog, "tab1", "s1")
	SessionLogger(ctx, pslog.Ctx(context.Background()), "s1").Info("hello")
	line := capture.buf.String()
	if bytes.Count([]byte(line), []byte(`"session"`)) != 1 || !bytes.Contains([]byte(line), []byte(`"tab"`)) {
		t.Fatalf("expected the context logger with one session field, got %s", line)
	}

	fallback := &logCapture{}
	SessionLogger(ctx, newCaptureLogger(fallback), "s2").Info("other")
	entry := fallback.firstEntry(t)
	if entry["session"] != "s2" {
		t.Fatalf("expected fallback annotated with s2, got %+v", entry)
	}
	if _, ok := entry["tab"]; ok {
		t.Fatalf("fallback must not inherit the marked tab, got %+v", entry)
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
