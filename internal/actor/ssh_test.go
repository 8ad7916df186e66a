package actor

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"pkt.systems/termdeck/internal/sshtest"
	"pkt.systems/termdeck/internal/transport"
	"pkt.systems/termdeck/schema"
)

func readUntil(t *testing.T, a *Actor, want string) string {
	t.Helper()
	var seen strings.Builder
	timeout := time.After(5 * time.Second)
	for !strings.Contains(seen.String(), want) {
		select {
		case chunk, ok := <-a.Chunks():
			if !ok {
				t.Fatalf("chunks closed before %q, got %q", want, seen.String())
			}
			seen.Write(chunk.Data)
		case <-timeout:
			t.Fatalf("timed out waiting for %q, got %q", want, seen.String())
		}
	}
	return seen.String()
}

func TestActorOverSSH(t *testing.T) {
	srv := sshtest.Start(t, sshtest.Options{
		Password:  "secret",
		Responses: map[string]string{"uptime": "up 3 days\r\n"},
	})
	cfg := schema.ConnectionConfig{
		Host:     srv.Host(),
		Port:     srv.Port(),
		Username: "bob",
		Password: "secret",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	opts := Options{Dialer: SSHDialer(transport.Options{DialTimeout: 5 * time.Second})}
	a, err := Open(ctx, cfg, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	readUntil(t, a, sshtest.DefaultPrompt)

	if err := a.Submit(ctx, SendBytes{Data: []byte("uptime\r")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	readUntil(t, a, "up 3 days")

	if err := a.Submit(ctx, Resize{Cols: 132, Rows: 50}); err != nil {
		t.Fatalf("resize: %v", err)
	}
	sshtest.Wait(t, 5*time.Second, func() bool {
		wins := srv.Windows()
		return len(wins) == 2 && wins[1].Width == 132 && wins[1].Height == 50
	})

	if err := a.Submit(ctx, SendBytes{Data: []byte("exit\r")}); err != nil {
		t.Fatalf("send exit: %v", err)
	}
	for range a.Chunks() {
	}
	<-a.Done()
	if !schema.IsNetwork(a.Err()) || !errors.Is(a.Err(), io.EOF) {
		t.Fatalf("expected network EOF after remote exit, got %v", a.Err())
	}
	if err := a.Submit(ctx, SendBytes{Data: []byte("x")}); !errors.Is(err, schema.ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestActorOpenWrongPassword(t *testing.T) {
	srv := sshtest.Start(t, sshtest.Options{Password: "secret"})
	cfg := schema.ConnectionConfig{Host: srv.Host(), Port: srv.Port(), Username: "bob", Password: "wrong"}
	_, err := Open(context.Background(), cfg, Options{})
	if !schema.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
