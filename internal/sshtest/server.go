// Package sshtest runs an in-process SSH server with a scripted shell for
// exercising the client stack end to end.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
)

// DefaultPrompt is printed before every line the shell reads.
const DefaultPrompt = "$ "

// Options configures the test server.
type Options struct {
	// Username is the only accepted login. Empty accepts any user.
	Username string
	// Password enables password and keyboard-interactive auth when set.
	Password string
	// AuthorizedKeys enables public key auth for the listed keys.
	AuthorizedKeys []ssh.PublicKey
	// Prompt defaults to DefaultPrompt.
	Prompt string
	// Banner is written once before the first prompt.
	Banner string
	// Responses maps a command line to the output printed after it.
	Responses map[string]string
	Logger    pslog.Logger
}

// Server is a running test server.
type Server struct {
	Addr    string
	HostKey ssh.PublicKey

	opts     Options
	srv      *gliderssh.Server
	listener net.Listener

	mu       sync.Mutex
	terms    []string
	windows  []gliderssh.Window
	received []byte
	sessions int
}

// Start listens on 127.0.0.1:0 and serves until the test ends.
func Start(t testing.TB, opts Options) *Server {
	t.Helper()
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	signer, err := hostSigner()
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{
		Addr:     ln.Addr().String(),
		HostKey:  signer.PublicKey(),
		opts:     opts,
		listener: ln,
	}
	s.srv = &gliderssh.Server{Handler: s.handleSession}
	if opts.Password != "" {
		s.srv.PasswordHandler = s.handlePassword
		s.srv.KeyboardInteractiveHandler = s.handleKeyboardInteractive
	}
	if len(opts.AuthorizedKeys) > 0 {
		s.srv.PublicKeyHandler = s.handlePublicKey
	}
	s.srv.AddHostKey(signer)
	go func() {
		_ = s.srv.Serve(ln)
	}()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr)
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Close stops the server.
func (s *Server) Close() error {
	return s.srv.Close()
}

// Terms returns the TERM of every pty request seen.
func (s *Server) Terms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.terms...)
}

// Windows returns the initial pty size and every window change, in order.
func (s *Server) Windows() []gliderssh.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gliderssh.Window(nil), s.windows...)
}

// Received returns every byte the shells read.
func (s *Server) Received() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.received)
}

// Sessions returns the number of shell sessions served.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// Wait polls cond until it holds or timeout passes.
func Wait(t testing.TB, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *Server) userOK(user string) bool {
	return s.opts.Username == "" || user == s.opts.Username
}

func (s *Server) handlePassword(ctx gliderssh.Context, password string) bool {
	ok := s.userOK(ctx.User()) && password == s.opts.Password
	s.logAuth("password", ctx.User(), ok)
	return ok
}

func (s *Server) handleKeyboardInteractive(ctx gliderssh.Context, challenger ssh.KeyboardInteractiveChallenge) bool {
	answers, err := challenger(ctx.User(), "", []string{"Password: "}, []bool{false})
	ok := err == nil && len(answers) == 1 && s.userOK(ctx.User()) && answers[0] == s.opts.Password
	s.logAuth("keyboard-interactive", ctx.User(), ok)
	return ok
}

func (s *Server) handlePublicKey(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
	ok := false
	if s.userOK(ctx.User()) {
		for _, allowed := range s.opts.AuthorizedKeys {
			if gliderssh.KeysEqual(key, allowed) {
				ok = true
				break
			}
		}
	}
	s.logAuth("publickey", ctx.User(), ok)
	return ok
}

func (s *Server) logAuth(method, user string, ok bool) {
	if s.opts.Logger == nil {
		return
	}
	if ok {
		s.opts.Logger.Info("sshtest auth accepted", "method", method, "user", user)
		return
	}
	s.opts.Logger.Warn("sshtest auth rejected", "method", method, "user", user)
}

func (s *Server) handleSession(sess gliderssh.Session) {
	pty, winCh, ok := sess.Pty()
	if !ok {
		_, _ = io.WriteString(sess, "pty required\n")
		_ = sess.Exit(1)
		return
	}
	s.mu.Lock()
	s.sessions++
	s.terms = append(s.terms, pty.Term)
	s.windows = append(s.windows, pty.Window)
	s.mu.Unlock()

	go func() {
		for win := range winCh {
			s.mu.Lock()
			s.windows = append(s.windows, win)
			s.mu.Unlock()
		}
	}()

	if s.opts.Banner != "" {
		_, _ = io.WriteString(sess, s.opts.Banner)
	}
	_, _ = io.WriteString(sess, s.opts.Prompt)

	var line strings.Builder
	buf := make([]byte, 256)
	for {
		n, err := sess.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.received = append(s.received, buf[:n]...)
			s.mu.Unlock()
			for _, b := range buf[:n] {
				if b != '\r' && b != '\n' {
					line.WriteByte(b)
					_, _ = sess.Write([]byte{b})
					continue
				}
				cmd := line.String()
				line.Reset()
				_, _ = io.WriteString(sess, "\r\n")
				if cmd == "exit" {
					_, _ = io.WriteString(sess, "logout\r\n")
					_ = sess.Exit(0)
					return
				}
				if out, ok := s.opts.Responses[cmd]; ok {
					_, _ = io.WriteString(sess, out)
				}
				_, _ = io.WriteString(sess, s.opts.Prompt)
			}
		}
		if err != nil {
			return
		}
	}
}

func hostSigner() (ssh.Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	return ssh.NewSignerFromKey(priv)
}
