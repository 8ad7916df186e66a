// Package transport opens authenticated interactive shell channels over SSH.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"pkt.systems/pslog"
	"pkt.systems/termdeck/internal/sshagent"
	"pkt.systems/termdeck/internal/sshkeys"
	"pkt.systems/termdeck/internal/version"
	"pkt.systems/termdeck/schema"
)

// DefaultDialTimeout bounds TCP connect plus handshake.
const DefaultDialTimeout = 30 * time.Second

// Options configures Dial.
type Options struct {
	Logger         pslog.Logger
	DialTimeout    time.Duration
	KnownHostsPath string
	// StrictHostKeys rejects hosts that cannot be verified against KnownHostsPath.
	StrictHostKeys bool
	// Identities serves the identity auth kind.
	Identities *sshkeys.Store
	// AgentSocket overrides SSH_AUTH_SOCK for the agent auth kind.
	AgentSocket string
	// Term defaults to schema.DefaultTerm.
	Term string
}

// Channel is an interactive shell with a pty.
type Channel struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	log     pslog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Dial connects, authenticates, requests a pty and starts the shell.
func Dial(ctx context.Context, cfg schema.ConnectionConfig, opts Options) (*Channel, error) {
	cfg, err := schema.NormalizeConnectionConfig(cfg)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	log = log.With("host", cfg.Address(), "user", cfg.Username, "auth", cfg.Auth)
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	term := opts.Term
	if term == "" {
		term = schema.DefaultTerm
	}

	auth, cleanup, err := authMethods(cfg, opts)
	if err != nil {
		log.Warn("ssh auth setup failed", "err", err)
		return nil, err
	}
	defer cleanup()

	var hostKeyErr error
	verify, err := hostKeyCallback(opts, log)
	if err != nil {
		return nil, schema.ProtocolError("host key", err)
	}
	clientConfig := &ssh.ClientConfig{
		User: cfg.Username,
		Auth: auth,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			if err := verify(hostname, remote, key); err != nil {
				hostKeyErr = err
				return err
			}
			return nil
		},
		Timeout:       timeout,
		ClientVersion: version.SSHClientVersion(),
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address())
	if err != nil {
		log.Warn("ssh dial failed", "err", err)
		return nil, schema.NetworkError("dial", err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, cfg.Address(), clientConfig)
	cancelled := !stop()
	if err != nil {
		_ = conn.Close()
		err = classifyHandshake(ctx, cancelled, hostKeyErr, err)
		log.Warn("ssh handshake failed", "err", err)
		return nil, err
	}
	if cancelled {
		_ = sshConn.Close()
		return nil, schema.NetworkError("handshake", ctx.Err())
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(sshConn, chans, reqs)

	ch, err := openShell(client, cfg, term)
	if err != nil {
		_ = client.Close()
		log.Warn("ssh shell failed", "err", err)
		return nil, err
	}
	ch.log = log
	log.Info("ssh shell opened", "term", term, "cols", cfg.Cols, "rows", cfg.Rows)
	return ch, nil
}

func openShell(client *ssh.Client, cfg schema.ConnectionConfig, term string) (*Channel, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, schema.ProtocolError("open session", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		return nil, schema.ProtocolError("stdin", err)
	}
	// The pty merges stderr into stdout.
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, schema.ProtocolError("stdout", err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(term, cfg.Rows, cfg.Cols, modes); err != nil {
		_ = session.Close()
		return nil, schema.ProtocolError("request pty", err)
	}
	if err := session.Shell(); err != nil {
		_ = session.Close()
		return nil, schema.ProtocolError("shell", err)
	}
	return &Channel{client: client, session: session, stdin: stdin, stdout: stdout}, nil
}

// Read reads shell output. It returns io.EOF once the remote side exits.
func (c *Channel) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

// Write writes every byte of p or returns an error.
func (c *Channel) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := c.stdin.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// Resize sends a window-change request.
func (c *Channel) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("%w: %dx%d", schema.ErrInvalidSize, cols, rows)
	}
	return c.session.WindowChange(rows, cols)
}

// Close tears down the session and the connection.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		_ = c.session.Close()
		c.closeErr = c.client.Close()
		if errors.Is(c.closeErr, net.ErrClosed) {
			c.closeErr = nil
		}
		if c.log != nil {
			c.log.Info("ssh shell closed")
		}
	})
	return c.closeErr
}

func authMethods(cfg schema.ConnectionConfig, opts Options) ([]ssh.AuthMethod, func(), error) {
	noop := func() {}
	switch cfg.Auth {
	case schema.AuthPassword:
		password := cfg.Password
		return []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		}, noop, nil
	case schema.AuthPublicKey:
		signer, err := sshkeys.LoadSigner(sshkeys.ExpandHome(cfg.KeyFile), cfg.Passphrase)
		if err != nil {
			return nil, noop, schema.AuthError("load key", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, noop, nil
	case schema.AuthIdentity:
		if opts.Identities == nil {
			return nil, noop, schema.AuthError("load identity", errors.New("identity store is not configured"))
		}
		signer, err := opts.Identities.Signer(cfg.Identity)
		if err != nil {
			return nil, noop, schema.AuthError("load identity", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, noop, nil
	case schema.AuthAgent:
		client, err := sshagent.Dial(opts.AgentSocket)
		if err != nil {
			return nil, noop, schema.AuthError("agent", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeysCallback(client.Signers)}, func() { _ = client.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("%w: unsupported auth_type %q", schema.ErrInvalidConfig, cfg.Auth)
	}
}

func hostKeyCallback(opts Options, log pslog.Logger) (ssh.HostKeyCallback, error) {
	path := sshkeys.ExpandHome(strings.TrimSpace(opts.KnownHostsPath))
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			known, err := knownhosts.New(path)
			if err != nil {
				return nil, err
			}
			return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
				err := known(hostname, remote, key)
				var keyErr *knownhosts.KeyError
				if err != nil && errors.As(err, &keyErr) && len(keyErr.Want) == 0 && !opts.StrictHostKeys {
					log.Warn("ssh host key unknown", "fingerprint", ssh.FingerprintSHA256(key))
					return nil
				}
				return err
			}, nil
		}
	}
	if opts.StrictHostKeys {
		return nil, fmt.Errorf("known_hosts file %q is not readable", path)
	}
	return func(_ string, _ net.Addr, key ssh.PublicKey) error {
		log.Warn("ssh host key not verified", "fingerprint", ssh.FingerprintSHA256(key))
		return nil
	}, nil
}

func classifyHandshake(ctx context.Context, cancelled bool, hostKeyErr, err error) error {
	switch {
	case hostKeyErr != nil:
		return schema.ProtocolError("host key", hostKeyErr)
	case cancelled:
		return schema.NetworkError("handshake", ctx.Err())
	case strings.Contains(err.Error(), "unable to authenticate"):
		return schema.AuthError("authenticate", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return schema.NetworkError("handshake", err)
	}
	return schema.ProtocolError("handshake", err)
}
