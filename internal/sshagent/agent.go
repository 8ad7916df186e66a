// Package sshagent talks to ssh-agents: it fetches signers from a running
// agent for public key auth and can serve stored identities on a unix socket.
package sshagent

import (
	"crypto"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"pkt.systems/pslog"
)

// ErrNoAgent indicates no agent socket is configured.
var ErrNoAgent = errors.New("SSH_AUTH_SOCK is not set")

// Client is a connection to a running agent.
type Client struct {
	conn  net.Conn
	agent agent.ExtendedAgent
}

// Dial connects to the agent at socket, or at $SSH_AUTH_SOCK when socket is empty.
func Dial(socket string) (*Client, error) {
	if socket == "" {
		socket = os.Getenv("SSH_AUTH_SOCK")
	}
	if socket == "" {
		return nil, ErrNoAgent
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial ssh agent: %w", err)
	}
	return &Client{conn: conn, agent: agent.NewClient(conn)}, nil
}

// Signers returns the agent's signers.
func (c *Client) Signers() ([]ssh.Signer, error) {
	return c.agent.Signers()
}

// Close closes the agent connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Key is a private key served by a Server.
type Key struct {
	PrivateKey crypto.PrivateKey
	Comment    string
}

// Server is an in-process agent listening on a unix socket.
type Server struct {
	socket   string
	listener net.Listener
	keyring  agent.Agent
	log      pslog.Logger

	mu     sync.Mutex
	closed bool
}

const sessionBindExtension = "session-bind@openssh.com"

// sessionBindAgent accepts the OpenSSH session-bind extension, which the
// plain keyring rejects.
type sessionBindAgent struct {
	agent.ExtendedAgent
}

func (a sessionBindAgent) Extension(extensionType string, contents []byte) ([]byte, error) {
	if extensionType == sessionBindExtension {
		return nil, nil
	}
	return a.ExtendedAgent.Extension(extensionType, contents)
}

// Serve starts an agent holding keys on socket. A stale socket file is
// replaced; a live one is an error.
func Serve(socket string, keys []Key, logger pslog.Logger) (*Server, error) {
	if socket == "" {
		return nil, errors.New("agent socket path is required")
	}
	if probeSocket(socket) {
		return nil, fmt.Errorf("agent already listening on %s", socket)
	}
	if err := os.MkdirAll(filepath.Dir(socket), 0o700); err != nil {
		return nil, err
	}
	_ = os.Remove(socket)

	keyring, ok := agent.NewKeyring().(agent.ExtendedAgent)
	if !ok {
		return nil, errors.New("ssh agent keyring does not support extensions")
	}
	wrapped := sessionBindAgent{ExtendedAgent: keyring}
	for _, key := range keys {
		if err := wrapped.Add(agent.AddedKey{PrivateKey: key.PrivateKey, Comment: key.Comment}); err != nil {
			return nil, fmt.Errorf("add key %q: %w", key.Comment, err)
		}
	}

	listener, err := net.Listen("unix", socket)
	if err != nil {
		if logger != nil {
			logger.Warn("ssh agent listen failed", "socket", socket, "err", err)
		}
		return nil, err
	}
	if err := os.Chmod(socket, 0o600); err != nil {
		_ = listener.Close()
		return nil, err
	}
	s := &Server{socket: socket, listener: listener, keyring: wrapped, log: logger}
	go s.serve()
	if logger != nil {
		logger.Info("ssh agent serving", "socket", socket, "keys", len(keys))
	}
	return s, nil
}

// Socket returns the listening socket path.
func (s *Server) Socket() string {
	return s.socket
}

// Close stops the listener and removes the socket.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.listener.Close()
	_ = os.Remove(s.socket)
	if s.log != nil {
		s.log.Info("ssh agent closed", "socket", s.socket)
	}
	return err
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go func(c net.Conn) {
			_ = agent.ServeAgent(s.keyring, c)
			_ = c.Close()
		}(conn)
	}
}

func probeSocket(path string) bool {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
