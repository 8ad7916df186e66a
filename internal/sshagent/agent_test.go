package sshagent

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
)

func shortSocket(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "tdagent")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "agent.sock")
}

func TestServeAndSigners(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	socket := shortSocket(t)
	srv, err := Serve(socket, []Key{{PrivateKey: priv, Comment: "work"}}, nil)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer srv.Close()

	if _, err := Serve(socket, nil, nil); err == nil {
		t.Fatalf("expected second agent on a live socket to fail")
	}

	client, err := Dial(srv.Socket())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	signers, err := client.Signers()
	if err != nil {
		t.Fatalf("signers: %v", err)
	}
	if len(signers) != 1 {
		t.Fatalf("expected one signer, got %d", len(signers))
	}
	want, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	if string(signers[0].PublicKey().Marshal()) != string(want.Marshal()) {
		t.Fatalf("signer key mismatch")
	}
}

func TestDialWithoutSocket(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	if _, err := Dial(""); !errors.Is(err, ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent, got %v", err)
	}
}

func TestCloseRemovesSocket(t *testing.T) {
	socket := shortSocket(t)
	srv, err := Serve(socket, nil, nil)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(socket); !os.IsNotExist(err) {
		t.Fatalf("socket not removed: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
