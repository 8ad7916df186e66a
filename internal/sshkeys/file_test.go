package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
)

func writeKey(t *testing.T, passphrase string) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "test")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte(passphrase))
	}
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	return path, sshPub
}

func TestLoadSignerPlain(t *testing.T) {
	path, pub := writeKey(t, "")
	signer, err := LoadSigner(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(signer.PublicKey().Marshal()) != string(pub.Marshal()) {
		t.Fatalf("public key mismatch")
	}
}

func TestLoadSignerPassphrase(t *testing.T) {
	path, pub := writeKey(t, "s3cret")
	if _, err := LoadSigner(path, ""); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got %v", err)
	}
	if _, err := LoadSigner(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
	signer, err := LoadSigner(path, "s3cret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(signer.PublicKey().Marshal()) != string(pub.Marshal()) {
		t.Fatalf("public key mismatch")
	}
}

func TestLoadSignerKeepsUnderlyingError(t *testing.T) {
	_, err := LoadSigner(filepath.Join(t.TempDir(), "missing"), "")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist in chain, got %v", err)
	}
	garbage := filepath.Join(t.TempDir(), "garbage")
	if err := os.WriteFile(garbage, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSigner(garbage, ""); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/.ssh/id"); got != filepath.Join(home, ".ssh/id") {
		t.Fatalf("unexpected expansion %q", got)
	}
	if got := ExpandHome("/abs"); got != "/abs" {
		t.Fatalf("absolute path changed: %q", got)
	}
}
