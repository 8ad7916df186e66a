// Package sshkeys loads client private keys, either from OpenSSH key files or
// from an encrypted identity store.
package sshkeys

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ErrPassphraseRequired indicates an encrypted key was given no passphrase.
var ErrPassphraseRequired = errors.New("private key is encrypted and no passphrase was given")

// LoadSigner reads and parses the private key at path. The underlying read or
// parse error is wrapped, never replaced.
func LoadSigner(path, passphrase string) (ssh.Signer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("key file path is required")
	}
	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	signer, err := ParseSigner(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", path, err)
	}
	return signer, nil
}

// ParseSigner parses PEM or OpenSSH key material, decrypting it with
// passphrase when needed.
func ParseSigner(data []byte, passphrase string) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(data)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, err
	}
	if passphrase == "" {
		return nil, fmt.Errorf("%w: %v", ErrPassphraseRequired, err)
	}
	return ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return home + path[1:]
}
