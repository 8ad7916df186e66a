package sshkeys

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/crypto/ssh"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
)

const (
	// KeyTypeEd25519 requests Ed25519 key generation.
	KeyTypeEd25519 = "ed25519"
	// KeyTypeRSA requests RSA key generation.
	KeyTypeRSA = "rsa"
	// DefaultRSABits is the default RSA key size in bits.
	DefaultRSABits = 3072

	privateFile      = "id.enc"
	publicFile       = "id.pub"
	descriptorPrefix = "termdeck:identity:"
)

// ErrIdentityNotFound indicates no stored identity has the requested name.
var ErrIdentityNotFound = errors.New("identity not found")

var identityName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Store keeps named client identities encrypted at rest. Each private key is
// sealed with a data key derived from a root key held in the key bundle.
type Store struct {
	bundlePath string
	dir        string
	log        pslog.Logger
}

// NewStore opens the identity store, creating the bundle and root key when
// missing.
func NewStore(bundlePath, dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(bundlePath) == "" {
		return nil, errors.New("identity bundle path is required")
	}
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("identity directory is required")
	}
	if err := ensureBundle(bundlePath); err != nil {
		if logger != nil {
			logger.Warn("identity bundle ensure failed", "path", bundlePath, "err", err)
		}
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("identity_bundle", bundlePath, "identity_dir", dir)
	}
	return &Store{bundlePath: bundlePath, dir: dir, log: logger}, nil
}

func ensureBundle(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	bundle, err := keymgmt.LoadProto(path)
	if err != nil {
		return err
	}
	if _, err := bundle.EnsureRootKey(); err != nil {
		return err
	}
	return bundle.Commit()
}

// Generate creates a new identity and returns its authorized_keys line.
func (s *Store) Generate(name, keyType string, bits int) (string, error) {
	exists, err := s.Exists(name)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("identity %q already exists", name)
	}
	return s.write(name, keyType, bits, false)
}

// Rotate replaces the identity's key pair and data key.
func (s *Store) Rotate(name, keyType string, bits int) (string, error) {
	return s.write(name, keyType, bits, true)
}

// Exists reports whether an identity is stored under name.
func (s *Store) Exists(name string) (bool, error) {
	if err := validName(name); err != nil {
		return false, err
	}
	info, err := os.Stat(s.privatePath(name))
	if err == nil {
		return !info.IsDir(), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// List returns the stored identity names, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if ok, _ := s.Exists(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes an identity. Removing an unknown identity is a no-op.
func (s *Store) Remove(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.dir, name)); err != nil {
		s.warn("identity remove failed", name, err)
		return err
	}
	if s.log != nil {
		s.log.Info("identity removed", "identity", name)
	}
	return nil
}

// Signer decrypts the identity and returns it as an ssh.Signer.
func (s *Store) Signer(name string) (ssh.Signer, error) {
	priv, err := s.privateKey(name)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(priv)
}

// PrivateKey decrypts the identity's raw private key.
func (s *Store) PrivateKey(name string) (crypto.PrivateKey, error) {
	return s.privateKey(name)
}

// PublicKey returns the identity's authorized_keys line.
func (s *Store) PublicKey(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.publicPath(name))
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	signer, err := s.Signer(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))), nil
}

func (s *Store) privateKey(name string) (crypto.PrivateKey, error) {
	exists, err := s.Exists(name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, name)
	}
	material, root, err := s.material(name, false)
	if err != nil {
		s.warn("identity load failed", name, err)
		return nil, err
	}
	file, err := os.Open(s.privatePath(name))
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()
	reader, err := kryptograf.New(root).DecryptReader(file, material)
	if err != nil {
		s.warn("identity decrypt failed", name, err)
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	plain, err := io.ReadAll(reader)
	if err != nil {
		s.warn("identity decrypt failed", name, err)
		return nil, err
	}
	priv, err := ssh.ParseRawPrivateKey(plain)
	if err != nil {
		s.warn("identity parse failed", name, err)
		return nil, err
	}
	return priv, nil
}

func (s *Store) write(name, keyType string, bits int, rotate bool) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	priv, err := generateKey(keyType, bits)
	if err != nil {
		return "", err
	}
	block, err := ssh.MarshalPrivateKey(priv, name)
	if err != nil {
		return "", err
	}
	material, root, err := s.material(name, rotate)
	if err != nil {
		s.warn("identity write failed", name, err)
		return "", err
	}
	dir := filepath.Join(s.dir, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	if err := sealTo(dir, s.privatePath(name), root, material, pem.EncodeToMemory(block)); err != nil {
		s.warn("identity write failed", name, err)
		return "", err
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return "", err
	}
	pub := ssh.MarshalAuthorizedKey(signer.PublicKey())
	if err := os.WriteFile(s.publicPath(name), pub, 0o644); err != nil {
		s.warn("identity write failed", name, err)
		return "", err
	}
	if s.log != nil {
		action := "generated"
		if rotate {
			action = "rotated"
		}
		s.log.Info("identity written", "identity", name, "action", action)
	}
	return strings.TrimSpace(string(pub)), nil
}

// sealTo encrypts plain into a temp file in dir and renames it over path.
func sealTo(dir, path string, root keymgmt.RootKey, material keymgmt.Material, plain []byte) error {
	tmp, err := os.CreateTemp(dir, "id-*.enc")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}
	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return err
	}
	writer, err := kryptograf.New(root).EncryptWriter(tmp, material)
	if err != nil {
		cleanup()
		return err
	}
	if _, err := io.Copy(writer, bytes.NewReader(plain)); err != nil {
		_ = writer.Close()
		cleanup()
		return err
	}
	if err := writer.Close(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func generateKey(keyType string, bits int) (crypto.PrivateKey, error) {
	switch strings.ToLower(strings.TrimSpace(keyType)) {
	case "", KeyTypeEd25519:
		_, key, err := ed25519.GenerateKey(rand.Reader)
		return key, err
	case KeyTypeRSA:
		if bits == 0 {
			bits = DefaultRSABits
		}
		if bits < 2048 {
			return nil, errors.New("rsa bits must be at least 2048")
		}
		return rsa.GenerateKey(rand.Reader, bits)
	default:
		return nil, fmt.Errorf("unsupported key type %q", keyType)
	}
}

func (s *Store) material(name string, rotate bool) (keymgmt.Material, keymgmt.RootKey, error) {
	bundle, err := keymgmt.LoadProto(s.bundlePath)
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	root, err := bundle.EnsureRootKey()
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	desc := descriptorPrefix + name
	var material keymgmt.Material
	if rotate {
		material, err = keymgmt.MintDEK(root, []byte(desc))
		if err == nil {
			err = bundle.SetDescriptor(desc, material.Descriptor)
		}
	} else {
		material, err = bundle.EnsureDescriptor(desc, root, []byte(desc))
	}
	if err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	if err := bundle.Commit(); err != nil {
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	return material, root, nil
}

func (s *Store) warn(msg, name string, err error) {
	if s.log != nil {
		s.log.Warn(msg, "identity", name, "err", err)
	}
}

func (s *Store) privatePath(name string) string {
	return filepath.Join(s.dir, name, privateFile)
}

func (s *Store) publicPath(name string) string {
	return filepath.Join(s.dir, name, publicFile)
}

func validName(name string) error {
	if !identityName.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("invalid identity name %q", name)
	}
	return nil
}
