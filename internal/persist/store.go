// Package persist saves the deck layout between runs.
package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/termdeck/schema"
)

// StateFileName is the layout file inside the state directory.
const StateFileName = "deck.json"

// TabState is one terminal tab. Secrets are never written.
type TabState struct {
	Name       string                  `json:"name"`
	Connection schema.ConnectionConfig `json:"connection"`
}

// DeckState is the saved tab layout. Active indexes Tabs, or is -1 when the
// welcome tab was active.
type DeckState struct {
	Active  int        `json:"active"`
	Tabs    []TabState `json:"tabs"`
	SavedAt time.Time  `json:"saved_at"`
}

// Store reads and writes the layout file.
type Store struct {
	path string
	log  pslog.Logger
}

// NewStore constructs a store under dir.
func NewStore(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{path: filepath.Join(dir, StateFileName), log: logger}, nil
}

// Path returns the layout file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the saved layout. A missing file is not an error.
func (s *Store) Load() (DeckState, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.debug("deck state load miss")
			return DeckState{}, false, nil
		}
		s.warn("deck state load failed", err)
		return DeckState{}, false, err
	}
	var state DeckState
	if err := json.Unmarshal(data, &state); err != nil {
		s.warn("deck state load failed", err)
		return DeckState{}, false, err
	}
	if state.Active >= len(state.Tabs) {
		state.Active = -1
	}
	s.debug("deck state load ok", "tabs", len(state.Tabs))
	return state, true, nil
}

// Save writes the layout atomically with passwords and passphrases removed.
func (s *Store) Save(state DeckState) error {
	clean := DeckState{Active: state.Active, SavedAt: state.SavedAt, Tabs: make([]TabState, len(state.Tabs))}
	for i, t := range state.Tabs {
		t.Connection = Redact(t.Connection)
		clean.Tabs[i] = t
	}
	if clean.SavedAt.IsZero() {
		clean.SavedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(clean, "", "  ")
	if err != nil {
		s.warn("deck state save failed", err)
		return err
	}
	if err := writeAtomic(s.path, data); err != nil {
		s.warn("deck state save failed", err)
		return err
	}
	if s.log != nil {
		s.log.Trace("deck state save ok", "tabs", len(clean.Tabs))
	}
	return nil
}

// Redact clears the secret fields of conn.
func Redact(conn schema.ConnectionConfig) schema.ConnectionConfig {
	conn.Password = ""
	conn.Passphrase = ""
	return conn
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "deck-*.json")
	if err != nil {
		return err
	}
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (s *Store) debug(msg string, kv ...any) {
	if s.log != nil {
		s.log.Debug(msg, kv...)
	}
}

func (s *Store) warn(msg string, err error) {
	if s.log != nil {
		s.log.Warn(msg, "err", err)
	}
}
