package schema

import (
	"fmt"
	"strings"
	"time"
)

// AuthKind selects how a connection authenticates.
type AuthKind string

const (
	// AuthPassword authenticates with a password (and keyboard-interactive).
	AuthPassword AuthKind = "password"
	// AuthPublicKey authenticates with a private key file.
	AuthPublicKey AuthKind = "publickey"
	// AuthAgent authenticates with keys held by an ssh-agent.
	AuthAgent AuthKind = "agent"
	// AuthIdentity authenticates with a key from the encrypted identity store.
	AuthIdentity AuthKind = "identity"
)

const (
	// DefaultPort is the SSH port used when none is configured.
	DefaultPort = 22
	// DefaultCols is the initial terminal width.
	DefaultCols = 80
	// DefaultRows is the initial terminal height.
	DefaultRows = 24
	// DefaultTerm is the TERM requested with the pty.
	DefaultTerm = "xterm-256color"
)

// ConnectionConfig describes one remote shell endpoint.
type ConnectionConfig struct {
	Name        string   `json:"name" yaml:"name" mapstructure:"name"`
	Host        string   `json:"host" yaml:"host" mapstructure:"host"`
	Port        int      `json:"port" yaml:"port" mapstructure:"port"`
	Username    string   `json:"username" yaml:"username" mapstructure:"username"`
	Auth        AuthKind `json:"auth_type" yaml:"auth_type" mapstructure:"auth_type"`
	Password    string   `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`
	KeyFile     string   `json:"key_file,omitempty" yaml:"key_file,omitempty" mapstructure:"key_file"`
	Passphrase  string   `json:"passphrase,omitempty" yaml:"passphrase,omitempty" mapstructure:"passphrase"`
	Identity    string   `json:"identity,omitempty" yaml:"identity,omitempty" mapstructure:"identity"`
	Cols        int      `json:"cols,omitempty" yaml:"cols,omitempty" mapstructure:"cols"`
	Rows        int      `json:"rows,omitempty" yaml:"rows,omitempty" mapstructure:"rows"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
}

// Address returns host:port.
func (c ConnectionConfig) Address() string {
	host := c.Host
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// DisplayName returns the name, falling back to user@host.
func (c ConnectionConfig) DisplayName() string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	if c.Username == "" {
		return c.Host
	}
	return c.Username + "@" + c.Host
}

// NormalizeConnectionConfig applies defaults and validates the config.
func NormalizeConnectionConfig(cfg ConnectionConfig) (ConnectionConfig, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.Username = strings.TrimSpace(cfg.Username)
	cfg.KeyFile = strings.TrimSpace(cfg.KeyFile)
	cfg.Identity = strings.TrimSpace(cfg.Identity)
	if cfg.Host == "" {
		return ConnectionConfig{}, fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if cfg.Username == "" {
		return ConnectionConfig{}, fmt.Errorf("%w: username is required", ErrInvalidConfig)
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return ConnectionConfig{}, fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, cfg.Port)
	}
	auth, err := NormalizeAuthKind(string(cfg.Auth))
	if err != nil {
		return ConnectionConfig{}, err
	}
	cfg.Auth = auth
	if cfg.Auth == AuthPublicKey && cfg.KeyFile == "" {
		return ConnectionConfig{}, fmt.Errorf("%w: key_file is required for publickey auth", ErrInvalidConfig)
	}
	if cfg.Auth == AuthIdentity && cfg.Identity == "" {
		return ConnectionConfig{}, fmt.Errorf("%w: identity is required for identity auth", ErrInvalidConfig)
	}
	if cfg.Cols <= 0 {
		cfg.Cols = DefaultCols
	}
	if cfg.Rows <= 0 {
		cfg.Rows = DefaultRows
	}
	return cfg, nil
}

// NormalizeAuthKind validates an auth kind. Empty means password.
func NormalizeAuthKind(value string) (AuthKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "password":
		return AuthPassword, nil
	case "publickey", "public_key", "public-key", "key":
		return AuthPublicKey, nil
	case "agent":
		return AuthAgent, nil
	case "identity":
		return AuthIdentity, nil
	default:
		return "", fmt.Errorf("%w: unsupported auth_type %q", ErrInvalidConfig, value)
	}
}

// SessionConfig defines defaults and limits for terminal sessions.
type SessionConfig struct {
	ScrollbackLines           int
	TranscriptLines           int
	HistoryLines              int
	MaxPendingEscape          int
	IdlePrompt                time.Duration
	SubmitTimeout             time.Duration
	KeepTranscriptOnReconnect bool
}

const (
	// DefaultScrollbackLines is the per-screen scrollback capacity.
	DefaultScrollbackLines = 1000
	// DefaultTranscriptLines is the per-session finalized line capacity.
	DefaultTranscriptLines = 5000
	// DefaultHistoryLines is the per-session command history capacity.
	DefaultHistoryLines = 200
	// DefaultMaxPendingEscape caps string sequences (OSC/DCS) held across feeds.
	DefaultMaxPendingEscape = 4096
	// DefaultIdlePrompt is the output pause after which the prompt is captured.
	DefaultIdlePrompt = 150 * time.Millisecond
	// DefaultSubmitTimeout bounds a single command submission.
	DefaultSubmitTimeout = 5 * time.Second
)

// NormalizeSessionConfig applies defaults.
func NormalizeSessionConfig(cfg SessionConfig) SessionConfig {
	if cfg.ScrollbackLines <= 0 {
		cfg.ScrollbackLines = DefaultScrollbackLines
	}
	if cfg.TranscriptLines <= 0 {
		cfg.TranscriptLines = DefaultTranscriptLines
	}
	if cfg.HistoryLines <= 0 {
		cfg.HistoryLines = DefaultHistoryLines
	}
	if cfg.MaxPendingEscape <= 0 {
		cfg.MaxPendingEscape = DefaultMaxPendingEscape
	}
	if cfg.IdlePrompt <= 0 {
		cfg.IdlePrompt = DefaultIdlePrompt
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	return cfg
}
