package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/termdeck/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int                       `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string                    `mapstructure:"state_dir" yaml:"state_dir"`
	Terminal      TerminalConfig            `mapstructure:"terminal" yaml:"terminal"`
	Session       SessionConfig             `mapstructure:"session" yaml:"session"`
	Actor         ActorConfig               `mapstructure:"actor" yaml:"actor"`
	SSH           SSHConfig                 `mapstructure:"ssh" yaml:"ssh"`
	UI            UIConfig                  `mapstructure:"ui" yaml:"ui"`
	Connections   []schema.ConnectionConfig `mapstructure:"connections" yaml:"connections"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// TerminalConfig controls the terminal state machine.
type TerminalConfig struct {
	ScrollbackLines  int `mapstructure:"scrollback_lines" yaml:"scrollback_lines"`
	MaxPendingEscape int `mapstructure:"max_pending_escape" yaml:"max_pending_escape"`
	IdlePromptMS     int `mapstructure:"idle_prompt_ms" yaml:"idle_prompt_ms"`
}

// SessionConfig controls per-session buffers and timeouts.
type SessionConfig struct {
	TranscriptLines           int  `mapstructure:"transcript_lines" yaml:"transcript_lines"`
	HistoryLines              int  `mapstructure:"history_lines" yaml:"history_lines"`
	SubmitTimeoutMS           int  `mapstructure:"submit_timeout_ms" yaml:"submit_timeout_ms"`
	KeepTranscriptOnReconnect bool `mapstructure:"keep_transcript_on_reconnect" yaml:"keep_transcript_on_reconnect"`
	RestoreTabs               bool `mapstructure:"restore_tabs" yaml:"restore_tabs"`
}

// ActorConfig controls connection actors.
type ActorConfig struct {
	InboxDepth      int `mapstructure:"inbox_depth" yaml:"inbox_depth"`
	MaxPendingBytes int `mapstructure:"max_pending_bytes" yaml:"max_pending_bytes"`
	ReadBuffer      int `mapstructure:"read_buffer" yaml:"read_buffer"`
}

// SSHConfig configures the SSH client.
type SSHConfig struct {
	KnownHosts         string `mapstructure:"known_hosts" yaml:"known_hosts"`
	StrictHostKeys     bool   `mapstructure:"strict_host_keys" yaml:"strict_host_keys"`
	DialTimeoutSeconds int    `mapstructure:"dial_timeout_seconds" yaml:"dial_timeout_seconds"`
	DefaultKeyFile     string `mapstructure:"default_key_file" yaml:"default_key_file"`
	AgentSocket        string `mapstructure:"agent_socket" yaml:"agent_socket"`
	IdentityBundle     string `mapstructure:"identity_bundle" yaml:"identity_bundle"`
	IdentityDir        string `mapstructure:"identity_dir" yaml:"identity_dir"`
}

// UIConfig configures the display.
type UIConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".termdeck", "state"),
		Terminal: TerminalConfig{
			ScrollbackLines:  schema.DefaultScrollbackLines,
			MaxPendingEscape: schema.DefaultMaxPendingEscape,
			IdlePromptMS:     int(schema.DefaultIdlePrompt / time.Millisecond),
		},
		Session: SessionConfig{
			TranscriptLines:           schema.DefaultTranscriptLines,
			HistoryLines:              schema.DefaultHistoryLines,
			SubmitTimeoutMS:           int(schema.DefaultSubmitTimeout / time.Millisecond),
			KeepTranscriptOnReconnect: false,
			RestoreTabs:               true,
		},
		Actor: ActorConfig{
			InboxDepth:      64,
			MaxPendingBytes: 1 << 20,
			ReadBuffer:      4096,
		},
		SSH: SSHConfig{
			KnownHosts:         filepath.Join(home, ".ssh", "known_hosts"),
			StrictHostKeys:     false,
			DialTimeoutSeconds: 30,
			DefaultKeyFile:     "",
			AgentSocket:        "",
			IdentityBundle:     filepath.Join(home, ".termdeck", "state", "identities.bundle"),
			IdentityDir:        filepath.Join(home, ".termdeck", "state", "identities"),
		},
		UI:          UIConfig{Theme: "outrun"},
		Connections: []schema.ConnectionConfig{},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".termdeck", "config.yaml"), nil
}

// SessionDefaults converts the terminal and session sections for the tab manager.
func (c Config) SessionDefaults() schema.SessionConfig {
	return schema.NormalizeSessionConfig(schema.SessionConfig{
		ScrollbackLines:           c.Terminal.ScrollbackLines,
		MaxPendingEscape:          c.Terminal.MaxPendingEscape,
		IdlePrompt:                time.Duration(c.Terminal.IdlePromptMS) * time.Millisecond,
		TranscriptLines:           c.Session.TranscriptLines,
		HistoryLines:              c.Session.HistoryLines,
		SubmitTimeout:             time.Duration(c.Session.SubmitTimeoutMS) * time.Millisecond,
		KeepTranscriptOnReconnect: c.Session.KeepTranscriptOnReconnect,
	})
}

// DialTimeout returns the SSH dial timeout.
func (c Config) DialTimeout() time.Duration {
	return time.Duration(c.SSH.DialTimeoutSeconds) * time.Second
}

// Connection returns the saved connection with the given name.
func (c Config) Connection(name string) (schema.ConnectionConfig, bool) {
	for _, conn := range c.Connections {
		if conn.Name == name {
			return conn, true
		}
	}
	return schema.ConnectionConfig{}, false
}
