package appconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/termdeck/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("terminal.scrollback_lines", cfg.Terminal.ScrollbackLines)
	v.SetDefault("terminal.max_pending_escape", cfg.Terminal.MaxPendingEscape)
	v.SetDefault("terminal.idle_prompt_ms", cfg.Terminal.IdlePromptMS)
	v.SetDefault("session.transcript_lines", cfg.Session.TranscriptLines)
	v.SetDefault("session.history_lines", cfg.Session.HistoryLines)
	v.SetDefault("session.submit_timeout_ms", cfg.Session.SubmitTimeoutMS)
	v.SetDefault("session.keep_transcript_on_reconnect", cfg.Session.KeepTranscriptOnReconnect)
	v.SetDefault("session.restore_tabs", cfg.Session.RestoreTabs)
	v.SetDefault("actor.inbox_depth", cfg.Actor.InboxDepth)
	v.SetDefault("actor.max_pending_bytes", cfg.Actor.MaxPendingBytes)
	v.SetDefault("actor.read_buffer", cfg.Actor.ReadBuffer)
	v.SetDefault("ssh.known_hosts", cfg.SSH.KnownHosts)
	v.SetDefault("ssh.strict_host_keys", cfg.SSH.StrictHostKeys)
	v.SetDefault("ssh.dial_timeout_seconds", cfg.SSH.DialTimeoutSeconds)
	v.SetDefault("ssh.default_key_file", cfg.SSH.DefaultKeyFile)
	v.SetDefault("ssh.agent_socket", cfg.SSH.AgentSocket)
	v.SetDefault("ssh.identity_bundle", cfg.SSH.IdentityBundle)
	v.SetDefault("ssh.identity_dir", cfg.SSH.IdentityDir)
	v.SetDefault("ui.theme", cfg.UI.Theme)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Terminal.ScrollbackLines < 0 {
		return fmt.Errorf("terminal.scrollback_lines must not be negative")
	}
	if cfg.Terminal.MaxPendingEscape < 0 {
		return fmt.Errorf("terminal.max_pending_escape must not be negative")
	}
	if cfg.Actor.InboxDepth < 0 || cfg.Actor.MaxPendingBytes < 0 || cfg.Actor.ReadBuffer < 0 {
		return fmt.Errorf("actor limits must not be negative")
	}
	if cfg.SSH.DialTimeoutSeconds < 0 {
		return fmt.Errorf("ssh.dial_timeout_seconds must not be negative")
	}
	seen := make(map[string]struct{}, len(cfg.Connections))
	for i, conn := range cfg.Connections {
		if conn.Name == "" {
			return fmt.Errorf("connections[%d].name is required", i)
		}
		if _, ok := seen[conn.Name]; ok {
			return fmt.Errorf("duplicate connection name %q", conn.Name)
		}
		seen[conn.Name] = struct{}{}
		normalized, err := schema.NormalizeConnectionConfig(conn)
		if err != nil {
			return fmt.Errorf("connections[%s]: %w", conn.Name, err)
		}
		cfg.Connections[i] = normalized
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.SSH.KnownHosts = expandEnv(cfg.SSH.KnownHosts)
	cfg.SSH.DefaultKeyFile = expandEnv(cfg.SSH.DefaultKeyFile)
	cfg.SSH.AgentSocket = expandEnv(cfg.SSH.AgentSocket)
	cfg.SSH.IdentityBundle = expandEnv(cfg.SSH.IdentityBundle)
	cfg.SSH.IdentityDir = expandEnv(cfg.SSH.IdentityDir)
	for i := range cfg.Connections {
		cfg.Connections[i].KeyFile = expandEnv(cfg.Connections[i].KeyFile)
	}
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
