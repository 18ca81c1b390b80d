// Package config holds the global rota configuration, loaded through viper
// from ~/.config/rota/config.yaml with ROTA_-prefixed environment
// overrides. Every field is independently defaulted: a malformed value
// falls back to its default rather than preventing startup.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the complete rota configuration.
type Config struct {
	Scan       ScanConfig       `mapstructure:"scan"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Session    SessionConfig    `mapstructure:"session"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Display    DisplayConfig    `mapstructure:"display"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ScanConfig controls project discovery.
type ScanConfig struct {
	// Roots are the directories searched for project markers. Empty means
	// the current working directory.
	Roots []string `mapstructure:"roots"`
	// Ignore lists directory-name glob patterns skipped during the walk.
	Ignore []string `mapstructure:"ignore"`
	// MaxDepth bounds recursion below each root.
	MaxDepth int `mapstructure:"max_depth"`
}

// AgentConfig controls how the external coding agent is invoked.
type AgentConfig struct {
	// Binary is the agent executable name or path.
	Binary string `mapstructure:"binary"`
	// Model is the default model identifier; empty uses the agent default.
	Model string `mapstructure:"model"`
	// PermissionMode is passed through to the agent's permission flag.
	PermissionMode string `mapstructure:"permission_mode"`
	// CredentialEnv names an environment variable whose value is forwarded
	// to the agent as its API credential. Empty forwards nothing.
	CredentialEnv string `mapstructure:"credential_env"`
}

// SessionConfig controls conversation persistence.
type SessionConfig struct {
	// MaxHistory is the number of turn records retained per project.
	MaxHistory int `mapstructure:"max_history"`
}

// CheckpointConfig controls git checkpoint side effects around turns.
type CheckpointConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	PreTurn  bool `mapstructure:"pre_turn"`
	PostTurn bool `mapstructure:"post_turn"`
	// AutoInit initializes a git repository in projects that lack one.
	AutoInit bool `mapstructure:"auto_init"`
}

// DisplayConfig controls terminal output.
type DisplayConfig struct {
	// FullPath shows the full project directory instead of the short name.
	FullPath bool `mapstructure:"full_path"`
	// PreviewChars is the character budget for progress-line previews.
	PreviewChars int `mapstructure:"preview_chars"`
}

// LoggingConfig controls the debug log.
type LoggingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Level   string `mapstructure:"level"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			Roots:    []string{"."},
			Ignore:   []string{".git", "node_modules", "vendor", ".cache"},
			MaxDepth: 3,
		},
		Agent: AgentConfig{
			Binary:         "claude",
			Model:          "",
			PermissionMode: "acceptEdits",
			CredentialEnv:  "",
		},
		Session: SessionConfig{
			MaxHistory: 20,
		},
		Checkpoint: CheckpointConfig{
			Enabled:  false,
			PreTurn:  false,
			PostTurn: true,
			AutoInit: false,
		},
		Display: DisplayConfig{
			FullPath:     false,
			PreviewChars: 240,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
	}
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("scan.roots", defaults.Scan.Roots)
	viper.SetDefault("scan.ignore", defaults.Scan.Ignore)
	viper.SetDefault("scan.max_depth", defaults.Scan.MaxDepth)

	viper.SetDefault("agent.binary", defaults.Agent.Binary)
	viper.SetDefault("agent.model", defaults.Agent.Model)
	viper.SetDefault("agent.permission_mode", defaults.Agent.PermissionMode)
	viper.SetDefault("agent.credential_env", defaults.Agent.CredentialEnv)

	viper.SetDefault("session.max_history", defaults.Session.MaxHistory)

	viper.SetDefault("checkpoint.enabled", defaults.Checkpoint.Enabled)
	viper.SetDefault("checkpoint.pre_turn", defaults.Checkpoint.PreTurn)
	viper.SetDefault("checkpoint.post_turn", defaults.Checkpoint.PostTurn)
	viper.SetDefault("checkpoint.auto_init", defaults.Checkpoint.AutoInit)

	viper.SetDefault("display.full_path", defaults.Display.FullPath)
	viper.SetDefault("display.preview_chars", defaults.Display.PreviewChars)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
}

// Load reads the configuration from viper into a Config struct and repairs
// any malformed field. Load never fails startup on bad values.
func Load() *Config {
	cfg := Default()
	if err := viper.Unmarshal(cfg); err != nil {
		// A structurally hopeless file falls back to defaults wholesale.
		return Default()
	}
	cfg.sanitize()
	return cfg
}

// sanitize repairs individual fields so one bad value never takes the rest
// of the configuration down with it.
func (c *Config) sanitize() {
	defaults := Default()
	if len(c.Scan.Roots) == 0 {
		c.Scan.Roots = defaults.Scan.Roots
	}
	if c.Scan.MaxDepth <= 0 {
		c.Scan.MaxDepth = defaults.Scan.MaxDepth
	}
	if c.Agent.Binary == "" {
		c.Agent.Binary = defaults.Agent.Binary
	}
	if c.Agent.PermissionMode == "" {
		c.Agent.PermissionMode = defaults.Agent.PermissionMode
	}
	if c.Session.MaxHistory <= 0 {
		c.Session.MaxHistory = defaults.Session.MaxHistory
	}
	if c.Display.PreviewChars <= 0 {
		c.Display.PreviewChars = defaults.Display.PreviewChars
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "rota")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rota"
	}
	return filepath.Join(home, ".config", "rota")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
