package config

import (
	"testing"

	"github.com/spf13/viper"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)
	SetDefaults()

	cfg := Load()

	if cfg.Agent.Binary != "claude" {
		t.Errorf("Agent.Binary = %q, want claude", cfg.Agent.Binary)
	}
	if cfg.Session.MaxHistory != 20 {
		t.Errorf("Session.MaxHistory = %d, want 20", cfg.Session.MaxHistory)
	}
	if cfg.Display.PreviewChars != 240 {
		t.Errorf("Display.PreviewChars = %d, want 240", cfg.Display.PreviewChars)
	}
	if cfg.Scan.MaxDepth != 3 {
		t.Errorf("Scan.MaxDepth = %d, want 3", cfg.Scan.MaxDepth)
	}
}

func TestLoadRepairsMalformedFields(t *testing.T) {
	resetViper(t)
	SetDefaults()

	// Individually malformed values fall back to defaults without
	// preventing startup.
	viper.Set("session.max_history", -5)
	viper.Set("display.preview_chars", 0)
	viper.Set("scan.max_depth", -1)
	viper.Set("agent.binary", "")
	viper.Set("agent.model", "opus")

	cfg := Load()

	if cfg.Session.MaxHistory != 20 {
		t.Errorf("MaxHistory = %d, want repaired default 20", cfg.Session.MaxHistory)
	}
	if cfg.Display.PreviewChars != 240 {
		t.Errorf("PreviewChars = %d, want repaired default 240", cfg.Display.PreviewChars)
	}
	if cfg.Scan.MaxDepth != 3 {
		t.Errorf("MaxDepth = %d, want repaired default 3", cfg.Scan.MaxDepth)
	}
	if cfg.Agent.Binary != "claude" {
		t.Errorf("Binary = %q, want repaired default", cfg.Agent.Binary)
	}
	// Valid values survive.
	if cfg.Agent.Model != "opus" {
		t.Errorf("Model = %q, want opus", cfg.Agent.Model)
	}
}

func TestLoadOverrides(t *testing.T) {
	resetViper(t)
	SetDefaults()

	viper.Set("checkpoint.enabled", true)
	viper.Set("checkpoint.pre_turn", true)
	viper.Set("scan.roots", []string{"/work", "/oss"})

	cfg := Load()

	if !cfg.Checkpoint.Enabled || !cfg.Checkpoint.PreTurn {
		t.Errorf("checkpoint overrides not applied: %+v", cfg.Checkpoint)
	}
	if len(cfg.Scan.Roots) != 2 || cfg.Scan.Roots[0] != "/work" {
		t.Errorf("Scan.Roots = %v", cfg.Scan.Roots)
	}
}
