package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rotadev/rota/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the rota configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.ConfigFile())
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

const configHeader = `# rota configuration. Every field is optional; a missing or malformed
# value falls back to its default. Environment variables with a ROTA_
# prefix override file values, e.g. ROTA_AGENT_MODEL.
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.ConfigFile()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	defaults := config.Default()
	body, err := yaml.Marshal(map[string]any{
		"scan": map[string]any{
			"roots":     defaults.Scan.Roots,
			"ignore":    defaults.Scan.Ignore,
			"max_depth": defaults.Scan.MaxDepth,
		},
		"agent": map[string]any{
			"binary":          defaults.Agent.Binary,
			"model":           defaults.Agent.Model,
			"permission_mode": defaults.Agent.PermissionMode,
			"credential_env":  defaults.Agent.CredentialEnv,
		},
		"session": map[string]any{
			"max_history": defaults.Session.MaxHistory,
		},
		"checkpoint": map[string]any{
			"enabled":   defaults.Checkpoint.Enabled,
			"pre_turn":  defaults.Checkpoint.PreTurn,
			"post_turn": defaults.Checkpoint.PostTurn,
			"auto_init": defaults.Checkpoint.AutoInit,
		},
		"display": map[string]any{
			"full_path":     defaults.Display.FullPath,
			"preview_chars": defaults.Display.PreviewChars,
		},
		"logging": map[string]any{
			"enabled": defaults.Logging.Enabled,
			"level":   defaults.Logging.Level,
		},
	})
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(configHeader), body...), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
