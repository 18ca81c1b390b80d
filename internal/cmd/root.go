// Package cmd defines the rota command-line interface.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rotadev/rota/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "rota",
	Short: "Round-robin attention orchestrator for project directories",
	Long: `Rota cycles your attention across project directories, dispatching
background coding-agent turns per project and streaming their progress back.
Directories are managed by dropping a ` + "`.rota.json`" + ` marker file in them.`,
	RunE: runRun,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/rota/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Defaults first, so they apply even without a config file.
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ROTA")
	// ROTA_SCAN_MAX_DEPTH overrides scan.max_depth, and so on.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.ReadInConfig()
}
