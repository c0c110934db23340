package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danmuck/uavbus/internal/config"
)

// set at build time with -ldflags "-X main.version=x.y.z"
var version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "uavnode",
	Short:         "Run a bus node with a status API",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "node config file (TOML); defaults are used when empty")
	rootCmd.AddCommand(runCmd, versionCmd, configCmd)
}

// loadConfig returns the defaults or the file named by --config.
func loadConfig() (config.NodeConfig, error) {
	if cfgFile == "" {
		cfg := config.DefaultNodeConfig()
		return cfg, cfg.Validate()
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.NodeConfig{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the uavnode version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "uavnode version %s\n", version)
		return nil
	},
}
