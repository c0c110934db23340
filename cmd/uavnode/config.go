package main

import (
	"github.com/spf13/cobra"

	"github.com/danmuck/uavbus/internal/config"
)

var (
	templateKind  string
	templateOut   string
	templateForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create node configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := cfg.Encode()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config template",
	RunE: func(cmd *cobra.Command, args []string) error {
		return config.WriteTemplate(templateOut, templateKind, templateForce)
	},
}

func init() {
	configInitCmd.Flags().StringVar(&templateKind, "kind", "node", "template kind: node, anonymous")
	configInitCmd.Flags().StringVar(&templateOut, "out", "node.toml", "output path")
	configInitCmd.Flags().BoolVar(&templateForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd, configInitCmd)
}
