/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ssargent/vitalgap/pkg/config"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with defaults and an API key",
	Long: `Create a vitalgap configuration file with the default bed and parameter
tables, codec settings and a generated status server API key.

Examples:
  vitalgap init
  vitalgap init --config ./vitalgap.yaml --data-dir ./dataset --print-key`,
	// The config file may not exist yet.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		force, _ := cmd.Flags().GetBool("force")
		printKey, _ := cmd.Flags().GetBool("print-key")

		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}

		cfg, created, err := initConfig(configPath, dataDir, force)
		if err != nil {
			return err
		}
		if !created {
			cmd.Printf("Configuration already exists at %s. Use --force to overwrite.\n", configPath)
			return nil
		}

		cmd.Printf("Configuration created at %s\n", configPath)
		cmd.Printf("Data directory: %s\n", cfg.DataDir)
		if printKey {
			cmd.Printf("Status server API key: %s\n", cfg.Server.APIKey)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().Bool("force", false, "Overwrite an existing configuration file")
	initCmd.Flags().Bool("print-key", false, "Print the generated API key")
}

// initConfig bootstraps the file at configPath unless it exists and force
// is off. created reports whether a file was written.
func initConfig(configPath, dataDir string, force bool) (cfg *config.Config, created bool, err error) {
	if config.ConfigExists(configPath) && !force {
		return nil, false, nil
	}
	cfg, err = config.BootstrapConfig(configPath, dataDir)
	if err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, false, fmt.Errorf("failed to create data directory: %w", err)
	}
	return cfg, true, nil
}
