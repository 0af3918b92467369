/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ssargent/vitalgap/pkg/config"
	"github.com/ssargent/vitalgap/pkg/logging"
)

type appKey struct{}

// app is what every subcommand runs with: the resolved configuration and a
// logger built from it.
type app struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vitalgap",
	Short: "vitalgap - vitals over an optical air gap",
	Long: `vitalgap moves bedside vitals snapshots across an air gap as DataMatrix
codes: the sender renders the monitor cache into a code image, the receiver
captures and decodes it, and the validator matches what was decoded against
what was sent.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if a, ok := cmd.Context().Value(appKey{}).(*app); ok {
			_ = a.logger.Sync()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default ~/.config/vitalgap/config.yaml)")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console or json (overrides config)")
}

// loadApp reads the config file named by --config, or the default path when
// it exists, and applies the global flag overrides. Without a file the
// built-in defaults are used.
func loadApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	explicit := configPath != ""
	if !explicit {
		configPath = config.GetDefaultConfigPath()
	}

	var cfg *config.Config
	switch {
	case config.ConfigExists(configPath):
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	case explicit:
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	default:
		cfg = config.DefaultConfig()
	}

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, "vitalgap-"+cmd.Name())
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded",
		zap.String("config", configPath),
		zap.Bool("from_file", config.ConfigExists(configPath)),
		zap.String("data_dir", cfg.DataDir))

	return &app{cfg: cfg, configPath: configPath, logger: logger}, nil
}

func appFrom(cmd *cobra.Command) (*app, error) {
	a, ok := cmd.Context().Value(appKey{}).(*app)
	if !ok {
		return nil, errors.New("configuration not loaded")
	}
	return a, nil
}
