/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ssargent/vitalgap/pkg/api"
	"github.com/ssargent/vitalgap/pkg/archive"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve archived validation runs and metrics over HTTP",
	Long: `Start the status server over the run archive written by
"vitalgap validate --archive-dir". Routes live under /api/v1 and require the
X-API-Key header when server.api_key is set; /metrics is always open.

Examples:
  vitalgap serve
  vitalgap serve --archive-dir ./dataset/archive --port 9400`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFrom(cmd)
		if err != nil {
			return err
		}
		flags := cmd.Flags()

		archiveDir, _ := flags.GetString("archive-dir")
		if archiveDir == "" {
			archiveDir = a.cfg.Resolve(defaultArchiveDir)
		}
		serverConfig := api.ServerConfig{
			Bind:   a.cfg.Server.Bind,
			Port:   a.cfg.Server.Port,
			APIKey: a.cfg.Server.APIKey,
		}
		if flags.Changed("bind") {
			serverConfig.Bind, _ = flags.GetString("bind")
		}
		if flags.Changed("port") {
			serverConfig.Port, _ = flags.GetInt("port")
		}
		if flags.Changed("api-key") {
			serverConfig.APIKey, _ = flags.GetString("api-key")
		}

		store, err := archive.Open(archiveDir)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		logger := a.logger.With(zap.String("archive", archiveDir))
		if serverConfig.APIKey == "" {
			logger.Warn("no api key configured, /api/v1 is unauthenticated")
		}
		server := api.NewServer(store, serverConfig, api.NewMetrics(prometheus.DefaultRegisterer), logger)
		return server.ListenAndServe(ctx, prometheus.DefaultGatherer)
	},
}

// defaultArchiveDir is relative to the data directory.
const defaultArchiveDir = "archive"

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("archive-dir", "", "Run archive (default: <data dir>/archive)")
	serveCmd.Flags().String("bind", "127.0.0.1", "Bind address (overrides config)")
	serveCmd.Flags().Int("port", 9310, "Port (overrides config)")
	serveCmd.Flags().String("api-key", "", "API key (overrides config)")
}
