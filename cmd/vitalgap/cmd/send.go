/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ssargent/vitalgap/pkg/config"
	"github.com/ssargent/vitalgap/pkg/pipeline"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Render the monitor cache into a code image on every change",
	Long: `Poll the monitor cache and, whenever it changes, assign a packet id,
encode the snapshot, render the code image and append the truth line to the
day's cache_snapshots.jsonl.

Examples:
  vitalgap send
  vitalgap send --once
  vitalgap send --metrics-addr 127.0.0.1:9311`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFrom(cmd)
		if err != nil {
			return err
		}
		once, _ := cmd.Flags().GetBool("once")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		sender, err := newSender(a, prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		if once {
			result, err := sender.SendOnce(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		}

		serveMetrics(ctx, metricsAddr, a.logger)
		return sender.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().Bool("once", false, "Poll once and print the result")
	sendCmd.Flags().String("metrics-addr", "", "Expose Prometheus metrics on this address")
}

func senderConfig(cfg *config.Config) pipeline.SenderConfig {
	return pipeline.SenderConfig{
		CachePath:   cfg.Resolve(cfg.Pipeline.CachePath),
		ImagePath:   cfg.Resolve(cfg.Pipeline.ImagePath),
		SnapshotDir: cfg.DataDir,
		RenderSize:  cfg.Pipeline.RenderSize,
		Interval:    cfg.Pipeline.SendInterval,
	}
}

func newSender(a *app, reg prometheus.Registerer) (*pipeline.Sender, error) {
	c, err := newCodec(a.cfg)
	if err != nil {
		return nil, err
	}
	renderer, _, err := openEngine(a.cfg, "", a.logger)
	if err != nil {
		return nil, err
	}
	return pipeline.NewSender(senderConfig(a.cfg), c, renderer,
		pipeline.WithLogger(a.logger.With(zap.String("loop", "sender"))),
		pipeline.WithMetrics(pipeline.NewMetrics(reg)))
}
