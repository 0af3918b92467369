/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ssargent/vitalgap/pkg/config"
	"github.com/ssargent/vitalgap/pkg/pipeline"
)

// receiveCmd represents the receive command
var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Capture and decode code images, logging one record per attempt",
	Long: `Read the latest captured frame on every interval, decode it and append
one decoded record to the decoded log, whether or not the attempt succeeded.
Frames are kept in the capture directory for later inspection.

The source is a PNG file refreshed by the camera; by default the sender's
own image path, which gives a loopback run on one machine.

Examples:
  vitalgap receive
  vitalgap receive --source /run/camera/frame.png --roi 100,80,500,480
  vitalgap receive --once`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFrom(cmd)
		if err != nil {
			return err
		}
		once, _ := cmd.Flags().GetBool("once")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		sourcePath, _ := cmd.Flags().GetString("source")
		roiText, _ := cmd.Flags().GetString("roi")

		roi, err := parseROI(roiText)
		if err != nil {
			return err
		}
		if sourcePath == "" {
			sourcePath = a.cfg.Resolve(a.cfg.Pipeline.ImagePath)
		}

		receiver, err := newReceiver(a, pipeline.FileSource{Path: sourcePath, ROI: roi}, prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		if once {
			rec, err := receiver.CaptureOnce(ctx)
			if cerr := receiver.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		}

		serveMetrics(ctx, metricsAddr, a.logger)
		return receiver.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(receiveCmd)

	receiveCmd.Flags().Bool("once", false, "Capture once and print the record")
	receiveCmd.Flags().String("source", "", "PNG frame to read (default: pipeline.image_path)")
	receiveCmd.Flags().String("roi", "", "Crop frames to x0,y0,x1,y1 before decoding")
	receiveCmd.Flags().String("metrics-addr", "", "Expose Prometheus metrics on this address")
}

func receiverConfig(cfg *config.Config) pipeline.ReceiverConfig {
	return pipeline.ReceiverConfig{
		DecodedLog: cfg.Resolve(cfg.Pipeline.DecodedLog),
		CaptureDir: cfg.Resolve(cfg.Pipeline.CaptureDir),
		Interval:   cfg.Pipeline.CaptureInterval,
	}
}

func newReceiver(a *app, source pipeline.ImageSource, reg prometheus.Registerer) (*pipeline.Receiver, error) {
	c, err := newCodec(a.cfg)
	if err != nil {
		return nil, err
	}
	_, decoder, err := openEngine(a.cfg, "", a.logger)
	if err != nil {
		return nil, err
	}
	return pipeline.NewReceiver(receiverConfig(a.cfg), c, source, decoder,
		pipeline.WithLogger(a.logger.With(zap.String("loop", "receiver"))),
		pipeline.WithMetrics(pipeline.NewMetrics(reg)))
}

// parseROI parses "x0,y0,x1,y1". Empty means the whole frame.
func parseROI(s string) (image.Rectangle, error) {
	if strings.TrimSpace(s) == "" {
		return image.Rectangle{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("roi must be x0,y0,x1,y1, got %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("invalid roi %q: %w", s, err)
		}
		v[i] = n
	}
	roi := image.Rect(v[0], v[1], v[2], v[3])
	if roi.Empty() {
		return image.Rectangle{}, fmt.Errorf("roi %q is empty", s)
	}
	return roi, nil
}
