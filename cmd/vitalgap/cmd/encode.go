/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"image/png"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssargent/vitalgap/pkg/fsutil"
	"github.com/ssargent/vitalgap/pkg/record"
)

type encodeOptions struct {
	CachePath string
	BlobOut   string
	ImageOut  string
	Engine    string
}

// EncodeResult is printed by the encode command.
type EncodeResult struct {
	PacketID      *int64 `json:"packet_id,omitempty"`
	EpochMs       int64  `json:"epoch_ms"`
	FormatVersion uint8  `json:"format_version"`
	PacketBytes   int    `json:"packet_bytes"`
	BlobBytes     int    `json:"blob_bytes"`
	BlobPath      string `json:"blob_path,omitempty"`
	BlobHex       string `json:"blob_hex,omitempty"`
	ImagePath     string `json:"image_path,omitempty"`
}

// encodeCmd represents the encode command
var encodeCmd = &cobra.Command{
	Use:   "encode CACHE_JSON",
	Short: "Encode a monitor cache document into a blob or code image",
	Long: `Encode one monitor cache document with the configured tables and codec
settings. The cache file is not modified; a missing epoch_ms uses the current
time and a missing packet_id is left out of the packet.

Examples:
  vitalgap encode monitor_cache.json
  vitalgap encode monitor_cache.json --blob packet.bin --png code.png`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFrom(cmd)
		if err != nil {
			return err
		}
		opts := encodeOptions{CachePath: args[0]}
		opts.BlobOut, _ = cmd.Flags().GetString("blob")
		opts.ImageOut, _ = cmd.Flags().GetString("png")
		opts.Engine, _ = cmd.Flags().GetString("engine")

		result, err := runEncode(cmd.Context(), a, opts)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), result)
	},
}

func init() {
	rootCmd.AddCommand(encodeCmd)

	encodeCmd.Flags().String("blob", "", "Write the blob to this file instead of printing it as hex")
	encodeCmd.Flags().String("png", "", "Render the code image to this PNG file")
	encodeCmd.Flags().String("engine", "", "Barcode engine: datamatrix or builtin (overrides config)")
}

func runEncode(ctx context.Context, a *app, opts encodeOptions) (EncodeResult, error) {
	data, err := os.ReadFile(opts.CachePath)
	if err != nil {
		return EncodeResult{}, fmt.Errorf("failed to read cache: %w", err)
	}
	doc, err := record.ParseCache(data)
	if err != nil {
		return EncodeResult{}, fmt.Errorf("failed to parse cache %s: %w", opts.CachePath, err)
	}

	epochMs := time.Now().UnixMilli()
	if doc.EpochMs != nil {
		epochMs = *doc.EpochMs
	}

	c, err := newCodec(a.cfg)
	if err != nil {
		return EncodeResult{}, err
	}
	snap := a.cfg.Tables.SnapshotFromPayload(epochMs, doc.PacketID, doc.Beds)
	blob, packet, err := c.Pack(snap)
	if err != nil {
		return EncodeResult{}, err
	}

	result := EncodeResult{
		PacketID:      doc.PacketID,
		EpochMs:       epochMs,
		FormatVersion: a.cfg.Codec.FormatVersion,
		PacketBytes:   len(packet),
		BlobBytes:     len(blob),
	}

	if opts.BlobOut != "" {
		if err := fsutil.AtomicWrite(ctx, opts.BlobOut, blob, fsutil.Options{}); err != nil {
			return EncodeResult{}, fmt.Errorf("failed to write blob: %w", err)
		}
		result.BlobPath = opts.BlobOut
	} else {
		result.BlobHex = hex.EncodeToString(blob)
	}

	if opts.ImageOut != "" {
		renderer, _, err := openEngine(a.cfg, opts.Engine, a.logger)
		if err != nil {
			return EncodeResult{}, err
		}
		img, err := renderer.Render(ctx, blob, a.cfg.Pipeline.RenderSize)
		if err != nil {
			return EncodeResult{}, err
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return EncodeResult{}, fmt.Errorf("failed to encode png: %w", err)
		}
		if err := fsutil.AtomicWrite(ctx, opts.ImageOut, buf.Bytes(), fsutil.Options{}); err != nil {
			return EncodeResult{}, fmt.Errorf("failed to write image: %w", err)
		}
		result.ImagePath = opts.ImageOut
	}

	return result, nil
}
