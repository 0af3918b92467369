/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ssargent/vitalgap/pkg/archive"
	"github.com/ssargent/vitalgap/pkg/fsutil"
	"github.com/ssargent/vitalgap/pkg/match"
	"github.com/ssargent/vitalgap/pkg/record"
	"github.com/ssargent/vitalgap/pkg/report"
)

type validateOptions struct {
	DecodedPath   string
	TruthPath     string
	TruthMode     string
	ToleranceSec  float64
	Last          int
	OutPath       string
	SummaryOut    string
	ArchiveDir    string
	TimestampOnly bool
}

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Match decoded records against truth and report accuracy",
	Long: `Match every decoded record against the truth log, first by packet id and
then by nearest timestamp within the tolerance, and report decode rates,
latency and per-field accuracy.

The summary is printed as JSON. --out writes one line per decoded record with
running counts; --summary-out writes the summary document; --archive-dir
stores the run for the status server.

The command fails only when an input file cannot be read or is malformed.

Examples:
  vitalgap validate
  vitalgap validate --decoded decoded.jsonl --truth dataset --tolerance-sec 1.5 --last 500
  vitalgap validate --out validation.jsonl --summary-out summary.json --archive-dir dataset/archive`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFrom(cmd)
		if err != nil {
			return err
		}
		cfg := a.cfg

		opts := validateOptions{
			DecodedPath:  cfg.Resolve(cfg.Pipeline.DecodedLog),
			TruthPath:    cfg.DataDir,
			ToleranceSec: cfg.Validator.ToleranceSec,
			Last:         cfg.Validator.Last,
		}
		flags := cmd.Flags()
		if flags.Changed("decoded") {
			opts.DecodedPath, _ = flags.GetString("decoded")
		}
		if flags.Changed("truth") {
			opts.TruthPath, _ = flags.GetString("truth")
		}
		if flags.Changed("tolerance-sec") {
			opts.ToleranceSec, _ = flags.GetFloat64("tolerance-sec")
		}
		if flags.Changed("last") {
			opts.Last, _ = flags.GetInt("last")
		}
		opts.TruthMode, _ = flags.GetString("truth-mode")
		opts.OutPath, _ = flags.GetString("out")
		opts.SummaryOut, _ = flags.GetString("summary-out")
		opts.ArchiveDir, _ = flags.GetString("archive-dir")
		opts.TimestampOnly, _ = flags.GetBool("timestamp-only")

		doc, err := runValidate(cmd.Context(), a, opts)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), doc)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().String("decoded", "", "Decoded JSONL log (default: pipeline.decoded_log)")
	validateCmd.Flags().String("truth", "", "Truth JSONL file or snapshot directory (default: data dir)")
	validateCmd.Flags().String("truth-mode", string(record.TruthSnapshot), "Truth source: snapshot or generator")
	validateCmd.Flags().Float64("tolerance-sec", 0, "Nearest-timestamp tolerance in seconds (default: validator.tolerance_sec)")
	validateCmd.Flags().Int("last", 0, "Evaluate only the last N decoded records (0 = all)")
	validateCmd.Flags().String("out", "", "Write per-record results as JSONL")
	validateCmd.Flags().String("summary-out", "", "Write the summary document as JSON")
	validateCmd.Flags().String("archive-dir", "", "Store the run in this archive for the status server")
	validateCmd.Flags().Bool("timestamp-only", false, "Ignore packet ids and match by timestamp only")
	_ = validateCmd.Flags().MarkDeprecated("timestamp-only", "packet ids are matched first; use only to reproduce old runs")
}

func runValidate(ctx context.Context, a *app, opts validateOptions) (report.Document, error) {
	logger := a.logger
	cfg := a.cfg

	mode, err := record.ParseTruthMode(opts.TruthMode)
	if err != nil {
		return report.Document{}, err
	}
	if opts.ToleranceSec < 0 {
		return report.Document{}, fmt.Errorf("tolerance-sec must be >= 0, got %v", opts.ToleranceSec)
	}
	if opts.Last < 0 {
		return report.Document{}, fmt.Errorf("last must be >= 0, got %d", opts.Last)
	}

	decoded, err := record.LoadDecoded(opts.DecodedPath, opts.Last, logger)
	if err != nil {
		return report.Document{}, err
	}
	truth, err := record.LoadTruth(opts.TruthPath, mode, logger)
	if err != nil {
		return report.Document{}, err
	}

	strategy := match.StrategyIdentifierFirst
	if opts.TimestampOnly {
		strategy = match.StrategyTimestampOnly
	}
	engine, err := match.NewEngine(truth, match.Config{
		Tolerance: time.Duration(opts.ToleranceSec * float64(time.Second)),
		Strategy:  strategy,
	})
	if err != nil {
		return report.Document{}, err
	}
	results := engine.MatchAll(decoded)
	lines := report.Lines(results)

	evaluator, err := report.NewFieldEvaluator(cfg.Tables.Beds, cfg.Tables.Params, cfg.Validator.FieldRules)
	if err != nil {
		return report.Document{}, err
	}

	doc := report.Document{
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
		DecodedPath:  opts.DecodedPath,
		TruthPath:    opts.TruthPath,
		TruthMode:    string(mode),
		Strategy:     strategy.String(),
		ToleranceSec: opts.ToleranceSec,
		Last:         opts.Last,
		DecodedRows:  len(decoded),
		TruthRows:    len(truth),
		Summary:      report.Summarize(results, 0),
		Fields:       evaluator.Evaluate(results),
	}

	if opts.OutPath != "" {
		if err := writeLines(opts.OutPath, lines); err != nil {
			return report.Document{}, err
		}
	}
	if opts.SummaryOut != "" {
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return report.Document{}, err
		}
		if err := fsutil.AtomicWrite(ctx, opts.SummaryOut, append(data, '\n'), fsutil.Options{}); err != nil {
			return report.Document{}, fmt.Errorf("failed to write summary: %w", err)
		}
	}
	if opts.ArchiveDir != "" {
		if err := archiveRun(opts.ArchiveDir, doc, lines, truth, logger); err != nil {
			return report.Document{}, err
		}
	}

	logger.Info("validation complete",
		zap.Int("decoded", doc.DecodedRows),
		zap.Int("truth", doc.TruthRows),
		zap.Int("exact_identifier", doc.Summary.Methods[match.MethodExactID].Count),
		zap.Int("nearest_timestamp", doc.Summary.Methods[match.MethodNearest].Count),
		zap.Int("unmatched", doc.Summary.Methods[match.MethodUnmatched].Count))
	return doc, nil
}

func writeLines(path string, lines []report.Line) error {
	w, err := record.NewLogWriter(record.LogWriterConfig{FilePath: path, Truncate: true})
	if err != nil {
		return err
	}
	for _, line := range lines {
		if err := w.Append(line); err != nil {
			_ = w.Close()
			return fmt.Errorf("failed to write results: %w", err)
		}
	}
	return w.Close()
}

func archiveRun(dir string, doc report.Document, lines []report.Line, truth []record.TruthRecord, logger *zap.Logger) error {
	a, err := archive.Open(dir)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.SaveRun(doc, lines, truth)
	if err != nil {
		return err
	}
	logger.Info("run archived", zap.String("run_id", run.ID), zap.String("archive", dir))
	return nil
}
