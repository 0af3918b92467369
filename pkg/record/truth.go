package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/ssargent/vitalgap/pkg/logging"
	"github.com/ssargent/vitalgap/pkg/vitals"
)

// TruthMode selects where ground truth comes from.
type TruthMode string

const (
	// TruthSnapshot reads the sender's cache_snapshots.jsonl, one line per
	// packet actually rendered. It is the strict 1:1 source.
	TruthSnapshot TruthMode = "snapshot"
	// TruthGenerator reads the upstream generator's truth log, which may hold
	// snapshots the sender never rendered.
	TruthGenerator TruthMode = "generator"
)

// ParseTruthMode accepts the mode names and their older long forms.
func ParseTruthMode(s string) (TruthMode, error) {
	switch s {
	case "snapshot", "cache_snapshot_jsonl":
		return TruthSnapshot, nil
	case "generator", "generator_jsonl":
		return TruthGenerator, nil
	}
	return "", fmt.Errorf("unknown truth mode %q (want snapshot or generator)", s)
}

type rawTruth struct {
	PacketID any             `json:"packet_id"`
	EpochMs  any             `json:"epoch_ms"`
	TS       any             `json:"ts"`
	Source   any             `json:"source"`
	Beds     json.RawMessage `json:"beds"`
}

// ParseTruth parses one truth line. ok is false when the line has no usable
// epoch_ms.
func ParseTruth(data []byte) (rec TruthRecord, ok bool, err error) {
	var raw rawTruth
	if err := json.Unmarshal(data, &raw); err != nil {
		return TruthRecord{}, false, err
	}

	epochMs, ok := normalizeEpochMs(raw.EpochMs)
	if !ok {
		return TruthRecord{}, false, nil
	}

	rec = TruthRecord{
		PacketID:  normalizePacketID(raw.PacketID),
		EpochMs:   epochMs,
		Timestamp: stringOf(raw.TS),
		Source:    stringOf(raw.Source),
		Beds:      vitals.BedsPayload{},
	}
	if len(raw.Beds) > 0 && raw.Beds[0] == '{' {
		if err := json.Unmarshal(raw.Beds, &rec.Beds); err != nil {
			return TruthRecord{}, false, fmt.Errorf("invalid beds: %w", err)
		}
	}
	return rec, true, nil
}

// LoadTruth reads truth records sorted by epoch_ms. In snapshot mode path may
// also be a directory holding per-day <YYYYMMDD>/cache_snapshots.jsonl files.
func LoadTruth(path string, mode TruthMode, logger *zap.Logger) ([]TruthRecord, error) {
	logger = logging.OrNop(logger).With(zap.String("truth_mode", string(mode)))

	files, err := truthFiles(path, mode)
	if err != nil {
		return nil, err
	}

	var out []TruthRecord
	for _, file := range files {
		skipped := 0
		err := scan(file, logger, func(line Line) error {
			rec, ok, err := ParseTruth(line.Data)
			if err != nil {
				return err
			}
			if !ok {
				skipped++
				logger.Warn("truth row missing valid epoch_ms, skipped",
					zap.String("path", file),
					zap.Int("line", line.Number))
				return nil
			}
			rec.Line = line.Number
			out = append(out, rec)
			return nil
		})
		if err != nil {
			return nil, err
		}
		logger.Debug("loaded truth file", zap.String("path", file), zap.Int("skipped", skipped))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].EpochMs < out[j].EpochMs })

	if mode == TruthGenerator {
		logger.Info("using generator truth; snapshot truth gives strict 1:1 matching",
			zap.Int("rows", len(out)))
	} else {
		logger.Info("loaded truth rows", zap.Int("rows", len(out)))
	}
	return out, nil
}

func truthFiles(path string, mode TruthMode) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	if mode != TruthSnapshot {
		return nil, fmt.Errorf("%s is a directory; %s truth needs a file", path, mode)
	}

	var files []string
	if root := filepath.Join(path, SnapshotLogName); fileExists(root) {
		files = append(files, root)
	}
	daily, err := filepath.Glob(filepath.Join(path, "*", SnapshotLogName))
	if err != nil {
		return nil, err
	}
	sort.Strings(daily)
	files = append(files, daily...)

	if len(files) == 0 {
		return nil, fmt.Errorf("no %s found under %s", SnapshotLogName, path)
	}
	return files, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
