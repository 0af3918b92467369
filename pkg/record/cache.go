package record

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ssargent/vitalgap/pkg/fsutil"
	"github.com/ssargent/vitalgap/pkg/logging"
	"github.com/ssargent/vitalgap/pkg/vitals"
)

// SnapshotLogName is the per-day truth log the sender appends to.
const SnapshotLogName = "cache_snapshots.jsonl"

// DefaultSource tags cache documents whose producer did not name itself.
const DefaultSource = "generator"

// CacheDocument is the shared monitor cache the sender renders from:
//
//	{"epoch_ms": 1719043200000, "ts": "...", "packet_id": 12,
//	 "source": "hl7", "beds": {"BED01": {"vitals": {"HR": {"value": 72}}}}}
type CacheDocument struct {
	EpochMs   *int64             `json:"epoch_ms"`
	Timestamp string             `json:"ts"`
	PacketID  *int64             `json:"packet_id"`
	Source    string             `json:"source"`
	Beds      vitals.BedsPayload `json:"beds"`
}

// ParseCache parses a cache document leniently: unusable metadata fields are
// left unset for EnsureMetadata to fill.
func ParseCache(data []byte) (*CacheDocument, error) {
	var raw rawTruth
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	doc := &CacheDocument{
		PacketID:  normalizePacketID(raw.PacketID),
		Timestamp: strings.TrimSpace(stringOf(raw.TS)),
		Source:    strings.TrimSpace(stringOf(raw.Source)),
	}
	if ms, ok := normalizeEpochMs(raw.EpochMs); ok {
		doc.EpochMs = &ms
	}
	if len(raw.Beds) > 0 && raw.Beds[0] == '{' {
		var beds vitals.BedsPayload
		if err := json.Unmarshal(raw.Beds, &beds); err == nil {
			doc.Beds = beds
		}
	}
	return doc, nil
}

// ReadCache reads and parses path, retrying when the file is missing or
// mid-replacement. It returns the raw bytes for change detection and the
// attempt that succeeded.
func ReadCache(ctx context.Context, path string, retries int, delay time.Duration) (*CacheDocument, []byte, int, error) {
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		data, err := os.ReadFile(path)
		if err == nil {
			var doc *CacheDocument
			doc, err = ParseCache(data)
			if err == nil {
				return doc, data, attempt, nil
			}
		}
		lastErr = err
		if attempt < retries {
			select {
			case <-ctx.Done():
				return nil, nil, attempt, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, nil, retries, fmt.Errorf("failed to read cache %s: %w", path, lastErr)
}

// FormatTimestamp renders epoch milliseconds as UTC ISO-8601 text with
// millisecond precision.
func FormatTimestamp(epochMs int64) string {
	return time.UnixMilli(epochMs).UTC().Format("2006-01-02T15:04:05.000-07:00")
}

// EnsureMetadata fills missing epoch_ms, ts, packet_id, source and beds.
// nextPacketID is called only when the document has no packet id.
func (d *CacheDocument) EnsureMetadata(now time.Time, nextPacketID func() (int64, error)) (bool, error) {
	changed := false

	if d.EpochMs == nil {
		ms := now.UnixMilli()
		d.EpochMs = &ms
		changed = true
	}
	if d.Timestamp == "" {
		d.Timestamp = FormatTimestamp(*d.EpochMs)
		changed = true
	}
	if d.PacketID == nil {
		id, err := nextPacketID()
		if err != nil {
			return changed, fmt.Errorf("failed to allocate packet id: %w", err)
		}
		d.PacketID = &id
		changed = true
	}
	if d.Source == "" {
		d.Source = DefaultSource
		changed = true
	}
	if d.Beds == nil {
		d.Beds = vitals.BedsPayload{}
		changed = true
	}
	return changed, nil
}

// Truth returns the truth line for this document.
func (d *CacheDocument) Truth() TruthRecord {
	rec := TruthRecord{
		PacketID:  d.PacketID,
		Timestamp: d.Timestamp,
		Source:    d.Source,
		Beds:      d.Beds,
	}
	if d.EpochMs != nil {
		rec.EpochMs = *d.EpochMs
	}
	return rec
}

// MarshalCache renders doc the way WriteCache stores it.
func MarshalCache(doc *CacheDocument) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// WriteCache atomically replaces path with the indented document.
func WriteCache(ctx context.Context, path string, doc *CacheDocument, opts fsutil.Options) error {
	data, err := MarshalCache(doc)
	if err != nil {
		return err
	}
	return fsutil.AtomicWrite(ctx, path, data, opts)
}

// SnapshotLogPath returns <dir>/<YYYYMMDD>/cache_snapshots.jsonl for the UTC
// day of epochMs.
func SnapshotLogPath(dir string, epochMs int64) string {
	day := time.UnixMilli(epochMs).UTC().Format("20060102")
	return filepath.Join(dir, day, SnapshotLogName)
}

// LastPacketID returns the packet id on the last complete line of a truth
// log, or nil when the file is missing or has no complete line. Only the tail
// of the file is read. A last line that is not valid JSON is ErrMalformedLine.
func LastPacketID(path string) (*int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return lastPacketID(f)
}

func lastPacketID(f *os.File) (*int64, error) {
	last, err := fsutil.LastLine(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read last line of %s: %w", f.Name(), err)
	}
	if last == nil {
		return nil, nil
	}

	var raw rawTruth
	if err := json.Unmarshal(last, &raw); err != nil {
		return nil, fmt.Errorf("%s: last line: %w: %v", f.Name(), ErrMalformedLine, err)
	}
	return normalizePacketID(raw.PacketID), nil
}

// AppendTruth appends rec to the truth log unless the last line already
// carries the same packet id. The check and the append happen under the
// log's lock file. A torn final fragment is dropped and an unreadable last
// line counts as no previous id; both are logged. It reports whether a line
// was written.
func AppendTruth(ctx context.Context, path string, rec TruthRecord, opts fsutil.Options, logger *zap.Logger) (bool, error) {
	if rec.PacketID == nil {
		return false, errors.New("truth record has no packet id")
	}
	logger = logging.OrNop(logger)

	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}

	appended := false
	err = fsutil.UpdateLocked(ctx, path, opts, func(f *os.File) error {
		dropped, err := fsutil.TrimPartialLine(f)
		if err != nil {
			return fmt.Errorf("failed to repair %s: %w", path, err)
		}
		if dropped > 0 {
			logger.Warn("dropped torn final line from truth log",
				zap.String("path", path), zap.Int64("bytes", dropped))
		}

		last, err := lastPacketID(f)
		if errors.Is(err, ErrMalformedLine) {
			logger.Warn("ignoring unreadable last line of truth log", zap.String("path", path), zap.Error(err))
			last, err = nil, nil
		}
		if err != nil {
			return err
		}
		if last != nil && *last == *rec.PacketID {
			return nil
		}

		if err := fsutil.WriteLine(f, data); err != nil {
			return fmt.Errorf("failed to append to %s: %w", path, err)
		}
		appended = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return appended, nil
}

// PacketIDStatePath returns the counter file next to a cache file: the cache
// path with its extension replaced by ".packet_id".
func PacketIDStatePath(cachePath string) string {
	return strings.TrimSuffix(cachePath, filepath.Ext(cachePath)) + ".packet_id"
}

// PacketCounter is a persisted, monotonically increasing packet id.
type PacketCounter struct {
	path   string
	opts   fsutil.Options
	logger *zap.Logger
	mu     sync.Mutex
}

// NewPacketCounter creates a counter backed by the state file at path.
func NewPacketCounter(path string, opts fsutil.Options, logger *zap.Logger) *PacketCounter {
	return &PacketCounter{path: path, opts: opts, logger: logging.OrNop(logger)}
}

// Current returns the last issued id, 0 when none has been issued. An
// unreadable state file counts as 0.
func (c *PacketCounter) Current() int64 {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("failed to read packet id state", zap.String("path", c.path), zap.Error(err))
		}
		return 0
	}
	text := string(bytes.TrimSpace(data))
	if text == "" {
		return 0
	}
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		c.logger.Warn("invalid packet id state; reset to 0", zap.String("path", c.path), zap.Error(err))
		return 0
	}
	return id
}

// Next issues and persists the next id.
func (c *PacketCounter) Next(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.Current() + 1
	if err := fsutil.AtomicWrite(ctx, c.path, []byte(strconv.FormatInt(id, 10)), c.opts); err != nil {
		return 0, err
	}
	return id, nil
}
