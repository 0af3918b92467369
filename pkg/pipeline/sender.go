package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"image/png"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ssargent/vitalgap/pkg/barcode"
	"github.com/ssargent/vitalgap/pkg/codec"
	"github.com/ssargent/vitalgap/pkg/fsutil"
	"github.com/ssargent/vitalgap/pkg/record"
)

const (
	// DefaultReadRetries and DefaultReadDelay bound how long a poll waits
	// for a cache file that is mid-replacement.
	DefaultReadRetries = 3
	DefaultReadDelay   = 50 * time.Millisecond
)

// SenderConfig holds configuration for the sender loop
type SenderConfig struct {
	CachePath   string        // Monitor cache JSON to poll
	ImagePath   string        // PNG the display shows
	SnapshotDir string        // Root of the per-day truth logs ("" = dir of ImagePath)
	StatePath   string        // Packet id counter ("" = next to CachePath)
	RenderSize  int           // Target image side in pixels
	Interval    time.Duration // Poll interval
	ReadRetries int
	ReadDelay   time.Duration
	FS          fsutil.Options
}

// SendResult describes one poll.
type SendResult struct {
	Rendered         bool
	PacketID         int64
	EpochMs          int64
	PacketSize       int
	BlobSize         int
	ReadAttempt      int
	MetadataFilled   bool
	SnapshotAppended bool
	SnapshotPath     string
}

// Sender turns cache updates into code images and truth rows.
type Sender struct {
	config   SenderConfig
	codec    *codec.Codec
	renderer barcode.Renderer
	counter  *record.PacketCounter
	options

	lastHash [sha256.Size]byte
	hashed   bool
}

// NewSender creates a sender. The codec's tables decide which beds and
// parameters reach the image.
func NewSender(config SenderConfig, c *codec.Codec, renderer barcode.Renderer, opts ...Option) (*Sender, error) {
	if config.CachePath == "" || config.ImagePath == "" {
		return nil, errors.New("sender needs a cache path and an image path")
	}
	if c == nil || renderer == nil {
		return nil, errors.New("sender needs a codec and a renderer")
	}
	if config.SnapshotDir == "" {
		config.SnapshotDir = filepath.Dir(config.ImagePath)
	}
	if config.StatePath == "" {
		config.StatePath = record.PacketIDStatePath(config.CachePath)
	}
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.ReadRetries <= 0 {
		config.ReadRetries = DefaultReadRetries
	}
	if config.ReadDelay <= 0 {
		config.ReadDelay = DefaultReadDelay
	}

	o := buildOptions(opts)
	return &Sender{
		config:   config,
		codec:    c,
		renderer: renderer,
		counter:  record.NewPacketCounter(config.StatePath, config.FS, o.logger),
		options:  o,
	}, nil
}

// SendOnce polls the cache once. An unchanged cache is a no-op. On any
// failure the previously rendered image stays in place.
func (s *Sender) SendOnce(ctx context.Context) (SendResult, error) {
	doc, raw, attempt, err := record.ReadCache(ctx, s.config.CachePath, s.config.ReadRetries, s.config.ReadDelay)
	if err != nil {
		s.metrics.RecordPoll(OutcomeReadError)
		return SendResult{ReadAttempt: attempt}, err
	}
	result := SendResult{ReadAttempt: attempt}

	hash := sha256.Sum256(raw)
	if s.hashed && hash == s.lastHash {
		s.metrics.RecordPoll(OutcomeUnchanged)
		return result, nil
	}

	result, err = s.render(ctx, doc, hash, result)
	if err != nil {
		s.metrics.RecordPoll(OutcomeError)
		return result, err
	}
	s.metrics.RecordPoll(OutcomeRendered)
	s.metrics.RecordRender(result.PacketID, result.PacketSize, result.BlobSize, result.SnapshotAppended)
	return result, nil
}

func (s *Sender) render(ctx context.Context, doc *record.CacheDocument, readHash [sha256.Size]byte, result SendResult) (SendResult, error) {
	changed, err := doc.EnsureMetadata(s.clock.Now(), func() (int64, error) {
		return s.counter.Next(ctx)
	})
	if err != nil {
		return result, err
	}
	result.MetadataFilled = changed

	raw, err := record.MarshalCache(doc)
	if err != nil {
		return result, fmt.Errorf("failed to marshal cache: %w", err)
	}
	if changed {
		if err := fsutil.AtomicWrite(ctx, s.config.CachePath, raw, s.config.FS); err != nil {
			return result, fmt.Errorf("failed to write cache metadata: %w", err)
		}
	}

	result.PacketID = *doc.PacketID
	result.EpochMs = *doc.EpochMs

	snap := s.codec.Packet.Tables().SnapshotFromPayload(result.EpochMs, doc.PacketID, doc.Beds)
	blob, packet, err := s.codec.Pack(snap)
	if err != nil {
		return result, fmt.Errorf("failed to encode packet %d: %w", result.PacketID, err)
	}
	result.PacketSize = len(packet)
	result.BlobSize = len(blob)

	img, err := s.renderer.Render(ctx, blob, s.config.RenderSize)
	if err != nil {
		return result, fmt.Errorf("failed to render packet %d: %w", result.PacketID, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return result, fmt.Errorf("failed to encode png: %w", err)
	}
	if err := fsutil.AtomicWrite(ctx, s.config.ImagePath, buf.Bytes(), s.config.FS); err != nil {
		return result, fmt.Errorf("failed to write image: %w", err)
	}

	// Track the bytes now on disk so our own metadata write-back does not
	// count as a change on the next poll.
	s.lastHash = readHash
	if changed {
		s.lastHash = sha256.Sum256(raw)
	}
	s.hashed = true

	result.SnapshotPath = record.SnapshotLogPath(s.config.SnapshotDir, result.EpochMs)
	appended, err := record.AppendTruth(ctx, result.SnapshotPath, doc.Truth(), s.config.FS, s.logger)
	if err != nil {
		s.logger.Warn("failed to append cache snapshot", zap.String("path", result.SnapshotPath), zap.Error(err))
	}
	result.SnapshotAppended = appended
	result.Rendered = true

	s.logger.Info("regenerated code image from cache",
		zap.String("image", s.config.ImagePath),
		zap.Int64("packet_id", result.PacketID),
		zap.Int("packet_size", result.PacketSize),
		zap.Int("blob_size", result.BlobSize),
		zap.Int("read_attempt", result.ReadAttempt),
		zap.Bool("snapshot_appended", appended))
	return result, nil
}

// Run polls until ctx is cancelled. Poll failures are logged and the loop
// keeps going.
func (s *Sender) Run(ctx context.Context) error {
	s.logger.Info("sender started",
		zap.String("cache", s.config.CachePath),
		zap.String("image", s.config.ImagePath),
		zap.Duration("interval", s.config.Interval))

	return runLoop(ctx, s.config.Interval, func(ctx context.Context) error {
		_, err := s.SendOnce(ctx)
		return err
	}, func(err error) {
		s.logger.Warn("cache poll failed; keeping previous image", zap.Error(err))
	})
}
