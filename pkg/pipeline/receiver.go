package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ssargent/vitalgap/pkg/barcode"
	"github.com/ssargent/vitalgap/pkg/codec"
	"github.com/ssargent/vitalgap/pkg/fsutil"
	"github.com/ssargent/vitalgap/pkg/record"
)

// ImageSource produces one frame per call.
type ImageSource interface {
	Capture(ctx context.Context) (image.Image, error)
}

// FileSource reads the latest PNG at Path, optionally cropped to ROI.
type FileSource struct {
	Path string
	ROI  image.Rectangle
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Capture decodes the file. A missing or half-written file is an error for
// this attempt only.
func (s FileSource) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.Path, err)
	}
	if s.ROI.Empty() {
		return img, nil
	}
	roi := s.ROI.Intersect(img.Bounds())
	si, ok := img.(subImager)
	if roi.Empty() || !ok {
		return nil, fmt.Errorf("roi %v outside %v", s.ROI, img.Bounds())
	}
	return si.SubImage(roi), nil
}

// CaptureName returns the capture file name for the seq-th frame taken at t:
// YYYYMMDD_HHMMSS_mmm_seq.png in local time.
func CaptureName(t time.Time, seq int) string {
	return fmt.Sprintf("%s_%03d_%06d.png", t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond), seq)
}

// ReceiverConfig holds configuration for the receiver loop
type ReceiverConfig struct {
	DecodedLog    string        // JSONL output, appended
	CaptureDir    string        // Where frames are saved ("" = not saved)
	Interval      time.Duration // Capture interval
	FsyncInterval time.Duration
	FS            fsutil.Options
}

// Receiver captures frames and logs one DecodedRecord per attempt.
type Receiver struct {
	config  ReceiverConfig
	codec   *codec.Codec
	source  ImageSource
	decoder barcode.Decoder
	writer  *record.LogWriter
	options

	seq int
}

// NewReceiver opens the decoded log for appending.
func NewReceiver(config ReceiverConfig, c *codec.Codec, source ImageSource, decoder barcode.Decoder, opts ...Option) (*Receiver, error) {
	if config.DecodedLog == "" {
		return nil, errors.New("receiver needs a decoded log path")
	}
	if c == nil || source == nil || decoder == nil {
		return nil, errors.New("receiver needs a codec, an image source and a decoder")
	}
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	if config.CaptureDir != "" {
		if err := os.MkdirAll(config.CaptureDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create capture directory: %w", err)
		}
	}

	writer, err := record.NewLogWriter(record.LogWriterConfig{
		FilePath:      config.DecodedLog,
		FsyncInterval: config.FsyncInterval,
	})
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	if n := writer.Dropped(); n > 0 {
		o.logger.Warn("dropped torn final line from decoded log",
			zap.String("path", config.DecodedLog), zap.Int64("bytes", n))
	}

	return &Receiver{
		config:  config,
		codec:   c,
		source:  source,
		decoder: decoder,
		writer:  writer,
		options: o,
	}, nil
}

// CaptureOnce runs one attempt and appends its record. Capture and decode
// failures are recorded, not returned; the error is reserved for a log that
// cannot be written.
func (r *Receiver) CaptureOnce(ctx context.Context) (record.DecodedRecord, error) {
	start := time.Now()
	now := r.clock.Now()
	rec := record.DecodedRecord{DecodedAtMs: now.UnixMilli()}

	outcome := r.attempt(ctx, now, &rec)
	r.metrics.RecordAttempt(outcome, time.Since(start).Seconds())

	fields := []zap.Field{zap.String("outcome", outcome), zap.String("image", rec.SourceImage)}
	if outcome == OutcomeOK {
		if rec.PacketID != nil {
			r.metrics.RecordDecoded(*rec.PacketID)
			fields = append(fields, zap.Int64("packet_id", *rec.PacketID))
		}
		r.logger.Info("decoded ok", fields...)
	} else {
		r.logger.Warn("decode failed", append(fields, zap.String("error", rec.Error))...)
	}

	if err := r.writer.Append(rec); err != nil {
		return rec, fmt.Errorf("failed to append decoded record: %w", err)
	}
	return rec, nil
}

func (r *Receiver) attempt(ctx context.Context, now time.Time, rec *record.DecodedRecord) string {
	img, err := r.source.Capture(ctx)
	if err != nil {
		rec.Error = fmt.Sprintf("capture failed: %v", err)
		return OutcomeCaptureError
	}

	if r.config.CaptureDir != "" {
		path := filepath.Join(r.config.CaptureDir, CaptureName(now, r.seq))
		r.seq++
		if err := r.saveFrame(ctx, path, img); err != nil {
			r.logger.Warn("failed to save capture", zap.String("path", path), zap.Error(err))
		} else {
			rec.SourceImage = path
		}
	}

	blob, err := r.decoder.Decode(ctx, img)
	if err != nil {
		rec.Error = err.Error()
		if errors.Is(err, barcode.ErrNoCode) {
			return OutcomeNoCode
		}
		return OutcomeCaptureError
	}

	snap, version, err := r.codec.Unpack(blob)
	if err != nil {
		rec.Error = err.Error()
		switch {
		case errors.Is(err, codec.ErrIntegrity):
			// The symbol was read and decompressed; only the checksum failed.
			rec.DecodeOK = true
			return OutcomeIntegrity
		case errors.Is(err, codec.ErrCorruption):
			return OutcomeCorruption
		default:
			// Checksum passed but the packet itself was rejected.
			rec.CRCOK = true
			return OutcomeFormat
		}
	}

	rec.DecodeOK = true
	rec.CRCOK = true
	rec.FormatVersion = version
	rec.PacketID = snap.PacketID
	epoch := snap.TimestampMs
	rec.EpochMs = &epoch
	rec.Timestamp = record.FormatTimestamp(epoch)
	rec.Beds = snap.Payload()
	return OutcomeOK
}

func (r *Receiver) saveFrame(ctx context.Context, path string, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return fsutil.AtomicWrite(ctx, path, buf.Bytes(), r.config.FS)
}

// Run captures until ctx is cancelled, then closes the log.
func (r *Receiver) Run(ctx context.Context) error {
	r.logger.Info("receiver started",
		zap.String("decoded_log", r.config.DecodedLog),
		zap.String("capture_dir", r.config.CaptureDir),
		zap.Duration("interval", r.config.Interval))

	err := runLoop(ctx, r.config.Interval, func(ctx context.Context) error {
		_, err := r.CaptureOnce(ctx)
		return err
	}, func(err error) {
		r.logger.Error("receiver attempt failed", zap.Error(err))
	})
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close flushes and closes the decoded log.
func (r *Receiver) Close() error {
	return r.writer.Close()
}
