// Package record defines the JSONL records exchanged between the sender,
// receiver and validator, and the append-only logs that hold them.
package record

import (
	"errors"
	"fmt"
	"time"

	"github.com/ssargent/vitalgap/pkg/vitals"
)

// LogWriterConfig holds configuration for the log writer
type LogWriterConfig struct {
	FilePath      string        // Path to the JSONL file
	FsyncInterval time.Duration // How often to fsync (0 = every append)
	BufferSize    int           // Write buffer size
	Truncate      bool          // Start from an empty file instead of appending
}

// LogReaderConfig holds configuration for the log reader
type LogReaderConfig struct {
	FilePath string
}

// TimeSource names the field a decoded record's capture time came from.
type TimeSource string

const (
	TimeDecodedAt   TimeSource = "decoded_at_ms"
	TimeTimestampMs TimeSource = "timestamp_ms"
	TimeEpochMs     TimeSource = "epoch_ms"
	TimeText        TimeSource = "timestamp"
	TimeFilename    TimeSource = "filename"
	TimeNone        TimeSource = "none"
)

// TruthRecord is one generated snapshot as the sender saw it.
type TruthRecord struct {
	PacketID  *int64             `json:"packet_id"`
	EpochMs   int64              `json:"epoch_ms"`
	Timestamp string             `json:"ts,omitempty"`
	Source    string             `json:"source,omitempty"`
	Beds      vitals.BedsPayload `json:"beds"`

	Line int `json:"-"`
}

// DecodedRecord is one capture attempt by the receiver. Failed attempts are
// recorded too, with DecodeOK or CRCOK false and Error set.
type DecodedRecord struct {
	DecodedAtMs   int64              `json:"decoded_at_ms"`
	DecodeOK      bool               `json:"decode_ok"`
	CRCOK         bool               `json:"crc_ok"`
	PacketID      *int64             `json:"packet_id,omitempty"`
	EpochMs       *int64             `json:"epoch_ms,omitempty"`
	Timestamp     string             `json:"ts,omitempty"`
	FormatVersion uint8              `json:"format_version,omitempty"`
	Beds          vitals.BedsPayload `json:"beds,omitempty"`
	Error         string             `json:"error,omitempty"`
	SourceImage   string             `json:"source_image,omitempty"`

	// Resolved by LoadDecoded.
	CaptureMs  *int64     `json:"capture_ms,omitempty"`
	TimeSource TimeSource `json:"time_source,omitempty"`
	Line       int        `json:"-"`
}

// Succeeded reports whether the attempt produced a checksum-valid snapshot.
func (r *DecodedRecord) Succeeded() bool {
	return r.DecodeOK && r.CRCOK
}

// ErrMalformedLine marks a JSONL line that could not be parsed.
var ErrMalformedLine = errors.New("malformed JSONL line")

// LineError locates a malformed line.
type LineError struct {
	Path string
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %v: %v", e.Path, e.Line, ErrMalformedLine, e.Err)
}

func (e *LineError) Unwrap() []error {
	return []error{ErrMalformedLine, e.Err}
}
