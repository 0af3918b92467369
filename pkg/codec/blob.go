package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"
)

const (
	// BlobMagic opens every blob.
	BlobMagic = "DMC1"

	// DefaultCompressLevel balances size against encode time on the sender.
	DefaultCompressLevel = 6

	// MaxPacketSize bounds decompressed output. A DataMatrix symbol holds
	// at most 1556 bytes, so anything near this limit is already bogus.
	MaxPacketSize = 64 * 1024

	blobFooterSize = 4
)

// BlobCodec wraps packets for the optical channel:
//
//	[Magic(4)][zlib(packet)][CRC32(4)]
//
// The CRC32 (IEEE, little-endian) covers the uncompressed packet.
type BlobCodec struct {
	level int
}

// NewBlobCodec creates a blob codec using zlib compression at level 1–9.
func NewBlobCodec(level int) (*BlobCodec, error) {
	if level < zlib.BestSpeed || level > zlib.BestCompression {
		return nil, fmt.Errorf("compress level must be between %d and %d, got %d", zlib.BestSpeed, zlib.BestCompression, level)
	}
	return &BlobCodec{level: level}, nil
}

// Wrap checksums and compresses packet into a blob.
func (c *BlobCodec) Wrap(packet []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(BlobMagic)

	zw, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}
	if _, err := zw.Write(packet); err != nil {
		return nil, fmt.Errorf("failed to compress packet: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush compressor: %w", err)
	}

	return binary.LittleEndian.AppendUint32(buf.Bytes(), crc32.ChecksumIEEE(packet)), nil
}

// Unwrap reverses Wrap. Malformed framing or a broken compressed stream is a
// CorruptionError; a clean stream whose checksum disagrees is an
// IntegrityError.
func (c *BlobCodec) Unwrap(blob []byte) ([]byte, error) {
	if len(blob) < len(BlobMagic)+blobFooterSize+1 {
		return nil, &CorruptionError{Reason: fmt.Sprintf("blob too small (%d bytes)", len(blob))}
	}
	if string(blob[:len(BlobMagic)]) != BlobMagic {
		return nil, &CorruptionError{Reason: fmt.Sprintf("invalid blob magic %q", blob[:len(BlobMagic)])}
	}

	footer := len(blob) - blobFooterSize
	expected := binary.LittleEndian.Uint32(blob[footer:])

	zr, err := zlib.NewReader(bytes.NewReader(blob[len(BlobMagic):footer]))
	if err != nil {
		return nil, &CorruptionError{Reason: "decompress failed", Err: err}
	}
	defer zr.Close()

	packet, err := io.ReadAll(io.LimitReader(zr, MaxPacketSize+1))
	if err != nil {
		return nil, &CorruptionError{Reason: "decompress failed", Err: err}
	}
	if len(packet) > MaxPacketSize {
		return nil, &CorruptionError{Reason: fmt.Sprintf("decompressed packet exceeds %d bytes", MaxPacketSize)}
	}

	if actual := crc32.ChecksumIEEE(packet); actual != expected {
		return nil, &IntegrityError{Expected: expected, Actual: actual}
	}

	return packet, nil
}
