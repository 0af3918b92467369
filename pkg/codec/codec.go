package codec

import (
	"github.com/ssargent/vitalgap/pkg/tables"
	"github.com/ssargent/vitalgap/pkg/vitals"
)

// Codec chains the packet and blob stages the way the sender and receiver
// use them.
type Codec struct {
	Packet  *PacketCodec
	Blob    *BlobCodec
	Version uint8
}

// New builds a Codec for the given layout, packet version and compression
// level.
func New(t tables.Tables, version uint8, level int) (*Codec, error) {
	if !SupportedVersion(version) {
		return nil, &FormatError{Reason: UnsupportedVersion, Version: version}
	}
	pc, err := NewPacketCodec(t)
	if err != nil {
		return nil, err
	}
	bc, err := NewBlobCodec(level)
	if err != nil {
		return nil, err
	}
	return &Codec{Packet: pc, Blob: bc, Version: version}, nil
}

// Pack encodes and wraps s, returning the blob and the intermediate packet.
func (c *Codec) Pack(s *vitals.Snapshot) (blob, packet []byte, err error) {
	packet, err = c.Packet.Encode(s, s.TimestampMs, c.Version)
	if err != nil {
		return nil, nil, err
	}
	blob, err = c.Blob.Wrap(packet)
	if err != nil {
		return nil, nil, err
	}
	return blob, packet, nil
}

// Unpack unwraps and decodes a blob. The returned snapshot carries the
// packet timestamp.
func (c *Codec) Unpack(blob []byte) (*vitals.Snapshot, uint8, error) {
	packet, err := c.Blob.Unwrap(blob)
	if err != nil {
		return nil, 0, err
	}
	s, _, version, err := c.Packet.Decode(packet)
	if err != nil {
		return nil, 0, err
	}
	return s, version, nil
}
