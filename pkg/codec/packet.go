package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ssargent/vitalgap/pkg/tables"
	"github.com/ssargent/vitalgap/pkg/vitals"
)

const (
	// PacketTag opens every packet.
	PacketTag = "VSNP"

	// Version1 carries the timestamp only.
	Version1 uint8 = 1
	// Version2 adds an optional packet identifier after the timestamp.
	Version2 uint8 = 2
	// DefaultVersion is what EncodeSnapshot emits.
	DefaultVersion = Version2

	// HeaderSize is the fixed prefix shared by all versions:
	// [Tag(4)][Version(1)][Beds(1)][Params(1)][Reserved(1)][Timestamp(8)]
	HeaderSize = 16
)

// SupportedVersion reports whether v is a known packet layout.
func SupportedVersion(v uint8) bool {
	return v == Version1 || v == Version2
}

// PacketCodec serializes snapshots shaped by a fixed Tables layout.
// It holds no mutable state and is safe for concurrent use.
type PacketCodec struct {
	tables tables.Tables
}

// NewPacketCodec creates a codec for the given layout.
func NewPacketCodec(t tables.Tables) (*PacketCodec, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tables: %w", err)
	}
	return &PacketCodec{tables: t}, nil
}

// Tables returns the layout the codec was built with.
func (c *PacketCodec) Tables() tables.Tables {
	return c.tables
}

// MaxSize returns the encoded size of a snapshot with every slot present.
func (c *PacketCodec) MaxSize(version uint8) int {
	n := HeaderSize + len(c.tables.Beds)*(1+len(c.tables.Params)*5)
	if version == Version2 {
		n += 9
	}
	return n
}

// EncodeSnapshot encodes s with its own timestamp and the default version.
func (c *PacketCodec) EncodeSnapshot(s *vitals.Snapshot) ([]byte, error) {
	return c.Encode(s, s.TimestampMs, DefaultVersion)
}

// Encode serializes s. The snapshot's bed and parameter key sets must equal
// the configured tables exactly. Version 1 cannot carry a packet identifier;
// s.PacketID is ignored there.
func (c *PacketCodec) Encode(s *vitals.Snapshot, timestampMs int64, version uint8) ([]byte, error) {
	if !SupportedVersion(version) {
		return nil, &FormatError{Reason: UnsupportedVersion, Version: version}
	}
	if err := c.checkShape(s); err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderSize, c.MaxSize(version))
	copy(buf[0:4], PacketTag)
	buf[4] = version
	buf[5] = uint8(len(c.tables.Beds))
	buf[6] = uint8(len(c.tables.Params))
	buf[7] = 0
	binary.LittleEndian.PutUint64(buf[8:16], uint64(timestampMs))

	if version == Version2 {
		if s.PacketID != nil {
			buf = append(buf, 1)
			buf = binary.LittleEndian.AppendUint64(buf, uint64(*s.PacketID))
		} else {
			buf = append(buf, 0)
		}
	}

	for _, bed := range c.tables.Beds {
		b := s.Beds[bed]
		if !b.Present {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		for _, p := range c.tables.Params {
			v := b.Vitals[p]
			if v == nil {
				buf = append(buf, 0)
				continue
			}
			q, err := c.quantize(bed, p, *v)
			if err != nil {
				return nil, err
			}
			buf = append(buf, 1)
			buf = binary.LittleEndian.AppendUint32(buf, uint32(q))
		}
	}

	return buf, nil
}

// Decode parses a packet. The tag and version are checked before anything
// else, then the header counts are cross-checked against the tables.
func (c *PacketCodec) Decode(data []byte) (*vitals.Snapshot, int64, uint8, error) {
	if len(data) < 4 {
		return nil, 0, 0, &TruncationError{Need: HeaderSize, Have: len(data)}
	}
	if string(data[0:4]) != PacketTag {
		return nil, 0, 0, &FormatError{Reason: BadTag, Tag: append([]byte(nil), data[0:4]...)}
	}
	if len(data) < 5 {
		return nil, 0, 0, &TruncationError{Need: HeaderSize, Have: len(data)}
	}
	version := data[4]
	if !SupportedVersion(version) {
		return nil, 0, 0, &FormatError{Reason: UnsupportedVersion, Version: version}
	}
	if len(data) < HeaderSize {
		return nil, 0, 0, &TruncationError{Need: HeaderSize, Have: len(data)}
	}

	bedCount, paramCount := int(data[5]), int(data[6])
	if bedCount != len(c.tables.Beds) {
		return nil, 0, 0, &ShapeError{Reason: fmt.Sprintf("header declares %d beds, tables have %d", bedCount, len(c.tables.Beds))}
	}
	if paramCount != len(c.tables.Params) {
		return nil, 0, 0, &ShapeError{Reason: fmt.Sprintf("header declares %d parameters, tables have %d", paramCount, len(c.tables.Params))}
	}
	timestampMs := int64(binary.LittleEndian.Uint64(data[8:16]))

	r := &packetReader{data: data, off: HeaderSize}
	s := c.tables.NewSnapshot(timestampMs)

	if version == Version2 {
		flag, err := r.readByte()
		if err != nil {
			return nil, 0, 0, err
		}
		if flag != 0 {
			id, err := r.readUint64()
			if err != nil {
				return nil, 0, 0, err
			}
			s.PacketID = vitals.Int64(int64(id))
		}
	}

	for _, bed := range c.tables.Beds {
		present, err := r.readByte()
		if err != nil {
			return nil, 0, 0, err
		}
		if present == 0 {
			continue
		}
		b := s.Beds[bed]
		b.Present = true
		for _, p := range c.tables.Params {
			has, err := r.readByte()
			if err != nil {
				return nil, 0, 0, err
			}
			if has == 0 {
				continue
			}
			raw, err := r.readUint32()
			if err != nil {
				return nil, 0, 0, err
			}
			b.Vitals[p] = vitals.Float(float64(int32(raw)) / c.tables.Scale(p))
		}
		s.Beds[bed] = b
	}

	if r.off != len(data) {
		return nil, 0, 0, &ShapeError{Reason: fmt.Sprintf("%d trailing bytes after body", len(data)-r.off)}
	}

	return s, timestampMs, version, nil
}

func (c *PacketCodec) checkShape(s *vitals.Snapshot) error {
	if s == nil {
		return &ShapeError{Reason: "nil snapshot"}
	}
	if len(s.Beds) != len(c.tables.Beds) {
		return &ShapeError{Reason: fmt.Sprintf("snapshot has %d beds, tables have %d", len(s.Beds), len(c.tables.Beds))}
	}
	for _, bed := range c.tables.Beds {
		b, ok := s.Beds[bed]
		if !ok {
			return &ShapeError{Reason: fmt.Sprintf("missing bed %q", bed)}
		}
		if len(b.Vitals) != len(c.tables.Params) {
			return &ShapeError{Reason: fmt.Sprintf("bed %q has %d parameters, tables have %d", bed, len(b.Vitals), len(c.tables.Params))}
		}
		for _, p := range c.tables.Params {
			if _, ok := b.Vitals[p]; !ok {
				return &ShapeError{Reason: fmt.Sprintf("bed %q missing parameter %q", bed, p)}
			}
		}
	}
	return nil
}

func (c *PacketCodec) quantize(bed, param string, v float64) (int32, error) {
	scaled := math.Round(v * c.tables.Scale(param))
	if math.IsNaN(scaled) || scaled < math.MinInt32 || scaled > math.MaxInt32 {
		return 0, &RangeError{Bed: bed, Param: param, Value: v}
	}
	return int32(scaled), nil
}

type packetReader struct {
	data []byte
	off  int
}

func (r *packetReader) need(n int) error {
	if len(r.data)-r.off < n {
		return &TruncationError{Need: r.off + n, Have: len(r.data)}
	}
	return nil
}

func (r *packetReader) readByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

func (r *packetReader) readUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *packetReader) readUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}
