package codec

import (
	"errors"
	"testing"

	"github.com/ssargent/vitalgap/pkg/tables"
)

func TestCodec_PackUnpack(t *testing.T) {
	c, err := New(tables.Default(), DefaultVersion, DefaultCompressLevel)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	in := sampleSnapshot(c.Packet.Tables())
	blob, packet, err := c.Pack(in)
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if string(packet[:4]) != PacketTag || string(blob[:4]) != BlobMagic {
		t.Fatalf("unexpected framing packet=%q blob=%q", packet[:4], blob[:4])
	}

	out, version, err := c.Unpack(blob)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if version != DefaultVersion {
		t.Errorf("version: got %d", version)
	}
	if out.TimestampMs != in.TimestampMs {
		t.Errorf("timestamp: got %d, want %d", out.TimestampMs, in.TimestampMs)
	}
	if out.PacketID == nil || *out.PacketID != 42 {
		t.Errorf("packet id: got %v", out.PacketID)
	}
	if v, ok := out.Value("BED03", "SpO2"); !ok || v != 97 {
		t.Errorf("BED03/SpO2: got %v %v", v, ok)
	}
}

func TestCodec_UnpackPropagatesPacketErrors(t *testing.T) {
	c, err := New(tables.Default(), Version1, 9)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	blob, err := c.Blob.Wrap([]byte("JUNKJUNKJUNKJUNKJUNK"))
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if _, _, err := c.Unpack(blob); !errors.Is(err, ErrBadTag) {
		t.Fatalf("expected ErrBadTag, got %v", err)
	}
}

func TestNew_RejectsBadSettings(t *testing.T) {
	if _, err := New(tables.Default(), 3, DefaultCompressLevel); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
	if _, err := New(tables.Default(), Version2, 0); err == nil {
		t.Error("expected compress level error")
	}
	if _, err := New(tables.Tables{}, Version2, DefaultCompressLevel); err == nil {
		t.Error("expected tables error")
	}
}
