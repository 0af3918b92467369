//go:build fuzz
// +build fuzz

package codec

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/ssargent/vitalgap/pkg/tables"
)

// FuzzPacketCodec_RoundTrip fills one bed with fuzzed readings
func FuzzPacketCodec_RoundTrip(f *testing.F) {
	pc, err := NewPacketCodec(tables.Default())
	if err != nil {
		f.Fatal(err)
	}

	f.Add(int64(0), 72.0, 36.8, uint8(0))
	f.Add(int64(-1), -4.0, 0.0, uint8(5))
	f.Add(int64(1_700_000_000_000), 1e6, 41.05, uint8(19))

	f.Fuzz(func(t *testing.T, ts int64, hr, temp float64, slot uint8) {
		if math.IsNaN(hr) || math.IsInf(hr, 0) || math.Abs(hr) > 1e9 {
			t.Skip("value outside int32 range")
		}
		if math.IsNaN(temp) || math.IsInf(temp, 0) || math.Abs(temp) > 1e8 {
			t.Skip("value outside int32 range")
		}

		tb := pc.Tables()
		s := tb.NewSnapshot(ts)
		bed := tb.Beds[int(slot)%len(tb.Beds)]
		s.Set(bed, "HR", hr)
		s.Set(bed, "TRECT", temp)

		encoded, err := pc.EncodeSnapshot(s)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		out, gotTS, _, err := pc.Decode(encoded)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if gotTS != ts {
			t.Errorf("Timestamp mismatch: got %d, want %d", gotTS, ts)
		}
		if v, _ := out.Value(bed, "HR"); math.Abs(v-hr) > 0.5 {
			t.Errorf("HR mismatch: got %v, want %v", v, hr)
		}
		if v, _ := out.Value(bed, "TRECT"); math.Abs(v-temp) > 0.05+1e-6*math.Abs(temp) {
			t.Errorf("TRECT mismatch: got %v, want %v", v, temp)
		}
	})
}

// FuzzBlobCodec_CorruptionDetection flips one byte of a valid blob
func FuzzBlobCodec_CorruptionDetection(f *testing.F) {
	bc, err := NewBlobCodec(DefaultCompressLevel)
	if err != nil {
		f.Fatal(err)
	}

	f.Add([]byte("VSNP"), uint(0), byte(0xFF))
	f.Add([]byte("VSNP packet body"), uint(7), byte(0x01))
	f.Add(bytes.Repeat([]byte{0}, 200), uint(12), byte(0x80))

	f.Fuzz(func(t *testing.T, packet []byte, pos uint, mask byte) {
		if len(packet) > MaxPacketSize || mask == 0 {
			t.Skip()
		}
		blob, err := bc.Wrap(packet)
		if err != nil {
			t.Fatalf("Wrap failed: %v", err)
		}
		if int(pos) >= len(blob) {
			t.Skip("position beyond blob")
		}

		corrupted := append([]byte(nil), blob...)
		corrupted[pos] ^= mask

		out, err := bc.Unwrap(corrupted)
		if err == nil {
			// deflate tolerates some bit flips in block padding
			if !bytes.Equal(out, packet) {
				t.Errorf("corruption produced a different packet at position %d", pos)
			}
			return
		}
		if !errors.Is(err, ErrCorruption) && !errors.Is(err, ErrIntegrity) {
			t.Errorf("unexpected error kind: %v", err)
		}
	})
}

// FuzzPacketCodec_MalformedData must never panic
func FuzzPacketCodec_MalformedData(f *testing.F) {
	pc, err := NewPacketCodec(tables.Default())
	if err != nil {
		f.Fatal(err)
	}

	f.Add([]byte{})
	f.Add([]byte("VSNP"))
	f.Add([]byte("VSNP\x02\x06\x14\x00"))
	f.Add(make([]byte, HeaderSize))

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) > MaxPacketSize {
			t.Skip("input too large")
		}
		if _, _, _, err := pc.Decode(data); err == nil {
			t.Logf("decoded %d fuzzed bytes", len(data))
		}
	})
}

// FuzzBlobCodec_MalformedData must never panic
func FuzzBlobCodec_MalformedData(f *testing.F) {
	bc, err := NewBlobCodec(DefaultCompressLevel)
	if err != nil {
		f.Fatal(err)
	}

	f.Add([]byte{})
	f.Add([]byte("DMC1"))
	f.Add([]byte("DMC1\x78\x9c\x00\x00\x00\x00"))

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = bc.Unwrap(data)
	})
}
