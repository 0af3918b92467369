// Package tables describes the fixed shape of a multi-bed snapshot: which
// beds, which parameters per bed, and how each parameter is quantized on the
// wire.
package tables

import (
	"fmt"
	"math"

	"github.com/ssargent/vitalgap/pkg/vitals"
)

// MaxEntries is the largest bed or parameter count a packet header can carry.
const MaxEntries = 255

// DefaultBeds is the six-slot bed layout used by the central monitor.
var DefaultBeds = []string{"BED01", "BED02", "BED03", "BED04", "BED05", "BED06"}

// DefaultParams is the twenty-parameter vital layout.
var DefaultParams = []string{
	"HR", "ART_S", "ART_D", "ART_M", "CVP_M", "RAP_M", "SpO2", "TSKIN", "TRECT", "rRESP",
	"EtCO2", "RR", "VTe", "VTi", "Ppeak", "PEEP", "O2conc", "NO", "BSR1", "BSR2",
}

// DefaultScales quantizes the temperature channels to one decimal place.
var DefaultScales = map[string]float64{
	"TSKIN": 10,
	"TRECT": 10,
}

// Tables is the immutable layout configuration injected into the packet
// codec. Order of Beds and Params defines the byte layout.
type Tables struct {
	Beds   []string           `yaml:"beds"`
	Params []string           `yaml:"params"`
	Scales map[string]float64 `yaml:"scales"`
}

// Default returns the six-bed, twenty-parameter layout.
func Default() Tables {
	t, err := New(DefaultBeds, DefaultParams, DefaultScales)
	if err != nil {
		panic(err)
	}
	return t
}

// New copies its arguments into a validated Tables value.
func New(beds, params []string, scales map[string]float64) (Tables, error) {
	t := Tables{
		Beds:   append([]string(nil), beds...),
		Params: append([]string(nil), params...),
		Scales: make(map[string]float64, len(scales)),
	}
	for k, v := range scales {
		t.Scales[k] = v
	}
	if err := t.Validate(); err != nil {
		return Tables{}, err
	}
	return t, nil
}

// Validate checks that the layout can be represented in a packet header.
func (t Tables) Validate() error {
	if err := checkNames("bed", t.Beds); err != nil {
		return err
	}
	if err := checkNames("parameter", t.Params); err != nil {
		return err
	}
	known := make(map[string]bool, len(t.Params))
	for _, p := range t.Params {
		known[p] = true
	}
	for p, s := range t.Scales {
		if !known[p] {
			return fmt.Errorf("scale configured for unknown parameter %q", p)
		}
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("scale for %q must be a positive finite number, got %v", p, s)
		}
	}
	return nil
}

func checkNames(kind string, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("at least one %s is required", kind)
	}
	if len(names) > MaxEntries {
		return fmt.Errorf("too many %ss: %d > %d", kind, len(names), MaxEntries)
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return fmt.Errorf("empty %s name", kind)
		}
		if seen[n] {
			return fmt.Errorf("duplicate %s %q", kind, n)
		}
		seen[n] = true
	}
	return nil
}

// Scale returns the quantization multiplier for param, 1 when unconfigured.
func (t Tables) Scale(param string) float64 {
	if s, ok := t.Scales[param]; ok && s > 0 {
		return s
	}
	return 1
}

// NewSnapshot returns a snapshot with every configured bed absent and every
// parameter slot empty.
func (t Tables) NewSnapshot(timestampMs int64) *vitals.Snapshot {
	s := &vitals.Snapshot{
		TimestampMs: timestampMs,
		Beds:        make(map[string]vitals.BedSnapshot, len(t.Beds)),
	}
	for _, bed := range t.Beds {
		b := vitals.BedSnapshot{Vitals: make(map[string]*float64, len(t.Params))}
		for _, p := range t.Params {
			b.Vitals[p] = nil
		}
		s.Beds[bed] = b
	}
	return s
}

// SnapshotFromPayload projects a loosely shaped beds payload onto the
// configured layout. Unknown beds and parameters are dropped, as are
// readings that do not parse as finite numbers. A bed is present when it
// carries at least one usable reading.
func (t Tables) SnapshotFromPayload(timestampMs int64, packetID *int64, beds vitals.BedsPayload) *vitals.Snapshot {
	s := t.NewSnapshot(timestampMs)
	if packetID != nil {
		s.PacketID = vitals.Int64(*packetID)
	}
	for _, bed := range t.Beds {
		bp, ok := beds[bed]
		if !ok {
			continue
		}
		for _, p := range t.Params {
			vp, ok := bp.Vitals[p]
			if !ok {
				continue
			}
			if v, status := vitals.ParseNumber(vp.Value); status == vitals.NumberOK {
				s.Set(bed, p, v)
			}
		}
	}
	return s
}
