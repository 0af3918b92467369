package vitals

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// BedsPayload is the JSON form of a snapshot's beds, shared by the monitor
// cache, truth logs and decoded logs:
//
//	{"BED01": {"vitals": {"HR": {"value": 72, "unit": "bpm"}}}}
type BedsPayload map[string]BedPayload

// BedPayload is one bed in a BedsPayload.
type BedPayload struct {
	Patient map[string]string       `json:"patient,omitempty"`
	Vitals  map[string]VitalPayload `json:"vitals"`
}

// VitalPayload is one reading. Value is kept as decoded JSON (number, string
// or null) so that loosely typed producers can be normalized later.
type VitalPayload struct {
	Value  any    `json:"value"`
	Unit   string `json:"unit,omitempty"`
	Flag   string `json:"flag,omitempty"`
	Status string `json:"status,omitempty"`
}

// UnmarshalJSON accepts both the object form and a bare scalar such as
// {"HR": 72}.
func (v *VitalPayload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		type plain VitalPayload
		var p plain
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return err
		}
		*v = VitalPayload(p)
		return nil
	}
	var scalar any
	if err := json.Unmarshal(trimmed, &scalar); err != nil {
		return err
	}
	*v = VitalPayload{Value: scalar}
	return nil
}

// NumberStatus classifies the outcome of ParseNumber.
type NumberStatus string

const (
	NumberOK      NumberStatus = "ok"
	NumberMissing NumberStatus = "missing"
	NumberInvalid NumberStatus = "invalid"
)

var numberRE = regexp.MustCompile(`[-+]?\d*\.?\d+`)

// ParseNumber normalizes a loosely typed reading. Strings are scanned for the
// first numeric token so values like "36.8C" survive. NaN and Inf count as
// missing, booleans as invalid.
func ParseNumber(v any) (float64, NumberStatus) {
	switch x := v.(type) {
	case nil:
		return 0, NumberMissing
	case bool:
		return 0, NumberInvalid
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case int:
		return float64(x), NumberOK
	case int64:
		return float64(x), NumberOK
	case string:
		text := strings.TrimSpace(x)
		if text == "" {
			return 0, NumberMissing
		}
		m := numberRE.FindString(text)
		if m == "" {
			return 0, NumberInvalid
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0, NumberInvalid
		}
		return finite(f)
	default:
		return 0, NumberInvalid
	}
}

func finite(f float64) (float64, NumberStatus) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, NumberMissing
	}
	return f, NumberOK
}

// Reading returns the raw value for bed/param, or nil when absent.
func (p BedsPayload) Reading(bed, param string) any {
	b, ok := p[bed]
	if !ok {
		return nil
	}
	v, ok := b.Vitals[param]
	if !ok {
		return nil
	}
	return v.Value
}
