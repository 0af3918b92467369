// Package report aggregates match results into validation statistics.
package report

import (
	"github.com/ssargent/vitalgap/pkg/match"
)

// MethodCount is the count and share of one match method.
type MethodCount struct {
	Count    int      `json:"count"`
	Fraction *float64 `json:"fraction"`
}

// Summary is an immutable aggregate over a window of match results.
type Summary struct {
	Total   int                          `json:"total"`
	Methods map[match.Method]MethodCount `json:"methods"`
	// DeltaMs covers matched results with a known capture time.
	DeltaMs Distribution `json:"delta_ms"`

	DecodeOK              int      `json:"decode_ok"`
	DecodeSuccess         int      `json:"decode_success"`
	DecodeSuccessFraction *float64 `json:"decode_success_fraction"`
	ChecksumValid         int      `json:"checksum_valid"`
	ChecksumInvalid       int      `json:"checksum_invalid"`
	ChecksumValidFraction *float64 `json:"checksum_valid_fraction"`
	ChecksumInvalidFrac   *float64 `json:"checksum_invalid_fraction"`
	DuplicateIDMatches    int      `json:"duplicate_id_matches"`
}

// Window returns the last n results, or all of them when n <= 0.
func Window(results []match.Result, n int) []match.Result {
	if n <= 0 || n >= len(results) {
		return results
	}
	return results[len(results)-n:]
}

// Summarize aggregates the most recent lastN results (all when lastN <= 0).
// results is not modified.
func Summarize(results []match.Result, lastN int) Summary {
	window := Window(results, lastN)

	counts := make(map[match.Method]int, len(match.Methods))
	var deltas []float64
	s := Summary{Total: len(window)}

	for _, r := range window {
		counts[r.Method]++
		if r.Matched() && r.DeltaMs != nil {
			deltas = append(deltas, float64(*r.DeltaMs))
		}
		if r.Duplicates > 0 {
			s.DuplicateIDMatches++
		}

		if r.Decoded.DecodeOK {
			s.DecodeOK++
		}
		if r.Decoded.Succeeded() {
			s.DecodeSuccess++
		}
		if r.Decoded.CRCOK {
			s.ChecksumValid++
		} else {
			s.ChecksumInvalid++
		}
	}

	s.Methods = make(map[match.Method]MethodCount, len(match.Methods))
	for _, m := range match.Methods {
		s.Methods[m] = MethodCount{Count: counts[m], Fraction: ratio(counts[m], s.Total)}
	}
	s.DeltaMs = Describe(deltas)
	s.DecodeSuccessFraction = ratio(s.DecodeSuccess, s.Total)
	s.ChecksumValidFraction = ratio(s.ChecksumValid, s.Total)
	s.ChecksumInvalidFrac = ratio(s.ChecksumInvalid, s.Total)

	return s
}
