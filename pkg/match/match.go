// Package match pairs decoded captures with the truth records they came from.
//
// For each decoded record the first rule that applies wins:
//
//  1. exact-identifier: the record carries a packet id shared by at least one
//     truth record. No tolerance applies.
//  2. nearest-timestamp: the truth record whose generation time is closest to
//     the capture time, within the tolerance (inclusive).
//  3. unmatched.
//
// Truth records are never consumed, so many captures of one rendered code all
// match the same truth record.
package match

import (
	"fmt"
	"sort"
	"time"

	"github.com/ssargent/vitalgap/pkg/record"
)

// Method names the rule that produced a Result.
type Method string

const (
	MethodExactID   Method = "exact-identifier"
	MethodNearest   Method = "nearest-timestamp"
	MethodUnmatched Method = "unmatched"
)

// Methods lists every method in rule order.
var Methods = []Method{MethodExactID, MethodNearest, MethodUnmatched}

// Strategy selects which rules the engine applies.
type Strategy int

const (
	// StrategyIdentifierFirst applies every rule in order.
	StrategyIdentifierFirst Strategy = iota
	// StrategyTimestampOnly ignores packet ids.
	//
	// Deprecated: kept to reproduce runs made before packets carried ids.
	StrategyTimestampOnly
)

func (s Strategy) String() string {
	switch s {
	case StrategyIdentifierFirst:
		return "identifier-first"
	case StrategyTimestampOnly:
		return "timestamp-only"
	}
	return "unknown"
}

// DefaultTolerance is the nearest-timestamp window.
const DefaultTolerance = 2 * time.Second

// Config holds configuration for the engine
type Config struct {
	Tolerance time.Duration // Max |capture - generation| for nearest-timestamp
	Strategy  Strategy
}

// Result is the outcome for one decoded record.
type Result struct {
	Decoded record.DecodedRecord `json:"decoded"`
	Truth   *record.TruthRecord  `json:"truth,omitempty"`
	Method  Method               `json:"method"`
	// DeltaMs is capture minus generation time, set when matched and the
	// capture time is known.
	DeltaMs *int64 `json:"delta_ms,omitempty"`
	// Duplicates counts other truth records sharing the matched packet id.
	Duplicates int `json:"duplicates,omitempty"`
}

// Matched reports whether a truth record was found.
func (r Result) Matched() bool {
	return r.Truth != nil
}

// Engine matches decoded records against a fixed truth set. It never mutates
// its inputs and is safe for concurrent use.
type Engine struct {
	config Config
	truth  []record.TruthRecord // sorted by EpochMs, stable
	byID   map[int64][]int
}

// NewEngine indexes truth. The slice is copied and may arrive in any order.
func NewEngine(truth []record.TruthRecord, config Config) (*Engine, error) {
	if config.Tolerance < 0 {
		return nil, fmt.Errorf("tolerance must not be negative, got %v", config.Tolerance)
	}
	if config.Strategy != StrategyIdentifierFirst && config.Strategy != StrategyTimestampOnly {
		return nil, fmt.Errorf("unknown strategy %d", config.Strategy)
	}

	sorted := make([]record.TruthRecord, len(truth))
	copy(sorted, truth)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].EpochMs < sorted[j].EpochMs })

	byID := make(map[int64][]int)
	for i, t := range sorted {
		if t.PacketID != nil {
			byID[*t.PacketID] = append(byID[*t.PacketID], i)
		}
	}

	return &Engine{config: config, truth: sorted, byID: byID}, nil
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.config
}

// TruthCount returns the number of indexed truth records
func (e *Engine) TruthCount() int {
	return len(e.truth)
}

// MatchAll matches every record, preserving order.
func (e *Engine) MatchAll(decoded []record.DecodedRecord) []Result {
	out := make([]Result, len(decoded))
	for i := range decoded {
		out[i] = e.Match(decoded[i])
	}
	return out
}

// Match matches a single decoded record.
func (e *Engine) Match(rec record.DecodedRecord) Result {
	capture, hasCapture := CaptureMs(rec)

	if e.config.Strategy == StrategyIdentifierFirst && rec.PacketID != nil {
		if idx, ok := e.byID[*rec.PacketID]; ok {
			best := idx[0]
			if hasCapture {
				for _, i := range idx[1:] {
					// idx is in timestamp order, so strict < keeps the earliest on ties
					if absDiff(capture, e.truth[i].EpochMs) < absDiff(capture, e.truth[best].EpochMs) {
						best = i
					}
				}
			}
			return e.result(rec, best, MethodExactID, capture, hasCapture, len(idx)-1)
		}
	}

	if hasCapture {
		if best, ok := e.nearest(capture); ok {
			return e.result(rec, best, MethodNearest, capture, true, 0)
		}
	}

	return Result{Decoded: rec, Method: MethodUnmatched}
}

// nearest returns the index of the truth record closest to capture within
// tolerance. Ties go to the earlier generation time, then input order.
func (e *Engine) nearest(capture int64) (int, bool) {
	n := len(e.truth)
	if n == 0 {
		return 0, false
	}

	after := sort.Search(n, func(i int) bool { return e.truth[i].EpochMs >= capture })

	best := -1
	if after > 0 {
		ts := e.truth[after-1].EpochMs
		best = sort.Search(n, func(i int) bool { return e.truth[i].EpochMs >= ts })
	}
	if after < n && (best < 0 || absDiff(capture, e.truth[after].EpochMs) < absDiff(capture, e.truth[best].EpochMs)) {
		best = after
	}

	if !e.withinTolerance(absDiff(capture, e.truth[best].EpochMs)) {
		return 0, false
	}
	return best, true
}

func (e *Engine) withinTolerance(diffMs int64) bool {
	return float64(diffMs) <= float64(e.config.Tolerance)/float64(time.Millisecond)
}

func (e *Engine) result(rec record.DecodedRecord, i int, method Method, capture int64, hasCapture bool, dups int) Result {
	truth := e.truth[i]
	res := Result{
		Decoded:    rec,
		Truth:      &truth,
		Method:     method,
		Duplicates: dups,
	}
	if hasCapture {
		delta := capture - truth.EpochMs
		res.DeltaMs = &delta
	}
	return res
}

// CaptureMs returns the record's capture time: the resolved CaptureMs when
// the record came through record.LoadDecoded, otherwise DecodedAtMs.
func CaptureMs(rec record.DecodedRecord) (int64, bool) {
	if rec.CaptureMs != nil {
		return *rec.CaptureMs, true
	}
	if rec.TimeSource == record.TimeNone {
		return 0, false
	}
	if rec.DecodedAtMs != 0 {
		return rec.DecodedAtMs, true
	}
	return 0, false
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
