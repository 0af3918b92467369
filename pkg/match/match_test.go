package match

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/vitalgap/pkg/record"
	"github.com/ssargent/vitalgap/pkg/vitals"
)

func truth(id *int64, epochMs int64, ts string) record.TruthRecord {
	return record.TruthRecord{PacketID: id, EpochMs: epochMs, Timestamp: ts}
}

func decoded(id *int64, captureMs int64) record.DecodedRecord {
	return record.DecodedRecord{
		DecodedAtMs: captureMs,
		DecodeOK:    true,
		CRCOK:       true,
		PacketID:    id,
		CaptureMs:   vitals.Int64(captureMs),
		TimeSource:  record.TimeDecodedAt,
	}
}

func newEngine(t *testing.T, tr []record.TruthRecord, tolerance time.Duration) *Engine {
	t.Helper()
	e, err := NewEngine(tr, Config{Tolerance: tolerance})
	require.NoError(t, err)
	return e
}

func TestMatch_ExactIdentifier(t *testing.T) {
	e := newEngine(t, []record.TruthRecord{
		truth(vitals.Int64(1), 1000, "p1"),
		truth(vitals.Int64(2), 1500, "p2"),
	}, 2*time.Second)

	res := e.Match(decoded(vitals.Int64(2), 1600))
	require.True(t, res.Matched())
	assert.Equal(t, MethodExactID, res.Method)
	assert.Equal(t, "p2", res.Truth.Timestamp)
	assert.Equal(t, vitals.Int64(100), res.DeltaMs)
	assert.Zero(t, res.Duplicates)
}

func TestMatch_NearestTimestamp(t *testing.T) {
	e := newEngine(t, []record.TruthRecord{
		truth(nil, 1400, "early"),
		truth(nil, 2300, "late"),
	}, 500*time.Millisecond)

	res := e.Match(decoded(nil, 2000))
	require.True(t, res.Matched())
	assert.Equal(t, MethodNearest, res.Method)
	assert.Equal(t, "late", res.Truth.Timestamp)
	assert.Equal(t, vitals.Int64(-300), res.DeltaMs)
}

func TestMatch_IdentifierBeatsTimestamp(t *testing.T) {
	e := newEngine(t, []record.TruthRecord{
		truth(vitals.Int64(7), 1000, "id7"),
		truth(vitals.Int64(8), 60_000, "id8"),
	}, time.Second)

	// closest truth is id8 but the id wins, and no tolerance applies
	res := e.Match(decoded(vitals.Int64(7), 59_900))
	assert.Equal(t, MethodExactID, res.Method)
	assert.Equal(t, "id7", res.Truth.Timestamp)
	assert.Equal(t, vitals.Int64(58_900), res.DeltaMs)
}

func TestMatch_UnknownIDFallsBackToTimestamp(t *testing.T) {
	e := newEngine(t, []record.TruthRecord{truth(vitals.Int64(1), 1000, "a")}, time.Second)

	res := e.Match(decoded(vitals.Int64(99), 1200))
	assert.Equal(t, MethodNearest, res.Method)
	assert.Equal(t, vitals.Int64(200), res.DeltaMs)
}

func TestMatch_ToleranceBoundaryInclusive(t *testing.T) {
	e := newEngine(t, []record.TruthRecord{truth(nil, 10_000, "t")}, 2*time.Second)

	testCases := []struct {
		capture int64
		method  Method
	}{
		{12_000, MethodNearest},
		{8_000, MethodNearest},
		{12_001, MethodUnmatched},
		{7_999, MethodUnmatched},
	}
	for _, tc := range testCases {
		res := e.Match(decoded(nil, tc.capture))
		assert.Equal(t, tc.method, res.Method, "capture=%d", tc.capture)
	}
}

func TestMatch_SubMillisecondTolerance(t *testing.T) {
	e := newEngine(t, []record.TruthRecord{truth(nil, 1000, "t")}, 1500*time.Microsecond)
	assert.Equal(t, MethodNearest, e.Match(decoded(nil, 1001)).Method)
	assert.Equal(t, MethodUnmatched, e.Match(decoded(nil, 1002)).Method)
}

func TestMatch_TiesGoToEarliest(t *testing.T) {
	e := newEngine(t, []record.TruthRecord{
		truth(nil, 1200, "after"),
		truth(nil, 800, "before-1"),
		truth(nil, 800, "before-2"),
	}, time.Second)

	res := e.Match(decoded(nil, 1000))
	assert.Equal(t, "before-1", res.Truth.Timestamp)

	res = e.Match(decoded(nil, 800))
	assert.Equal(t, "before-1", res.Truth.Timestamp)
}

func TestMatch_DuplicateIdentifiers(t *testing.T) {
	e := newEngine(t, []record.TruthRecord{
		truth(vitals.Int64(5), 3000, "third"),
		truth(vitals.Int64(5), 1000, "first"),
		truth(vitals.Int64(5), 2000, "second"),
		truth(vitals.Int64(5), 4000, "fourth"),
	}, time.Second)

	res := e.Match(decoded(vitals.Int64(5), 2600))
	assert.Equal(t, MethodExactID, res.Method)
	assert.Equal(t, "third", res.Truth.Timestamp)
	assert.Equal(t, 3, res.Duplicates)

	res = e.Match(decoded(vitals.Int64(5), 2500))
	assert.Equal(t, "second", res.Truth.Timestamp, "equal distance goes to the earlier truth")

	// Without a capture time the earliest duplicate is used and no delta is reported.
	noTime := record.DecodedRecord{PacketID: vitals.Int64(5), TimeSource: record.TimeNone}
	res = e.Match(noTime)
	assert.Equal(t, "first", res.Truth.Timestamp)
	assert.Nil(t, res.DeltaMs)
}

func TestMatch_Unmatched(t *testing.T) {
	empty := newEngine(t, nil, time.Second)
	res := empty.Match(decoded(vitals.Int64(1), 1000))
	assert.Equal(t, MethodUnmatched, res.Method)
	assert.False(t, res.Matched())
	assert.Nil(t, res.DeltaMs)

	e := newEngine(t, []record.TruthRecord{truth(nil, 1000, "t")}, time.Second)
	res = e.Match(record.DecodedRecord{TimeSource: record.TimeNone, Error: "no code found"})
	assert.Equal(t, MethodUnmatched, res.Method)
}

func TestMatch_TimestampOnlyStrategy(t *testing.T) {
	tr := []record.TruthRecord{
		truth(vitals.Int64(1), 1000, "id1"),
		truth(vitals.Int64(2), 5000, "id2"),
	}
	e, err := NewEngine(tr, Config{Tolerance: time.Second, Strategy: StrategyTimestampOnly})
	require.NoError(t, err)

	res := e.Match(decoded(vitals.Int64(2), 1100))
	assert.Equal(t, MethodNearest, res.Method)
	assert.Equal(t, "id1", res.Truth.Timestamp)
}

func TestMatch_CaptureFallsBackToDecodedAt(t *testing.T) {
	e := newEngine(t, []record.TruthRecord{truth(nil, 1000, "t")}, time.Second)
	res := e.Match(record.DecodedRecord{DecodedAtMs: 1300})
	assert.Equal(t, MethodNearest, res.Method)
	assert.Equal(t, vitals.Int64(300), res.DeltaMs)
}

func TestMatchAll_IdempotentAndOrderTolerant(t *testing.T) {
	tr := []record.TruthRecord{
		truth(vitals.Int64(3), 3000, "c"),
		truth(vitals.Int64(1), 1000, "a"),
		truth(vitals.Int64(2), 2000, "b"),
	}
	dec := []record.DecodedRecord{
		decoded(vitals.Int64(2), 2100),
		decoded(nil, 2950),
		decoded(vitals.Int64(1), 1100),
		decoded(vitals.Int64(1), 1200),
		decoded(nil, 9000),
	}
	decCopy := append([]record.DecodedRecord(nil), dec...)
	trCopy := append([]record.TruthRecord(nil), tr...)

	e := newEngine(t, tr, 500*time.Millisecond)
	first := e.MatchAll(dec)
	second := e.MatchAll(dec)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("MatchAll not idempotent (-first +second):\n%s", diff)
	}

	reversed := make([]record.TruthRecord, len(tr))
	for i := range tr {
		reversed[i] = tr[len(tr)-1-i]
	}
	other := newEngine(t, reversed, 500*time.Millisecond).MatchAll(dec)
	if diff := cmp.Diff(first, other); diff != "" {
		t.Errorf("truth order changed results (-sorted +reversed):\n%s", diff)
	}

	if diff := cmp.Diff(decCopy, dec); diff != "" {
		t.Errorf("decoded input mutated:\n%s", diff)
	}
	if diff := cmp.Diff(trCopy, tr); diff != "" {
		t.Errorf("truth input mutated:\n%s", diff)
	}

	methods := make([]Method, len(first))
	for i, r := range first {
		methods[i] = r.Method
	}
	assert.Equal(t, []Method{MethodExactID, MethodNearest, MethodExactID, MethodExactID, MethodUnmatched}, methods)
	assert.Equal(t, "a", first[2].Truth.Timestamp)
	assert.Equal(t, "a", first[3].Truth.Timestamp, "truth is never consumed")
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(nil, Config{Tolerance: -time.Second})
	assert.Error(t, err)
	_, err = NewEngine(nil, Config{Strategy: Strategy(9)})
	assert.Error(t, err)

	e, err := NewEngine([]record.TruthRecord{truth(nil, 1, "")}, Config{Tolerance: DefaultTolerance})
	require.NoError(t, err)
	assert.Equal(t, 1, e.TruthCount())
	assert.Equal(t, DefaultTolerance, e.Config().Tolerance)
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "identifier-first", StrategyIdentifierFirst.String())
	assert.Equal(t, "timestamp-only", StrategyTimestampOnly.String())
	assert.Equal(t, "unknown", Strategy(9).String())
}
