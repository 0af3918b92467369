package tables

import (
	"testing"

	"github.com/ssargent/vitalgap/pkg/vitals"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	tb := Default()

	assert.Len(t, tb.Beds, 6)
	assert.Len(t, tb.Params, 20)
	assert.Equal(t, 10.0, tb.Scale("TSKIN"))
	assert.Equal(t, 1.0, tb.Scale("HR"))
	assert.NoError(t, tb.Validate())
}

func TestNewCopiesInputs(t *testing.T) {
	beds := []string{"A", "B"}
	scales := map[string]float64{"x": 10}
	tb, err := New(beds, []string{"x"}, scales)
	require.NoError(t, err)

	beds[0] = "Z"
	scales["x"] = 100
	assert.Equal(t, []string{"A", "B"}, tb.Beds)
	assert.Equal(t, 10.0, tb.Scale("x"))
}

func TestValidate(t *testing.T) {
	tooMany := make([]string, MaxEntries+1)
	for i := range tooMany {
		tooMany[i] = string(rune('a'+i%26)) + string(rune('0'+i/26%10)) + string(rune('A'+i/260))
	}

	testCases := []struct {
		name   string
		tables Tables
	}{
		{"no beds", Tables{Params: []string{"HR"}}},
		{"no params", Tables{Beds: []string{"BED01"}}},
		{"duplicate bed", Tables{Beds: []string{"B", "B"}, Params: []string{"HR"}}},
		{"empty param", Tables{Beds: []string{"B"}, Params: []string{""}}},
		{"too many beds", Tables{Beds: tooMany, Params: []string{"HR"}}},
		{"scale for unknown param", Tables{Beds: []string{"B"}, Params: []string{"HR"}, Scales: map[string]float64{"X": 10}}},
		{"zero scale", Tables{Beds: []string{"B"}, Params: []string{"HR"}, Scales: map[string]float64{"HR": 0}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.tables.Validate())
		})
	}
}

func TestNewSnapshotShape(t *testing.T) {
	tb := Default()
	s := tb.NewSnapshot(1234)

	assert.Equal(t, int64(1234), s.TimestampMs)
	assert.Nil(t, s.PacketID)
	require.Len(t, s.Beds, len(tb.Beds))
	for _, bed := range tb.Beds {
		b, ok := s.Beds[bed]
		require.True(t, ok, bed)
		assert.False(t, b.Present)
		assert.Len(t, b.Vitals, len(tb.Params))
	}
}

func TestSnapshotFromPayload(t *testing.T) {
	tb := Default()
	payload := vitals.BedsPayload{
		"BED01": {Vitals: map[string]vitals.VitalPayload{
			"HR":    {Value: 72.0, Unit: "bpm"},
			"TSKIN": {Value: "36.8"},
			"BOGUS": {Value: 1.0},
			"SpO2":  {Value: nil},
		}},
		"BED99": {Vitals: map[string]vitals.VitalPayload{"HR": {Value: 80.0}}},
		"BED02": {Vitals: map[string]vitals.VitalPayload{"HR": {Value: "n/a"}}},
	}

	s := tb.SnapshotFromPayload(5000, vitals.Int64(7), payload)

	require.NotNil(t, s.PacketID)
	assert.Equal(t, int64(7), *s.PacketID)
	assert.Len(t, s.Beds, len(tb.Beds))
	assert.NotContains(t, s.Beds, "BED99")

	hr, ok := s.Value("BED01", "HR")
	assert.True(t, ok)
	assert.Equal(t, 72.0, hr)

	temp, ok := s.Value("BED01", "TSKIN")
	assert.True(t, ok)
	assert.Equal(t, 36.8, temp)

	_, ok = s.Value("BED01", "SpO2")
	assert.False(t, ok)
	assert.False(t, s.Beds["BED02"].Present)
}
