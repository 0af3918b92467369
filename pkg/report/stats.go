package report

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Distribution summarizes a sample. Fields are nil when the sample is empty.
type Distribution struct {
	Count  int      `json:"count"`
	Mean   *float64 `json:"mean"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Median *float64 `json:"median"`
	P90    *float64 `json:"p90"`
}

// Describe computes a Distribution without modifying values.
func Describe(values []float64) Distribution {
	d := Distribution{Count: len(values)}
	if len(values) == 0 {
		return d
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	d.Mean = ptr(stat.Mean(sorted, nil))
	d.Min = ptr(floats.Min(sorted))
	d.Max = ptr(floats.Max(sorted))
	d.Median = ptr(percentile(sorted, 50))
	d.P90 = ptr(percentile(sorted, 90))
	return d
}

// percentile interpolates linearly between closest ranks, rank = (n-1)*p/100.
// sorted must be ascending and non-empty.
func percentile(sorted []float64, p float64) float64 {
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := float64(len(sorted)-1) * p / 100
	lo, hi := int(math.Floor(rank)), int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	return ptr(stat.Mean(values, nil))
}

func median(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return ptr(percentile(sorted, 50))
}

func ratio(n, d int) *float64 {
	if d == 0 {
		return nil
	}
	return ptr(float64(n) / float64(d))
}

func ptr(v float64) *float64 {
	return &v
}
