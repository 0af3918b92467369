package report

import (
	"fmt"
	"math"

	"github.com/ssargent/vitalgap/pkg/match"
	"github.com/ssargent/vitalgap/pkg/vitals"
)

// FieldStatus classifies one bed/parameter comparison.
type FieldStatus string

const (
	FieldOK           FieldStatus = "ok"
	FieldMissing      FieldStatus = "missing"
	FieldInvalid      FieldStatus = "invalid"
	FieldTruthMissing FieldStatus = "truth_missing"
)

// FieldRules tunes per-parameter comparison.
type FieldRules struct {
	// Epsilons is the absolute tolerance for a within-tolerance match.
	Epsilons map[string]float64 `yaml:"field_epsilons" json:"field_epsilons"`
	// IntegerFields compare after rounding to the nearest integer.
	IntegerFields []string `yaml:"integer_fields" json:"integer_fields"`
	// Ranges are inclusive [min, max] plausibility bounds for decoded values.
	Ranges map[string][]float64 `yaml:"vital_ranges" json:"vital_ranges"`
}

// DefaultFieldRules returns the rules for the default twenty-parameter layout.
func DefaultFieldRules() FieldRules {
	return FieldRules{
		Epsilons: map[string]float64{
			"HR": 0, "SpO2": 0, "RR": 0, "TSKIN": 0.1, "TRECT": 0.1,
			"ART_S": 1, "ART_D": 1, "ART_M": 1, "CVP_M": 1, "RAP_M": 1,
			"EtCO2": 1, "Ppeak": 1, "PEEP": 1, "VTe": 1, "VTi": 1,
			"O2conc": 1, "NO": 1, "rRESP": 1,
		},
		IntegerFields: []string{"HR", "SpO2", "RR", "BSR1", "BSR2"},
		Ranges: map[string][]float64{
			"HR": {0, 300}, "SpO2": {0, 100}, "RR": {0, 120}, "TSKIN": {20, 45}, "TRECT": {20, 45},
			"ART_S": {0, 300}, "ART_D": {0, 200}, "ART_M": {0, 250}, "CVP_M": {-20, 80}, "RAP_M": {-20, 80},
			"EtCO2": {0, 150}, "Ppeak": {0, 100}, "PEEP": {0, 50}, "VTe": {0, 3000}, "VTi": {0, 3000},
			"O2conc": {0, 100}, "NO": {0, 200}, "BSR1": {0, 100}, "BSR2": {0, 100}, "rRESP": {0, 120},
		},
	}
}

// Validate checks that every range has exactly two ordered bounds and every
// epsilon is a non-negative number.
func (r FieldRules) Validate() error {
	for field, bounds := range r.Ranges {
		if len(bounds) != 2 {
			return fmt.Errorf("vital range for %s must have 2 bounds, got %d", field, len(bounds))
		}
		if bounds[0] > bounds[1] {
			return fmt.Errorf("vital range for %s has min %v > max %v", field, bounds[0], bounds[1])
		}
	}
	for field, eps := range r.Epsilons {
		if eps < 0 || math.IsNaN(eps) {
			return fmt.Errorf("epsilon for %s must be non-negative, got %v", field, eps)
		}
	}
	return nil
}

// FieldComparison is one bed/parameter evaluated against truth.
type FieldComparison struct {
	Bed       string      `json:"bed"`
	Field     string      `json:"field"`
	Status    FieldStatus `json:"status"`
	Decoded   *float64    `json:"decoded_value"`
	Truth     *float64    `json:"truth_value"`
	AbsError  *float64    `json:"abs_error"`
	Match     bool        `json:"match"`
	WithinTol bool        `json:"within_tol_match"`
}

// FieldStats aggregates one parameter across beds and records.
type FieldStats struct {
	Count         int      `json:"count"`
	Evaluated     int      `json:"evaluated"`
	MatchRate     *float64 `json:"match_rate"`
	WithinTolRate *float64 `json:"within_tol_match_rate"`
	MAE           *float64 `json:"mae"`
}

// FieldReport is value-level accuracy over a set of match results.
type FieldReport struct {
	TotalExpected      int                   `json:"total_expected"`
	Evaluated          int                   `json:"evaluated"`
	Matched            int                   `json:"matched"`
	WithinTolMatched   int                   `json:"within_tol_matched"`
	Missing            int                   `json:"missing"`
	Invalid            int                   `json:"invalid"`
	MatchRate          *float64              `json:"match_rate"`
	MatchRateOnSuccess *float64              `json:"match_rate_on_success"`
	WithinTolRate      *float64              `json:"within_tol_match_rate"`
	MissingRate        *float64              `json:"missing_rate"`
	InvalidRate        *float64              `json:"invalid_rate"`
	MAE                *float64              `json:"mae"`
	MAEOnSuccess       *float64              `json:"mae_on_success"`
	MedianAbsError     *float64              `json:"median_abs_error"`
	PerField           map[string]FieldStats `json:"per_field"`
}

// FieldEvaluator compares decoded readings with truth readings.
type FieldEvaluator struct {
	beds     []string
	params   []string
	rules    FieldRules
	integers map[string]bool
}

// NewFieldEvaluator creates an evaluator over the given layout.
func NewFieldEvaluator(beds, params []string, rules FieldRules) (*FieldEvaluator, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	integers := make(map[string]bool, len(rules.IntegerFields))
	for _, f := range rules.IntegerFields {
		integers[f] = true
	}
	return &FieldEvaluator{beds: beds, params: params, rules: rules, integers: integers}, nil
}

// Compare evaluates every bed/parameter of one result.
func (e *FieldEvaluator) Compare(r match.Result) []FieldComparison {
	out := make([]FieldComparison, 0, len(e.beds)*len(e.params))
	for _, bed := range e.beds {
		for _, field := range e.params {
			out = append(out, e.compareOne(r, bed, field))
		}
	}
	return out
}

func (e *FieldEvaluator) compareOne(r match.Result, bed, field string) FieldComparison {
	c := FieldComparison{Bed: bed, Field: field}

	dec, decStatus := vitals.ParseNumber(r.Decoded.Beds.Reading(bed, field))
	if decStatus == vitals.NumberOK {
		c.Decoded = ptr(dec)
	}

	if r.Truth == nil {
		c.Status = FieldTruthMissing
		return c
	}
	truth, truthStatus := vitals.ParseNumber(r.Truth.Beds.Reading(bed, field))
	if truthStatus == vitals.NumberOK {
		c.Truth = ptr(truth)
	}

	switch {
	case truthStatus != vitals.NumberOK:
		c.Status = FieldStatus(truthStatus)
		return c
	case decStatus != vitals.NumberOK:
		c.Status = FieldStatus(decStatus)
		return c
	}

	if bounds, ok := e.rules.Ranges[field]; ok && len(bounds) == 2 {
		if dec < bounds[0] || dec > bounds[1] {
			c.Status = FieldInvalid
			return c
		}
	}

	c.Status = FieldOK
	if e.integers[field] {
		c.Match = math.RoundToEven(dec) == math.RoundToEven(truth)
	} else {
		c.Match = dec == truth
	}
	absErr := math.Abs(dec - truth)
	c.AbsError = ptr(absErr)
	c.WithinTol = absErr <= e.rules.Epsilons[field]
	return c
}

// Evaluate aggregates Compare over results.
func (e *FieldEvaluator) Evaluate(results []match.Result) FieldReport {
	type acc struct {
		count, evaluated, matched, withinTol int
		absErrors                            []float64
	}
	perField := make(map[string]*acc, len(e.params))
	for _, f := range e.params {
		perField[f] = &acc{}
	}

	var rep FieldReport
	var absErrors, absErrorsOnSuccess []float64
	var evaluatedOnSuccess, matchedOnSuccess int

	for _, r := range results {
		success := r.Decoded.Succeeded()
		for _, c := range e.Compare(r) {
			rep.TotalExpected++
			f := perField[c.Field]
			f.count++

			switch c.Status {
			case FieldMissing, FieldTruthMissing:
				rep.Missing++
				continue
			case FieldInvalid:
				rep.Invalid++
				continue
			}

			rep.Evaluated++
			f.evaluated++
			absErrors = append(absErrors, *c.AbsError)
			f.absErrors = append(f.absErrors, *c.AbsError)
			if success {
				evaluatedOnSuccess++
				absErrorsOnSuccess = append(absErrorsOnSuccess, *c.AbsError)
			}
			if c.Match {
				rep.Matched++
				f.matched++
				if success {
					matchedOnSuccess++
				}
			}
			if c.WithinTol {
				rep.WithinTolMatched++
				f.withinTol++
			}
		}
	}

	rep.MatchRate = ratio(rep.Matched, rep.Evaluated)
	rep.MatchRateOnSuccess = ratio(matchedOnSuccess, evaluatedOnSuccess)
	rep.WithinTolRate = ratio(rep.WithinTolMatched, rep.Evaluated)
	rep.MissingRate = ratio(rep.Missing, rep.TotalExpected)
	rep.InvalidRate = ratio(rep.Invalid, rep.TotalExpected)
	rep.MAE = mean(absErrors)
	rep.MAEOnSuccess = mean(absErrorsOnSuccess)
	rep.MedianAbsError = median(absErrors)

	rep.PerField = make(map[string]FieldStats, len(perField))
	for name, f := range perField {
		rep.PerField[name] = FieldStats{
			Count:         f.count,
			Evaluated:     f.evaluated,
			MatchRate:     ratio(f.matched, f.evaluated),
			WithinTolRate: ratio(f.withinTol, f.evaluated),
			MAE:           mean(f.absErrors),
		}
	}
	return rep
}
