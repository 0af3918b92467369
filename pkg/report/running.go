package report

import (
	"github.com/ssargent/vitalgap/pkg/match"
)

// Running keeps per-method counts as results stream in.
type Running struct {
	counts map[match.Method]int
	total  int
}

// NewRunning creates an empty accumulator.
func NewRunning() *Running {
	return &Running{counts: make(map[match.Method]int, len(match.Methods))}
}

// Add counts r and returns the counts so far.
func (a *Running) Add(r match.Result) RunningCounts {
	a.counts[r.Method]++
	a.total++
	return a.Counts()
}

// Counts returns a copy of the current counts.
func (a *Running) Counts() RunningCounts {
	c := RunningCounts{Total: a.total, Methods: make(map[match.Method]int, len(match.Methods))}
	for _, m := range match.Methods {
		c.Methods[m] = a.counts[m]
	}
	return c
}

// RunningCounts is the state of a Running accumulator at one point.
type RunningCounts struct {
	Total   int                  `json:"total"`
	Methods map[match.Method]int `json:"methods"`
}

// Line is one row of the validation output: the match result plus the
// running counts up to and including it.
type Line struct {
	match.Result
	Running RunningCounts `json:"running"`
}

// Lines pairs each result with its running counts.
func Lines(results []match.Result) []Line {
	acc := NewRunning()
	out := make([]Line, len(results))
	for i, r := range results {
		out[i] = Line{Result: r, Running: acc.Add(r)}
	}
	return out
}
