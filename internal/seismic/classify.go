package seismic

import "sort"

// DefaultLpgmBreakpoints are the SVA thresholds (cm/s) separating long-period
// ground motion classes 0 through 4. The values are a deployment constant:
// operators override them through the tuning config when a different
// classification scheme is required.
var DefaultLpgmBreakpoints = []float64{5, 15, 50, 100}

// LpgmClassifier maps an SVA value to an ordinal LPGM class using a monotone
// non-decreasing breakpoint table. An SVA below the first breakpoint is
// class 0; each breakpoint is an inclusive lower bound for the next class.
type LpgmClassifier struct {
	breakpoints []float64
}

// NewLpgmClassifier returns a classifier over the given breakpoint table.
// Passing nil or an empty table selects DefaultLpgmBreakpoints.
func NewLpgmClassifier(breakpoints []float64) *LpgmClassifier {
	if len(breakpoints) == 0 {
		breakpoints = DefaultLpgmBreakpoints
	}
	bp := make([]float64, len(breakpoints))
	copy(bp, breakpoints)
	sort.Float64s(bp)
	return &LpgmClassifier{breakpoints: bp}
}

// Classify returns the LPGM class for the given SVA.
func (c *LpgmClassifier) Classify(sva float64) int {
	class := 0
	for _, bp := range c.breakpoints {
		if sva < bp {
			break
		}
		class++
	}
	return class
}

// MaxClass returns the largest class the classifier can produce.
func (c *LpgmClassifier) MaxClass() int {
	return len(c.breakpoints)
}
