package seismic

import "math"

// HighPassFilter is a second-order recursive (biquad) high-pass filter used
// to remove DC bias and slow drift from calibrated acceleration before
// integration. Coefficients follow the RBJ audio-EQ cookbook high-pass with
// Q = 1/sqrt(2) (Butterworth response).
//
// The filter is single-owner state: it must only be updated from one
// goroutine, in strict sample arrival order.
type HighPassFilter struct {
	b0, b1, b2 float64
	a1, a2     float64

	// prior inputs and outputs (direct form I)
	x1, x2 float64
	y1, y2 float64
}

// NewHighPassFilter builds a high-pass biquad for the given cutoff frequency
// and sample rate, both in Hz.
func NewHighPassFilter(cutoffHz, sampleRateHz float64) *HighPassFilter {
	const q = math.Sqrt2 / 2

	w0 := 2 * math.Pi * cutoffHz / sampleRateHz
	cosW0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)

	a0 := 1 + alpha
	f := &HighPassFilter{
		b0: (1 + cosW0) / 2 / a0,
		b1: -(1 + cosW0) / a0,
		b2: (1 + cosW0) / 2 / a0,
		a1: -2 * cosW0 / a0,
		a2: (1 - alpha) / a0,
	}
	return f
}

// Apply runs one sample through the filter and returns the filtered value.
func (f *HighPassFilter) Apply(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2

	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// Reset clears the filter memory. Called only at pipeline (re)start; resetting
// mid-stream would discontinue the recursion and corrupt the output.
func (f *HighPassFilter) Reset() {
	f.x1, f.x2 = 0, 0
	f.y1, f.y2 = 0, 0
}
