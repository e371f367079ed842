package indicator

import (
	"errors"
	"fmt"
)

var ErrInvalidPeriod = errors.New("indicator period must be positive")

// MovingAverage returns the simple moving average of values over window.
// The result has the input's length; the leading window-1 entries are 0.
func MovingAverage(values []float64, window int) ([]float64, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPeriod, window)
	}
	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out, nil
}

// Shift moves values k positions later, filling the first k entries with 0.
// A negative k moves them earlier and zero-fills the tail instead.
func Shift(values []float64, k int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		if j := i - k; j >= 0 && j < len(values) {
			out[i] = values[j]
		}
	}
	return out
}

// Crossover reports whether a crossed above b on the last step: a is above b
// at the last element and below it at the one before. The sequences are
// aligned on their last elements and may differ in length.
func Crossover(a, b []float64) bool {
	if len(a) < 2 || len(b) < 2 {
		return false
	}
	return a[len(a)-1] > b[len(b)-1] && a[len(a)-2] < b[len(b)-2]
}
