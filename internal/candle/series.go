package candle

import (
	"fmt"
	"time"
)

// Series is an ordered container of candles. Interior elements are never
// reordered or removed; only the last element may be replaced.
type Series struct {
	Symbol    string
	Timeframe string

	candles []Candle
	// forming is true while the last candle's period is still open.
	forming bool
}

func NewSeries(symbol, timeframe string) *Series {
	return &Series{Symbol: symbol, Timeframe: timeframe}
}

// Len returns the number of candles.
func (s *Series) Len() int { return len(s.candles) }

// Forming reports whether the last candle is still being updated.
func (s *Series) Forming() bool { return s.forming }

// Push appends a closed candle.
func (s *Series) Push(c Candle) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if n := len(s.candles); n > 0 && c.Timestamp.Before(s.candles[n-1].Timestamp) {
		return newDataError(c.Timestamp, fmt.Sprintf("timestamp precedes last candle at %s", s.candles[n-1].Timestamp.Format(time.RFC3339)))
	}
	s.candles = append(s.candles, c)
	s.forming = false
	return nil
}

// ReplaceLast overwrites the last candle in place.
func (s *Series) ReplaceLast(c Candle) error {
	n := len(s.candles)
	if n == 0 {
		return ErrEmptySeries
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if n > 1 && c.Timestamp.Before(s.candles[n-2].Timestamp) {
		return newDataError(c.Timestamp, "replacement precedes previous candle")
	}
	s.candles[n-1] = c
	return nil
}

// Ingest applies a live update as a single append-or-replace step.
// An update for the last candle's timestamp replaces it, a newer one is
// appended and an older one is rejected. The returned flag is true when the
// last candle was replaced.
func (s *Series) Ingest(u Update) (bool, error) {
	if err := u.Candle.Validate(); err != nil {
		return false, err
	}
	n := len(s.candles)
	if n == 0 {
		s.candles = append(s.candles, u.Candle)
		s.forming = !u.Closed
		return false, nil
	}

	last := s.candles[n-1]
	switch {
	case u.Candle.Timestamp.Before(last.Timestamp):
		return false, newDataError(u.Candle.Timestamp, "out of order update")
	case u.Candle.Timestamp.Equal(last.Timestamp):
		s.candles[n-1] = u.Candle
		s.forming = !u.Closed
		return true, nil
	default:
		s.candles = append(s.candles, u.Candle)
		s.forming = !u.Closed
		return false, nil
	}
}

// Get returns the candle at index i. Negative indices count from the end,
// so Get(-1) is the last candle.
func (s *Series) Get(i int) (Candle, error) {
	n := len(s.candles)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return Candle{}, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, n)
	}
	return s.candles[i], nil
}

// Slice returns a copy of [a, b). When a > b the candles of [b, a) are
// returned newest first.
func (s *Series) Slice(a, b int) ([]Candle, error) {
	n := len(s.candles)
	if a < 0 || b < 0 || a > n || b > n {
		return nil, fmt.Errorf("%w: [%d, %d) (len %d)", ErrIndexOutOfRange, a, b, n)
	}
	if a <= b {
		out := make([]Candle, b-a)
		copy(out, s.candles[a:b])
		return out, nil
	}
	out := make([]Candle, 0, a-b)
	for i := a - 1; i >= b; i-- {
		out = append(out, s.candles[i])
	}
	return out, nil
}

func (s *Series) First() (Candle, error) {
	if len(s.candles) == 0 {
		return Candle{}, ErrEmptySeries
	}
	return s.candles[0], nil
}

func (s *Series) Last() (Candle, error) {
	if len(s.candles) == 0 {
		return Candle{}, ErrEmptySeries
	}
	return s.candles[len(s.candles)-1], nil
}

// Tail returns a copy of the last n candles. partial is true when the
// series holds fewer than n candles and the whole series is returned.
func (s *Series) Tail(n int) (window []Candle, partial bool) {
	l := len(s.candles)
	start := l - n
	if start < 0 {
		start = 0
		partial = true
	}
	window = make([]Candle, l-start)
	copy(window, s.candles[start:])
	return window, partial
}

// Candles returns a copy of all candles.
func (s *Series) Candles() []Candle {
	out := make([]Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

func (s *Series) Timestamps() []time.Time {
	out := make([]time.Time, len(s.candles))
	for i, c := range s.candles {
		out[i] = c.Timestamp
	}
	return out
}

func (s *Series) Opens() []float64   { return project(s.candles, func(c Candle) float64 { return c.Open }) }
func (s *Series) Highs() []float64   { return project(s.candles, func(c Candle) float64 { return c.High }) }
func (s *Series) Lows() []float64    { return project(s.candles, func(c Candle) float64 { return c.Low }) }
func (s *Series) Closes() []float64  { return project(s.candles, func(c Candle) float64 { return c.Close }) }
func (s *Series) Volumes() []float64 { return project(s.candles, func(c Candle) float64 { return c.Volume }) }

// Closes projects the close prices of a candle slice.
func Closes(candles []Candle) []float64 {
	return project(candles, func(c Candle) float64 { return c.Close })
}

func project(candles []Candle, f func(Candle) float64) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = f(c)
	}
	return out
}
