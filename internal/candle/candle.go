// Package candle
package candle

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/amirphl/ha-trader/internal/tfutils"
)

var (
	ErrInvalidCandle   = errors.New("invalid candle")
	ErrEmptySeries     = errors.New("candle series is empty")
	ErrIndexOutOfRange = errors.New("candle index out of range")
)

type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Source    string    `json:"source"`
}

// DataError reports a candle that cannot enter a series.
type DataError struct {
	Timestamp time.Time
	Reason    string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("invalid candle at %s: %s", e.Timestamp.UTC().Format(time.RFC3339), e.Reason)
}

func (e *DataError) Unwrap() error { return ErrInvalidCandle }

func newDataError(ts time.Time, reason string) *DataError {
	return &DataError{Timestamp: ts, Reason: reason}
}

// MillisToTime converts an exchange open time in unix milliseconds.
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// IsComplete checks if the candle period has already ended.
func (c *Candle) IsComplete(now time.Time) bool {
	dur := tfutils.GetTimeframeDuration(c.Timeframe)
	if dur == 0 {
		return true
	}
	return !now.Before(c.Timestamp.Add(dur))
}

// Validate checks if a candle has valid data. Open and close are not
// required to lie inside [low, high]; some feeds report them outside.
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return newDataError(c.Timestamp, "timestamp is zero")
	}
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return newDataError(c.Timestamp, "non-finite value")
		}
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return newDataError(c.Timestamp, "prices must be positive")
	}
	if c.High < c.Low {
		return newDataError(c.Timestamp, "high cannot be less than low")
	}
	if c.Volume < 0 {
		return newDataError(c.Timestamp, "volume cannot be negative")
	}
	return nil
}

// Update is a live bar tagged with whether its period has closed.
type Update struct {
	Candle Candle
	Closed bool
}
