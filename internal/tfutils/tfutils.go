// Package tfutils maps timeframe names to durations and venue intervals.
package tfutils

import (
	"fmt"
	"time"
)

type timeframe struct {
	name     string
	duration time.Duration
	// wallex resolution, minutes or "D"
	wallex string
}

var timeframes = []timeframe{
	{"1m", time.Minute, "1"},
	{"3m", 3 * time.Minute, "3"},
	{"5m", 5 * time.Minute, "5"},
	{"15m", 15 * time.Minute, "15"},
	{"30m", 30 * time.Minute, "30"},
	{"1h", time.Hour, "60"},
	{"2h", 2 * time.Hour, "120"},
	{"4h", 4 * time.Hour, "240"},
	{"1d", 24 * time.Hour, "D"},
}

func lookup(name string) (timeframe, bool) {
	for _, tf := range timeframes {
		if tf.name == name {
			return tf, true
		}
	}
	return timeframe{}, false
}

// ParseTimeframe parses timeframe string (e.g., "5m", "1h") to time.Duration
func ParseTimeframe(name string) (time.Duration, error) {
	tf, ok := lookup(name)
	if !ok {
		return 0, fmt.Errorf("unsupported timeframe %q", name)
	}
	return tf.duration, nil
}

// GetTimeframeDuration returns the duration for a given timeframe, or 0.
func GetTimeframeDuration(name string) time.Duration {
	tf, _ := lookup(name)
	return tf.duration
}

func TimeframeMinutes(name string) int {
	return int(GetTimeframeDuration(name) / time.Minute)
}

// GetSupportedTimeframes returns all supported timeframes
func GetSupportedTimeframes() []string {
	out := make([]string, len(timeframes))
	for i, tf := range timeframes {
		out[i] = tf.name
	}
	return out
}

// IsValidTimeframe checks if a timeframe is supported
func IsValidTimeframe(name string) bool {
	_, ok := lookup(name)
	return ok
}

// BinanceInterval returns the kline interval used by Binance REST and
// stream endpoints. Binance spells every supported timeframe the same way.
func BinanceInterval(name string) (string, error) {
	if !IsValidTimeframe(name) {
		return "", fmt.Errorf("unsupported timeframe %q", name)
	}
	return name, nil
}

// WallexResolution returns the resolution parameter of the Wallex candles
// endpoint.
func WallexResolution(name string) (string, error) {
	tf, ok := lookup(name)
	if !ok {
		return "", fmt.Errorf("unsupported timeframe %q", name)
	}
	return tf.wallex, nil
}

// Align truncates t to the start of its timeframe bucket in UTC.
func Align(t time.Time, name string) time.Time {
	d := GetTimeframeDuration(name)
	if d == 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(d)
}
