// Package db
package db

import (
	"context"
	"errors"
	"time"
)

// Candle is the persisted form of a price bar.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Symbol    string
	Timeframe string
	Source    string
}

func (c Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return errors.New("candle timestamp is zero")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return errors.New("candle prices must be positive")
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume cannot be negative")
	}
	if c.Symbol == "" {
		return errors.New("candle symbol cannot be empty")
	}
	if c.Timeframe == "" {
		return errors.New("candle timeframe cannot be empty")
	}
	return nil
}

// Storage caches historical candles so repeated backtests skip the network.
type Storage interface {
	SaveCandles(ctx context.Context, candles []Candle) error
	// GetCandles returns candles in [start, end) ordered by timestamp.
	// An empty source matches any source.
	GetCandles(ctx context.Context, symbol, timeframe, source string, start, end time.Time) ([]Candle, error)
	// GetLatestCandle returns the newest candle of any source, or nil.
	GetLatestCandle(ctx context.Context, symbol, timeframe string) (*Candle, error)
	// GetCandleCount counts candles of any source in [start, end).
	GetCandleCount(ctx context.Context, symbol, timeframe string, start, end time.Time) (int, error)
	Close() error
}
