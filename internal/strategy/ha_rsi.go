package strategy

import (
	"math"

	"github.com/amirphl/ha-trader/internal/candle"
	"github.com/amirphl/ha-trader/internal/indicator"
)

const HARSIName = "ha-rsi"

// HARSI buys when the RSI of Heikin-Ashi closes is oversold and sells when it
// is overbought.
type HARSI struct {
	Period     int
	Overbought float64
	Oversold   float64
}

func NewHARSI(period int, overbought, oversold float64) HARSI {
	return HARSI{Period: period, Overbought: overbought, Oversold: oversold}
}

func (s HARSI) Name() string { return HARSIName }

func (s HARSI) WarmupPeriod() int { return s.Period + 1 }

func (s HARSI) Evaluate(window []candle.Candle) Signal {
	rsi, err := indicator.CalculateRSI(candle.Closes(candle.HeikinAshi(window)), s.Period)
	if err != nil || len(rsi) == 0 {
		return Sleep
	}
	last := rsi[len(rsi)-1]
	switch {
	case math.IsNaN(last):
		return Sleep
	case last < s.Oversold:
		return Long
	case last > s.Overbought:
		return Short
	default:
		return Sleep
	}
}
