package strategy

import (
	"github.com/amirphl/ha-trader/internal/candle"
	"github.com/amirphl/ha-trader/internal/indicator"
)

const HACrossName = "ha-cross"

// HACross trades crossovers between a moving average of Heikin-Ashi closes
// and the same average delayed by Lag bars. After a trade, Cooldown bars must
// pass before the next one.
type HACross struct {
	Period   int
	Lag      int
	Cooldown int
}

func NewHACross(period, lag, cooldown int) HACross {
	return HACross{Period: period, Lag: lag, Cooldown: cooldown}
}

func (s HACross) Name() string { return HACrossName }

// WarmupPeriod covers the first comparable pair of bars plus one cooldown.
func (s HACross) WarmupPeriod() int { return s.Period + s.Lag + 1 + s.Cooldown }

// Evaluate replays the crossover rule over the whole window and returns the
// signal of the last bar, so the cooldown is derived from the window alone.
func (s HACross) Evaluate(window []candle.Candle) Signal {
	if len(window) < 2 {
		return Sleep
	}
	closes := candle.Closes(candle.HeikinAshi(window))
	fast, err := indicator.MovingAverage(closes, s.Period)
	if err != nil {
		return Sleep
	}
	slow := indicator.Shift(fast, s.Lag)

	// fast is zero before Period-1 and slow before Period-1+Lag; a pair
	// (i-1, i) is only comparable once both are real averages.
	signal := Sleep
	lastTrade := -1 - s.Cooldown
	for i := s.Period + s.Lag; i < len(fast); i++ {
		signal = Sleep
		if i-lastTrade <= s.Cooldown {
			continue
		}
		switch {
		case indicator.Crossover(fast[i-1:i+1], slow[i-1:i+1]):
			signal = Long
			lastTrade = i
		case indicator.Crossover(slow[i-1:i+1], fast[i-1:i+1]):
			signal = Short
			lastTrade = i
		}
	}
	return signal
}
