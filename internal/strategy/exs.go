package strategy

import "github.com/amirphl/ha-trader/internal/candle"

const ExSName = "exs"

// ExS compares the last raw close with the last Heikin-Ashi candle of the
// window: a close above the smoothed close goes long, a close below the
// smoothed low goes short.
type ExS struct{}

func (ExS) Name() string { return ExSName }

// WarmupPeriod is a few bars so the synthetic first open fades out.
func (ExS) WarmupPeriod() int { return 10 }

func (ExS) Evaluate(window []candle.Candle) Signal {
	if len(window) == 0 {
		return Sleep
	}
	ha := candle.HeikinAshi(window)
	raw := window[len(window)-1]
	last := ha[len(ha)-1]

	switch {
	case raw.Close > last.Close:
		return Long
	case raw.Close < last.Low:
		return Short
	default:
		return Sleep
	}
}
