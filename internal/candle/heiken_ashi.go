// Package candle
package candle

// HeikinAshi generates Heikin-Ashi candles from raw candles sorted by
// timestamp ascending. Each open depends on the previous smoothed candle,
// so the result is built as a strict left-to-right fold. Highs and lows are
// the raw extremes.
func HeikinAshi(rawCandles []Candle) []Candle {
	if len(rawCandles) == 0 {
		return nil
	}

	haCandles := make([]Candle, len(rawCandles))
	var prevHaOpen, prevHaClose float64

	for i, c := range rawCandles {
		ha := c // copy base fields
		ha.Close = (c.Open + c.High + c.Low + c.Close) / 4
		if i == 0 {
			ha.Open = (c.Open + c.Close) / 2
		} else {
			ha.Open = (prevHaOpen + prevHaClose) / 2
		}
		ha.Source = "heikin_ashi"

		haCandles[i] = ha
		prevHaOpen = ha.Open
		prevHaClose = ha.Close
	}
	return haCandles
}
