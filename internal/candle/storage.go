package candle

import (
	"fmt"

	"github.com/amirphl/ha-trader/internal/db"
)

// ToRecords converts candles to cache rows. Timestamps are stored in UTC.
func ToRecords(candles []Candle) []db.Candle {
	out := make([]db.Candle, len(candles))
	for i, c := range candles {
		c.Timestamp = c.Timestamp.UTC()
		out[i] = db.Candle(c)
	}
	return out
}

// FromRecords restores cache rows ordered by timestamp. A row that no longer
// validates fails the whole load. When rows of several sources share a
// timestamp only the first is kept.
func FromRecords(records []db.Candle) ([]Candle, error) {
	out := make([]Candle, 0, len(records))
	for _, r := range records {
		c := Candle(r)
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("cached %s candle: %w", r.Source, err)
		}
		if n := len(out); n > 0 && c.Timestamp.Equal(out[n-1].Timestamp) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
