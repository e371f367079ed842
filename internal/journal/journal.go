// Package journal records every replay tick and derives performance stats.
package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/amirphl/ha-trader/internal/candle"
	"github.com/amirphl/ha-trader/internal/market"
	"github.com/amirphl/ha-trader/internal/strategy"
)

// Event is the immutable record of one tick.
type Event struct {
	Seq           int             `json:"seq"`
	Timestamp     time.Time       `json:"timestamp"`
	Strategy      string          `json:"strategy"`
	Signal        strategy.Signal `json:"signal"`
	Market        market.Market   `json:"market"`
	Candle        candle.Candle   `json:"candle"`
	PartialWindow bool            `json:"partial_window"`
	// Forming marks a tick evaluated on a bar that has not closed yet.
	Forming       bool            `json:"forming,omitempty"`
	Rejection     string          `json:"rejection,omitempty"`
}

// Sink receives events after they are committed to the journal.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// Journal is an append-only event log plus the market it started from.
type Journal struct {
	Symbol    string
	Timeframe string
	Initial   market.Market

	events []Event
}

func New(symbol, timeframe string, initial market.Market) *Journal {
	return &Journal{Symbol: symbol, Timeframe: timeframe, Initial: initial}
}

// Append numbers e and adds it to the log.
func (j *Journal) Append(e Event) Event {
	e.Seq = len(j.events)
	j.events = append(j.events, e)
	return e
}

func (j *Journal) Len() int { return len(j.events) }

// Events returns a copy of the log.
func (j *Journal) Events() []Event {
	out := make([]Event, len(j.events))
	copy(out, j.events)
	return out
}

func (j *Journal) Last() (Event, bool) {
	if len(j.events) == 0 {
		return Event{}, false
	}
	return j.events[len(j.events)-1], true
}

func (j *Journal) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Symbol    string        `json:"symbol"`
		Timeframe string        `json:"timeframe"`
		Initial   market.Market `json:"initial"`
		Events    []Event       `json:"events"`
	}{j.Symbol, j.Timeframe, j.Initial, j.events})
}
