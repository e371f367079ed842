package journal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/amirphl/ha-trader/internal/strategy"
)

var ErrEmptyJournal = errors.New("journal has no events")

// Stats summarises a journal.
//
// A position run starts at a non-Sleep signal and lasts until a different
// non-Sleep signal; Sleep ticks extend the open run. Rejected ticks count as
// Sleep. Gains and losses are the per-tick changes of the wallet value in B
// on ticks that follow a tick inside a run.
type Stats struct {
	Ticks      int `json:"ticks"`
	Trades     int `json:"trades"`
	Rejections int `json:"rejections"`
	Runs       int `json:"runs"`

	InitialValue float64 `json:"initial_value"`
	FinalValue   float64 `json:"final_value"`
	ChgPassive   float64 `json:"chg_passive"`
	ChgActive    float64 `json:"chg_active"`
	AvgInPos     float64 `json:"avg_in_pos"`

	CumGain float64 `json:"cum_gain"`
	CumLoss float64 `json:"cum_loss"`
	AvgGain float64 `json:"avg_gain"`
	AvgLoss float64 `json:"avg_loss"`
	CumFees float64 `json:"cum_fees"`
}

func ComputeStats(j *Journal) (Stats, error) {
	events := j.events
	if len(events) == 0 {
		return Stats{}, ErrEmptyJournal
	}
	first, last := events[0], events[len(events)-1]

	s := Stats{
		Ticks:        len(events),
		Trades:       last.Market.Trades - j.Initial.Trades,
		InitialValue: j.Initial.BalanceA*first.Candle.Close + j.Initial.BalanceB,
		FinalValue:   last.Market.TotalInB(),
		CumFees:      last.Market.FeesPaid - j.Initial.FeesPaid,
	}
	if first.Candle.Open > 0 {
		s.ChgPassive = last.Candle.Close/first.Candle.Open - 1
	}
	if s.InitialValue > 0 {
		s.ChgActive = s.FinalValue/s.InitialValue - 1
	}

	open := strategy.Sleep
	prevVal := s.InitialValue
	var runLen, totalLen, gains, losses int
	var prevIn bool
	for _, e := range events {
		value := e.Market.TotalInB()
		if prevIn {
			switch d := value - prevVal; {
			case d > 0:
				s.CumGain += d
				gains++
			case d < 0:
				s.CumLoss -= d
				losses++
			}
		}
		prevVal = value

		sig := e.Signal
		if e.Rejection != "" {
			s.Rejections++
			sig = strategy.Sleep
		}
		switch {
		case sig != strategy.Sleep && sig != open:
			if open != strategy.Sleep {
				s.Runs++
				totalLen += runLen
			}
			open, runLen = sig, 1
		case open != strategy.Sleep:
			runLen++
		}
		prevIn = open != strategy.Sleep
	}
	if open != strategy.Sleep {
		s.Runs++
		totalLen += runLen
	}

	if s.Runs > 0 {
		s.AvgInPos = float64(totalLen) / float64(s.Runs)
	}
	if gains > 0 {
		s.AvgGain = s.CumGain / float64(gains)
	}
	if losses > 0 {
		s.AvgLoss = s.CumLoss / float64(losses)
	}
	return s, nil
}

func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ticks=%d trades=%d rejections=%d runs=%d\n", s.Ticks, s.Trades, s.Rejections, s.Runs)
	fmt.Fprintf(&b, "value %.4f -> %.4f, chg_active=%.2f%% chg_passive=%.2f%%\n",
		s.InitialValue, s.FinalValue, s.ChgActive*100, s.ChgPassive*100)
	fmt.Fprintf(&b, "avg_in_pos=%.2f cum_gain=%.4f cum_loss=%.4f avg_gain=%.4f avg_loss=%.4f cum_fees=%.4f",
		s.AvgInPos, s.CumGain, s.CumLoss, s.AvgGain, s.AvgLoss, s.CumFees)
	return b.String()
}
