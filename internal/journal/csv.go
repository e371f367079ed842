package journal

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

var csvHeader = []string{
	"seq", "timestamp", "strategy", "signal",
	"open", "high", "low", "close", "volume",
	"ratio", "balance_a", "balance_b", "total_b", "fees_paid", "trades",
	"partial_window", "rejection",
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// WriteCSV writes one row per event.
func WriteCSV(w io.Writer, events []Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range events {
		row := []string{
			strconv.Itoa(e.Seq),
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Strategy,
			e.Signal.String(),
			formatFloat(e.Candle.Open),
			formatFloat(e.Candle.High),
			formatFloat(e.Candle.Low),
			formatFloat(e.Candle.Close),
			formatFloat(e.Candle.Volume),
			formatFloat(e.Market.Ratio),
			formatFloat(e.Market.BalanceA),
			formatFloat(e.Market.BalanceB),
			formatFloat(e.Market.TotalInB()),
			formatFloat(e.Market.FeesPaid),
			strconv.Itoa(e.Market.Trades),
			strconv.FormatBool(e.PartialWindow),
			e.Rejection,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the journal to filename.
func SaveCSV(filename string, j *Journal) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create %s: %w", filename, err)
	}
	if err := WriteCSV(f, j.events); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return f.Close()
}
