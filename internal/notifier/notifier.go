// Package notifier forwards journal events to operators and other services.
package notifier

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/ha-trader/internal/journal"
)

// Notifier interface for sending notifications (e.g., Telegram).
type Notifier interface {
	Send(ctx context.Context, msg string) error
}

// SendWithRetry tries up to attempts times, waiting delay between tries.
func SendWithRetry(ctx context.Context, n Notifier, msg string, attempts int, delay time.Duration, logger *log.Logger) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = n.Send(ctx, msg); err == nil {
			return nil
		}
		logger.Printf("Notifier | Send attempt %d/%d failed: %v", i, attempts, err)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("notification failed after %d attempts: %w", attempts, err)
}

// TradeAlerts is a journal sink that notifies when an order executes or is
// rejected. Ticks that change nothing stay silent.
type TradeAlerts struct {
	notifier   Notifier
	name       string
	retries    int
	delay      time.Duration
	logger     *log.Logger
	lastTrades int
}

func NewTradeAlerts(n Notifier, name string, retries int, delay time.Duration, logger *log.Logger) *TradeAlerts {
	if logger == nil {
		logger = log.Default()
	}
	return &TradeAlerts{notifier: n, name: name, retries: retries, delay: delay, logger: logger}
}

func (a *TradeAlerts) Record(ctx context.Context, e journal.Event) error {
	var msg string
	switch {
	case e.Rejection != "":
		msg = fmt.Sprintf("[%s] %s %s rejected at %.8g: %s", a.name, e.Candle.Symbol, e.Signal, e.Candle.Close, e.Rejection)
	case e.Market.Trades > a.lastTrades:
		msg = fmt.Sprintf("[%s] %s %s at %.8g\nA=%.8g B=%.8g value=%.8g fees=%.8g",
			a.name, e.Candle.Symbol, e.Signal, e.Candle.Close,
			e.Market.BalanceA, e.Market.BalanceB, e.Market.TotalInB(), e.Market.FeesPaid)
	}
	a.lastTrades = e.Market.Trades
	if msg == "" {
		return nil
	}
	return SendWithRetry(ctx, a.notifier, msg, a.retries, a.delay, a.logger)
}
