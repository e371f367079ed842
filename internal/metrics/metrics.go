// Package metrics exposes session counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amirphl/ha-trader/internal/journal"
)

// Metrics holds all Prometheus metrics of a trading session. It records
// every journal event it is handed as a sink.
type Metrics struct {
	TicksTotal      prometheus.Counter
	RejectionsTotal prometheus.Counter
	SkippedCandles  prometheus.Counter
	StreamErrors    prometheus.Counter
	SignalsTotal    *prometheus.CounterVec
	Trades          prometheus.Gauge
	LastPrice       prometheus.Gauge
	BalanceA        prometheus.Gauge
	BalanceB        prometheus.Gauge
	PortfolioValue  prometheus.Gauge
	FeesPaid        prometheus.Gauge
	StreamState     prometheus.Gauge
	StreamHealthy   prometheus.Gauge
	TickLag         prometheus.Gauge

	registry *prometheus.Registry
}

// New registers all metrics on a fresh registry labelled with the session's
// symbol and timeframe.
func New(symbol, timeframe string) *Metrics {
	labels := prometheus.Labels{"symbol": symbol, "timeframe": timeframe}
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "ha_trader_ticks_total",
			Help:        "Ticks evaluated by the session",
			ConstLabels: labels,
		}),
		RejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "ha_trader_rejections_total",
			Help:        "Orders rejected by the simulated market",
			ConstLabels: labels,
		}),
		SkippedCandles: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "ha_trader_skipped_candles_total",
			Help:        "Invalid candles dropped before a tick",
			ConstLabels: labels,
		}),
		StreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "ha_trader_stream_errors_total",
			Help:        "Transient errors reported by the live stream",
			ConstLabels: labels,
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ha_trader_signals_total",
			Help:        "Signals emitted by the strategy",
			ConstLabels: labels,
		}, []string{"signal"}),
		Trades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ha_trader_trades",
			Help:        "Orders executed so far",
			ConstLabels: labels,
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ha_trader_last_price",
			Help:        "Close of the last evaluated candle",
			ConstLabels: labels,
		}),
		BalanceA: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ha_trader_balance_a",
			Help:        "Base asset balance",
			ConstLabels: labels,
		}),
		BalanceB: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ha_trader_balance_b",
			Help:        "Quote asset balance",
			ConstLabels: labels,
		}),
		PortfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ha_trader_portfolio_value",
			Help:        "Wallet value in the quote asset",
			ConstLabels: labels,
		}),
		FeesPaid: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ha_trader_fees_paid",
			Help:        "Cumulative fees in the quote asset",
			ConstLabels: labels,
		}),
		StreamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ha_trader_stream_state",
			Help:        "Live stream connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=closed)",
			ConstLabels: labels,
		}),
		StreamHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ha_trader_stream_healthy",
			Help:        "1 while the live stream reports no connection error or missed pong",
			ConstLabels: labels,
		}),
		TickLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ha_trader_tick_lag_seconds",
			Help:        "Lag between the candle open time and its evaluation",
			ConstLabels: labels,
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.TicksTotal,
		m.RejectionsTotal,
		m.SkippedCandles,
		m.StreamErrors,
		m.SignalsTotal,
		m.Trades,
		m.LastPrice,
		m.BalanceA,
		m.BalanceB,
		m.PortfolioValue,
		m.FeesPaid,
		m.StreamState,
		m.StreamHealthy,
		m.TickLag,
	)
	return m
}

// Record implements journal.Sink.
func (m *Metrics) Record(_ context.Context, e journal.Event) error {
	m.TicksTotal.Inc()
	m.SignalsTotal.WithLabelValues(e.Signal.String()).Inc()
	if e.Rejection != "" {
		m.RejectionsTotal.Inc()
	}
	m.Trades.Set(float64(e.Market.Trades))
	m.LastPrice.Set(e.Candle.Close)
	m.BalanceA.Set(e.Market.BalanceA)
	m.BalanceB.Set(e.Market.BalanceB)
	m.PortfolioValue.Set(e.Market.TotalInB())
	m.FeesPaid.Set(e.Market.FeesPaid)
	if !e.Timestamp.IsZero() {
		m.TickLag.Set(time.Since(e.Timestamp).Seconds())
	}
	return nil
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("Metrics | Serving on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
