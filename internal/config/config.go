// Package config
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/amirphl/ha-trader/internal/market"
	"github.com/amirphl/ha-trader/internal/replay"
	"github.com/amirphl/ha-trader/internal/strategy"
	"github.com/amirphl/ha-trader/internal/tfutils"
)

/*
YAML config example:
name: "btc-5m-exs"
mode: "backtest"
symbol: "BTCUSDT"
timeframe: "5m"
window: 20
strategy: "exs"
balance_b: 1000
fee: 0.001
backtest_from: 2024-01-01
backtest_to: 2024-02-01
history_source: "binance"
storage: "postgres"
db_conn_str: "postgres://..."
journal_csv: "journal.csv"
*/

const (
	ModeBacktest = "backtest"
	ModeLive     = "live"

	SourceBinance = "binance"
	SourceWallex  = "wallex"

	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Mode        string `yaml:"mode"`

	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
	Window    int    `yaml:"window"`
	Strategy  string `yaml:"strategy"`

	BalanceA       float64 `yaml:"balance_a"`
	BalanceB       float64 `yaml:"balance_b"`
	Fee            float64 `yaml:"fee"`
	MinTransaction float64 `yaml:"min_transaction"`
	StepSize       float64 `yaml:"step_size"`

	BacktestFrom time.Time `yaml:"backtest_from"`
	BacktestTo   time.Time `yaml:"backtest_to"`
	// HistoryLimit is the number of klines requested per REST call.
	HistoryLimit int `yaml:"history_limit"`
	// Lookback is the number of closed candles seeded before a live session.
	Lookback         int  `yaml:"lookback"`
	AbortOnBadCandle bool `yaml:"abort_on_bad_candle"`

	HistorySource    string `yaml:"history_source"`
	BinanceAPIKey    string `yaml:"binance_api_key"`
	BinanceSecretKey string `yaml:"binance_secret_key"`
	BinanceRESTURL   string `yaml:"binance_rest_url"`
	BinanceWSURL     string `yaml:"binance_ws_url"`
	WallexAPIKey     string `yaml:"wallex_api_key"`

	Storage   string `yaml:"storage"`
	DBConnStr string `yaml:"db_conn_str"`
	DBMaxOpen int    `yaml:"db_max_open"`
	DBMaxIdle int    `yaml:"db_max_idle"`

	JournalSQLite string `yaml:"journal_sqlite"`
	JournalCSV    string `yaml:"journal_csv"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisChannel  string `yaml:"redis_channel"`

	MetricsAddr string `yaml:"metrics_addr"`

	TelegramToken       string        `yaml:"telegram_token"`
	TelegramChatID      string        `yaml:"telegram_chat_id"`
	NotificationRetries int           `yaml:"notification_retries"`
	NotificationDelay   time.Duration `yaml:"notification_delay"`

	LogFile string `yaml:"log_file"`
}

// Load reads flags from args, overlays the YAML file named by -config and
// fills secrets from the environment (a .env file is loaded if present).
func Load(args []string) (Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("ha-trader", flag.ContinueOnError)

	var cfg Config
	fs.StringVar(&cfg.Name, "name", "ha-trader", "Session name")
	fs.StringVar(&cfg.Mode, "mode", ModeBacktest, "Mode: backtest or live")
	fs.StringVar(&cfg.Symbol, "symbol", "BTCUSDT", "Trading symbol")
	fs.StringVar(&cfg.Timeframe, "timeframe", "5m", "Candle timeframe")
	fs.IntVar(&cfg.Window, "window", 20, "Number of trailing candles handed to the strategy")
	fs.StringVar(&cfg.Strategy, "strategy", strategy.ExSName, "Strategy: "+strings.Join(strategy.DefaultRegistry().Names(), " or "))
	fs.Float64Var(&cfg.BalanceA, "balance-a", 0, "Starting balance of the base asset")
	fs.Float64Var(&cfg.BalanceB, "balance-b", 1000, "Starting balance of the quote asset")
	fs.Float64Var(&cfg.Fee, "fee", 0.001, "Fee fraction charged on the acquired leg (e.g., 0.001 for 0.1%)")
	fs.Float64Var(&cfg.MinTransaction, "min-transaction", 0, "Minimum order size in base units")
	fs.Float64Var(&cfg.StepSize, "step-size", 0, "Order size step in base units")
	from := fs.String("from", time.Now().AddDate(0, -1, 0).Format("2006-01-02"), "Backtest start date (YYYY-MM-DD)")
	to := fs.String("to", time.Now().Format("2006-01-02"), "Backtest end date (YYYY-MM-DD)")
	fs.IntVar(&cfg.HistoryLimit, "history-limit", 1000, "Klines per REST request")
	fs.IntVar(&cfg.Lookback, "lookback", 100, "Closed candles seeded before live trading")
	fs.BoolVar(&cfg.AbortOnBadCandle, "abort-on-bad-candle", false, "Abort instead of skipping invalid candles")
	fs.StringVar(&cfg.HistorySource, "history-source", SourceBinance, "History source: binance or wallex")
	fs.StringVar(&cfg.BinanceRESTURL, "binance-rest-url", "", "Override Binance REST base URL")
	fs.StringVar(&cfg.BinanceWSURL, "binance-ws-url", "wss://stream.binance.com:9443/ws", "Binance websocket URL")
	fs.StringVar(&cfg.Storage, "storage", StorageMemory, "Candle storage: memory or postgres")
	fs.IntVar(&cfg.DBMaxOpen, "db-max-open", 10, "Max open postgres connections")
	fs.IntVar(&cfg.DBMaxIdle, "db-max-idle", 5, "Max idle postgres connections")
	fs.StringVar(&cfg.JournalSQLite, "journal-sqlite", "", "SQLite file receiving every journal event")
	fs.StringVar(&cfg.JournalCSV, "journal-csv", "", "CSV file written with the journal after a backtest")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "Redis address for live event publishing")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "Redis database")
	fs.StringVar(&cfg.RedisChannel, "redis-channel", "ha-trader:events", "Redis channel for live events")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Listen address for /metrics (e.g., :9100)")
	fs.StringVar(&cfg.TelegramToken, "telegram-token", "", "Telegram bot token for notifications")
	fs.StringVar(&cfg.TelegramChatID, "telegram-chat", "", "Telegram chat ID for notifications")
	fs.IntVar(&cfg.NotificationRetries, "notification-retries", 3, "Number of notification send attempts")
	fs.DurationVar(&cfg.NotificationDelay, "notification-delay", 5*time.Second, "Delay between notification retries (e.g., 5s)")
	fs.StringVar(&cfg.LogFile, "log-file", "ha-trader.log", "Log file, empty for stderr only")
	configFile := fs.String("config", "", "Path to YAML config file")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	var errs []error
	var err error
	if cfg.BacktestFrom, err = time.Parse("2006-01-02", *from); err != nil {
		errs = append(errs, fmt.Errorf("invalid -from: %w", err))
	}
	if cfg.BacktestTo, err = time.Parse("2006-01-02", *to); err != nil {
		errs = append(errs, fmt.Errorf("invalid -to: %w", err))
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.BinanceAPIKey = getEnv("BINANCE_API_KEY", cfg.BinanceAPIKey)
	cfg.BinanceSecretKey = getEnv("BINANCE_API_SECRET", cfg.BinanceSecretKey)
	cfg.WallexAPIKey = getEnv("WALLEX_API_KEY", cfg.WallexAPIKey)
	cfg.DBConnStr = getEnv("DB_CONN_STR", cfg.DBConnStr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.TelegramToken = getEnv("TELEGRAM_TOKEN", cfg.TelegramToken)
	cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", cfg.TelegramChatID)
	cfg.RedisDB = getEnvAsInt("REDIS_DB", cfg.RedisDB)

	return cfg, cfg.Validate()
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []string

	if c.Mode != ModeBacktest && c.Mode != ModeLive {
		errs = append(errs, fmt.Sprintf("mode must be %s or %s, got %q", ModeBacktest, ModeLive, c.Mode))
	}
	if c.Symbol == "" {
		errs = append(errs, "symbol must be set")
	}
	if !tfutils.IsValidTimeframe(c.Timeframe) {
		errs = append(errs, fmt.Sprintf("unsupported timeframe %q", c.Timeframe))
	}
	if c.Window <= 0 {
		errs = append(errs, "window must be positive")
	}
	if c.BalanceA < 0 || c.BalanceB < 0 {
		errs = append(errs, "balances cannot be negative")
	}
	if c.Fee < 0 || c.Fee >= 1 {
		errs = append(errs, "fee must be in [0, 1)")
	}
	if c.MinTransaction < 0 || c.StepSize < 0 {
		errs = append(errs, "min transaction and step size cannot be negative")
	}
	if c.Mode == ModeBacktest && !c.BacktestTo.After(c.BacktestFrom) {
		errs = append(errs, "backtest_to must be after backtest_from")
	}
	if c.HistoryLimit <= 0 || c.HistoryLimit > 1000 {
		errs = append(errs, "history limit must be in [1, 1000]")
	}
	if c.Lookback < 0 {
		errs = append(errs, "lookback cannot be negative")
	}
	if c.HistorySource != SourceBinance && c.HistorySource != SourceWallex {
		errs = append(errs, fmt.Sprintf("history source must be %s or %s, got %q", SourceBinance, SourceWallex, c.HistorySource))
	}
	if c.Mode == ModeLive && c.BinanceWSURL == "" {
		errs = append(errs, "binance websocket url must be set in live mode")
	}
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DBConnStr == "" {
			errs = append(errs, "DB_CONN_STR must be set for postgres storage")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage must be %s or %s, got %q", StorageMemory, StoragePostgres, c.Storage))
	}
	if (c.TelegramToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, "telegram token and chat id must be set together")
	}
	if c.NotificationRetries < 1 {
		errs = append(errs, "notification retries must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Session returns the replay settings of the config.
func (c Config) Session() replay.Config {
	return replay.Config{
		Symbol:    c.Symbol,
		Timeframe: c.Timeframe,
		Window:    c.Window,
		Strategy:  c.Strategy,
		Market: market.Config{
			BalanceA:       c.BalanceA,
			BalanceB:       c.BalanceB,
			Fee:            c.Fee,
			MinTransaction: c.MinTransaction,
			StepSize:       c.StepSize,
		},
		AbortOnBadCandle: c.AbortOnBadCandle,
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
