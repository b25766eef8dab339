// Package config loads memetrader's operational parameters from CLI flags
// (following the teacher's flag-based main.go) and secrets from the
// environment / a local .env file (following whale-radar's config/loader.go
// idiom: godotenv.Load() then os.Getenv with typed fallbacks).
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"memetrader/internal/logger"
)

// Config holds every tunable named across §4–§6 of the specification.
// Persistence of Config itself is out of scope: unlike the teacher (whose
// Config is DB-persisted), these are process-start parameters re-read from
// flags/env on every launch.
type Config struct {
	// CLI-surfaced operational parameters (§6).
	FeedEndpoint       string
	Instrument         string
	WindowSize         int
	ConfidenceThresh   float64
	MetricsPort        int
	HealthPort         int
	ModelPath          string
	DBPath             string
	VectorStoreURL     string
	TimeseriesSinkURL  string
	QuoteAggregatorURL string
	RPCURL             string
	VectorCollection   string

	// Market Ingestor (§4.A, §5).
	FeedChannelCapacity int
	ReconnectBaseDelay  time.Duration
	ReconnectMaxDelay   time.Duration
	FeedIdleTimeout     time.Duration

	// Inference & Retrieval (§4.C, §5).
	InferenceTimeout   time.Duration
	VectorStoreTimeout time.Duration
	NeighborK          int

	// Risk Manager (§4.D).
	PayoffRatio             float64 // b
	KellyFraction           float64 // kf
	VolTarget               float64
	MaxPositionPctPortfolio float64
	MaxPositionSizeQuote    float64
	MinDustQuote            float64
	MaxTotalPositions       int
	MaxDailyDrawdownPct     float64
	MaxWeeklyDrawdownPct    float64
	CooldownThreshold       int
	CooldownDuration        time.Duration
	ExtremeVolCeiling       float64
	HardStopPct             float64
	TrailingStopPct         float64

	// Execution Engine (§4.E, §5).
	MaxPriceImpactPct float64
	MaxSlippageBps    float64
	QuoteTimeout      time.Duration
	BuildTimeout      time.Duration
	SubmitTimeout     time.Duration
	ConfirmTimeout    time.Duration
	SubmitMaxRetries  int
	CommitmentLevel   string

	// Secrets (env / .env only — never a flag).
	WalletPrivateKeyBase58 string
	WalletPublicKey        string
	JupiterAPIKey          string
}

// Default returns a Config with the specification's stated defaults.
func Default() *Config {
	return &Config{
		FeedEndpoint:       "wss://example-feed.invalid/ws",
		Instrument:         "SOL-MEME",
		WindowSize:         50,
		ConfidenceThresh:   0.8,
		MetricsPort:        9090,
		HealthPort:         9090,
		ModelPath:          "model.onnx",
		DBPath:             "memetrader.db",
		VectorStoreURL:     "http://127.0.0.1:6333",
		TimeseriesSinkURL:  "http://127.0.0.1:9000",
		QuoteAggregatorURL: "https://quote-api.jup.ag/v6",
		RPCURL:             "https://api.mainnet-beta.solana.com",
		VectorCollection:   "memecoin_patterns",

		FeedChannelCapacity: 1024,
		ReconnectBaseDelay:  1 * time.Second,
		ReconnectMaxDelay:   30 * time.Second,
		FeedIdleTimeout:     60 * time.Second,

		InferenceTimeout:   500 * time.Millisecond,
		VectorStoreTimeout: 250 * time.Millisecond,
		NeighborK:          5,

		PayoffRatio:             1.5,
		KellyFraction:           0.25,
		VolTarget:               0.02,
		MaxPositionPctPortfolio: 0.20,
		MaxPositionSizeQuote:    1000,
		MinDustQuote:            1.0,
		MaxTotalPositions:       5,
		MaxDailyDrawdownPct:     0.15,
		MaxWeeklyDrawdownPct:    0.25,
		CooldownThreshold:       3,
		CooldownDuration:        60 * time.Minute,
		ExtremeVolCeiling:       0.50,
		HardStopPct:             0.05,
		TrailingStopPct:         0.03,

		MaxPriceImpactPct: 0.03,
		MaxSlippageBps:    100,
		QuoteTimeout:      2 * time.Second,
		BuildTimeout:      2 * time.Second,
		SubmitTimeout:     10 * time.Second,
		ConfirmTimeout:    60 * time.Second,
		SubmitMaxRetries:  3,
		CommitmentLevel:   "confirmed",
	}
}

// Load parses CLI flags over the defaults and fills secrets from the
// environment (loading ./.env first, without overriding pre-set OS env
// vars — godotenv.Load's native behavior).
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("CONFIG", "could not read .env: "+err.Error())
	}

	cfg := Default()
	fs := flag.NewFlagSet("memetrader", flag.ContinueOnError)

	fs.StringVar(&cfg.FeedEndpoint, "feed-endpoint", cfg.FeedEndpoint, "market data websocket endpoint")
	fs.StringVar(&cfg.Instrument, "instrument", cfg.Instrument, "instrument symbol to trade")
	fs.IntVar(&cfg.WindowSize, "window-size", cfg.WindowSize, "feature buffer window length W")
	fs.Float64Var(&cfg.ConfidenceThresh, "confidence-threshold", cfg.ConfidenceThresh, "minimum signal confidence to forward downstream")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "port serving /metrics")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "unused: /healthz is served on the metrics port")
	fs.StringVar(&cfg.ModelPath, "model-path", cfg.ModelPath, "path to the ONNX sequence model")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to the SQLite database file")
	fs.StringVar(&cfg.VectorStoreURL, "vector-store-url", cfg.VectorStoreURL, "vector store base URL")
	fs.StringVar(&cfg.TimeseriesSinkURL, "timeseries-sink-url", cfg.TimeseriesSinkURL, "time-series sink ingestion URL")
	fs.StringVar(&cfg.QuoteAggregatorURL, "quote-aggregator-url", cfg.QuoteAggregatorURL, "swap quote aggregator base URL")
	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "Solana RPC node URL")
	fs.StringVar(&cfg.VectorCollection, "vector-collection", cfg.VectorCollection, "vector store collection name")

	fs.Float64Var(&cfg.PayoffRatio, "payoff-ratio", cfg.PayoffRatio, "Kelly win/loss payoff ratio b")
	fs.Float64Var(&cfg.KellyFraction, "kelly-fraction", cfg.KellyFraction, "fractional Kelly factor kf")
	fs.Float64Var(&cfg.VolTarget, "vol-target", cfg.VolTarget, "volatility target for position sizing")
	fs.Float64Var(&cfg.MaxPositionPctPortfolio, "max-position-pct", cfg.MaxPositionPctPortfolio, "max position size as pct of available capital")
	fs.Float64Var(&cfg.MaxPositionSizeQuote, "max-position-size-quote", cfg.MaxPositionSizeQuote, "max absolute position size, quote-denominated")
	fs.IntVar(&cfg.MaxTotalPositions, "max-total-positions", cfg.MaxTotalPositions, "max concurrent open positions")
	fs.Float64Var(&cfg.MaxDailyDrawdownPct, "max-daily-drawdown-pct", cfg.MaxDailyDrawdownPct, "daily drawdown halt threshold")
	fs.Float64Var(&cfg.MaxWeeklyDrawdownPct, "max-weekly-drawdown-pct", cfg.MaxWeeklyDrawdownPct, "weekly drawdown halt threshold")
	fs.IntVar(&cfg.CooldownThreshold, "cooldown-threshold", cfg.CooldownThreshold, "consecutive losses before cooldown")
	fs.DurationVar(&cfg.CooldownDuration, "cooldown-duration", cfg.CooldownDuration, "cooldown duration after loss streak")
	fs.Float64Var(&cfg.ExtremeVolCeiling, "extreme-vol-ceiling", cfg.ExtremeVolCeiling, "reject trades above this estimated volatility")
	fs.Float64Var(&cfg.HardStopPct, "hard-stop-pct", cfg.HardStopPct, "hard stop-loss fraction below entry")
	fs.Float64Var(&cfg.TrailingStopPct, "trailing-stop-pct", cfg.TrailingStopPct, "trailing stop-loss fraction below peak")

	fs.Float64Var(&cfg.MaxPriceImpactPct, "max-price-impact-pct", cfg.MaxPriceImpactPct, "reject quotes above this price impact")
	fs.Float64Var(&cfg.MaxSlippageBps, "max-slippage-bps", cfg.MaxSlippageBps, "reject quotes above this slippage cap")
	fs.IntVar(&cfg.SubmitMaxRetries, "submit-max-retries", cfg.SubmitMaxRetries, "max submit retries before reporting failure")
	fs.StringVar(&cfg.CommitmentLevel, "commitment-level", cfg.CommitmentLevel, "RPC commitment level")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.WalletPrivateKeyBase58 = os.Getenv("SOLANA_PRIVATE_KEY_BASE58")
	cfg.WalletPublicKey = os.Getenv("SOLANA_PUBLIC_KEY")
	cfg.JupiterAPIKey = os.Getenv("JUPITER_API_KEY")
	if v := os.Getenv("SOLANA_RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("VECTOR_STORE_URL"); v != "" {
		cfg.VectorStoreURL = v
	}
	if v := os.Getenv("TIMESERIES_SINK_URL"); v != "" {
		cfg.TimeseriesSinkURL = v
	}
	if v := os.Getenv("FEED_CHANNEL_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FeedChannelCapacity = n
		}
	}

	return cfg, nil
}
