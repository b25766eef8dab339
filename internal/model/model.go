// Package model holds the domain types shared across memetrader's
// components: Tick, FeatureTensor, Signal, Position, Portfolio, TradeRecord,
// RiskSnapshot and PatternRecord (§3 of the specification).
package model

import "time"

// Tick is a single observation of price and volume for one instrument.
// Immutable once produced by the Market Ingestor.
type Tick struct {
	InstrumentID string
	Price        float64
	Volume       float64
	ReceivedAt   time.Time
}

// FeatureTensor is the (1, W, 3) tensor produced by the Feature Buffer once
// a window is full: channels are price, price delta from the previous tick,
// and volume.
type FeatureTensor struct {
	InstrumentID string
	Window       int
	Price        []float64
	PriceDelta   []float64
	Volume       []float64
}

// PatternRecord is a row upserted into the vector store after every ready
// inference. Never mutated once written; eviction policy is external.
type PatternRecord struct {
	ID           string
	Vector       []float32
	InstrumentID string
	Price        float64
	Volume       float64
}

// Signal is the deterministic output of inference + retrieval: a confidence
// score in [0,1] plus the inputs that produced it.
type Signal struct {
	InstrumentID      string
	Confidence        float64
	PredictedVol      float64
	AnomalyScore      float64
	SourceEmbedding   []float32
	CreatedAt         time.Time
	NeighborCount     int
	MeanNeighborScore float64
}

// PositionStatus is the stop-loss state machine's state.
type PositionStatus string

const (
	StatusOpen    PositionStatus = "open"
	StatusClosing PositionStatus = "closing"
	StatusClosed  PositionStatus = "closed"
)

// StopReason names why a position transitioned out of Open.
type StopReason string

const (
	StopHard     StopReason = "hard_stop"
	StopTrailing StopReason = "trailing_stop"
	StopManual   StopReason = "manual"
)

// Position is the central mutable entity owned exclusively by the Risk
// Manager. Key is InstrumentID; at most one open position per instrument.
type Position struct {
	ID         string
	Instrument string

	// immutable at open
	EntryPrice      float64
	EntrySizeQuote  float64
	EntryTime       time.Time
	EntryConfidence float64

	// mutable
	CurrentPrice      float64
	PeakPrice         float64
	TrailingStopLevel float64
	UnrealizedPnL     float64
	UnrealizedPnLPct  float64
	Status            PositionStatus

	// closed-state fields
	ExitPrice    float64
	ExitTime     time.Time
	RealizedPnL  float64
	RealizedPct  float64
	ExitReason   StopReason
}

// Portfolio is the process-wide singleton owned exclusively by the Risk
// Manager.
type Portfolio struct {
	StartingCapital  float64
	CurrentCapital   float64
	AvailableCapital float64
	TotalPnL         float64
	DailyPnL         float64
	WeeklyPnL        float64
	PeakCapital      float64

	DayAnchor  time.Time
	WeekAnchor time.Time

	ConsecutiveLosses int
	ConsecutiveWins   int
	TotalTrades       int
	WinningTrades     int
	LosingTrades      int
	LastLossTime      *time.Time
}

// Side of an executed swap.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeRecord is an append-only ledger row per executed swap.
type TradeRecord struct {
	ID                string
	PositionID        *string
	Side              Side
	Instrument        string
	Price             float64
	SizeQuote         float64
	SubmittedAt       time.Time
	Signature         *string
	SlippageBps       *float64
	FeesQuote         float64
	ExecutionLatencyMs int64
}

// RiskSnapshot is a periodic materialization of portfolio + aggregate risk
// metrics, append-only.
type RiskSnapshot struct {
	Timestamp           time.Time
	TotalCapital        float64
	AvailableCapital    float64
	TotalPositionValue  float64
	UnrealizedPnL       float64
	RealizedPnL         float64
	DailyPnL            float64
	DailyPnLPct         float64
	WeeklyPnL           float64
	WeeklyPnLPct        float64
	MaxDrawdownPct      float64
	NumPositions        int
	TotalTrades         int
	WinRate             float64
	SharpeEstimate      float64
	ConsecutiveLosses   int
	ConsecutiveWins     int
}
