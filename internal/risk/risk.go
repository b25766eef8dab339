// Package risk implements the Risk Manager (§4.D): fractional-Kelly ×
// volatility-target position sizing, multi-layer validation, the
// stop-loss state machine, and portfolio accounting. It is ported from
// original_source/src/risk_manager.rs's RiskManager/RiskConfig/Portfolio,
// generalized to Go's mutex-guarded singleton idiom per §5 ("Portfolio &
// positions: exclusive Risk Manager mutex... no suspension point may hold
// the Risk Manager mutex").
package risk

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"memetrader/internal/model"
)

// Config mirrors original_source/src/risk_manager.rs's RiskConfig, with the
// two constants the Rust prototype hardcoded (extreme volatility ceiling,
// payoff ratio b) promoted to configuration per §9's open questions.
type Config struct {
	MaxPositionSizeQuote    float64
	MaxPositionPctPortfolio float64
	PayoffRatio             float64 // b
	KellyFraction           float64 // kf
	VolTarget               float64
	MinDustQuote            float64
	HardStopPct             float64
	TrailingStopPct         float64
	MaxTotalPositions       int
	MaxDailyDrawdownPct     float64
	MaxWeeklyDrawdownPct    float64
	CooldownThreshold       int
	CooldownDuration        time.Duration
	ExtremeVolCeiling       float64
}

// RejectReason names why validate() refused a trade. Values match §4.D's
// bullet list in declaration order, which is also check order.
type RejectReason string

const (
	RejectMaxPositions       RejectReason = "max_positions_reached"
	RejectDailyDrawdown      RejectReason = "daily_drawdown_exceeded"
	RejectWeeklyDrawdown     RejectReason = "weekly_drawdown_exceeded"
	RejectLossStreakCooldown RejectReason = "loss_streak_cooldown"
	RejectExtremeVolatility  RejectReason = "extreme_volatility"
	RejectInsufficientCap    RejectReason = "insufficient_capital"
	RejectSizeTooLarge       RejectReason = "position_size_too_large"
	RejectPositionAlreadyOpen RejectReason = "position_already_open"
	RejectDustSize           RejectReason = "size_below_dust_threshold"
)

// RejectError is returned by Validate when a trade is refused.
type RejectError struct{ Reason RejectReason }

func (e *RejectError) Error() string { return string(e.Reason) }

var errNotFound = errors.New("risk: position not found")

// Manager is the Risk Manager singleton: the sole owner of Portfolio and
// the position map (§3). Every exported method acquires mu synchronously
// and releases it before returning; no suspension point (network, disk,
// channel) is ever reached while holding it (§5).
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	portfolio model.Portfolio
	positions map[string]*model.Position // keyed by instrument_id
	volCache  map[string]float64
}

// New constructs a Manager with the given starting capital.
func New(cfg Config, startingCapital float64) *Manager {
	now := time.Now()
	return &Manager{
		cfg: cfg,
		portfolio: model.Portfolio{
			StartingCapital:  startingCapital,
			CurrentCapital:   startingCapital,
			AvailableCapital: startingCapital,
			PeakCapital:      startingCapital,
			DayAnchor:        now,
			WeekAnchor:       now,
		},
		positions: make(map[string]*model.Position),
		volCache:  make(map[string]float64),
	}
}

// SizeFor is the pure sizing read: fractional Kelly × volatility-target,
// capped per §4.D. Callers may hold or not hold other locks; SizeFor takes
// only the Manager's own lock for the duration of the read.
func (m *Manager) SizeFor(signal model.Signal, estimatedVol float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sizeForLocked(signal, estimatedVol)
}

func (m *Manager) sizeForLocked(signal model.Signal, estimatedVol float64) float64 {
	p := signal.Confidence
	b := m.cfg.PayoffRatio

	kelly := (p*b - (1 - p)) / b
	if kelly < 0 {
		kelly = 0
	}
	fractionalKelly := kelly * m.cfg.KellyFraction

	volScalar := 1.0
	if estimatedVol > 0 {
		volScalar = math.Min(1.0, m.cfg.VolTarget/estimatedVol)
	}

	baseSize := m.portfolio.AvailableCapital * fractionalKelly * volScalar
	maxPctSize := m.portfolio.AvailableCapital * m.cfg.MaxPositionPctPortfolio
	maxAbsSize := m.cfg.MaxPositionSizeQuote

	return math.Min(baseSize, math.Min(maxPctSize, maxAbsSize))
}

// Validate checks a proposed trade against every limit in §4.D, in the
// specified order, and returns the first violated reason.
func (m *Manager) Validate(instrument string, proposedSize, estimatedVol float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateLocked(instrument, proposedSize, estimatedVol)
}

func (m *Manager) validateLocked(instrument string, proposedSize, estimatedVol float64) error {
	p := &m.portfolio
	m.rollAnchorsLocked()

	if len(m.positions) >= m.cfg.MaxTotalPositions {
		return &RejectError{RejectMaxPositions}
	}
	if dailyPnLPct(p) < -m.cfg.MaxDailyDrawdownPct {
		return &RejectError{RejectDailyDrawdown}
	}
	if weeklyPnLPct(p) < -m.cfg.MaxWeeklyDrawdownPct {
		return &RejectError{RejectWeeklyDrawdown}
	}
	if p.ConsecutiveLosses >= m.cfg.CooldownThreshold && p.LastLossTime != nil &&
		time.Since(*p.LastLossTime) < m.cfg.CooldownDuration {
		return &RejectError{RejectLossStreakCooldown}
	}
	if estimatedVol > m.cfg.ExtremeVolCeiling {
		return &RejectError{RejectExtremeVolatility}
	}
	if proposedSize > p.AvailableCapital {
		return &RejectError{RejectInsufficientCap}
	}
	if proposedSize > m.cfg.MaxPositionSizeQuote {
		return &RejectError{RejectSizeTooLarge}
	}
	if _, open := m.positions[instrument]; open {
		// §9 open question 2: made explicit (not implied) here.
		return &RejectError{RejectPositionAlreadyOpen}
	}
	if proposedSize < m.cfg.MinDustQuote {
		return &RejectError{RejectDustSize}
	}
	return nil
}

// Open mutates the portfolio and creates a new Open position. Callers must
// have already validated; Open does not re-validate.
func (m *Manager) Open(instrument string, entryPrice, sizeQuote, confidence float64) *model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := &model.Position{
		ID:                uuid.NewString(),
		Instrument:        instrument,
		EntryPrice:        entryPrice,
		EntrySizeQuote:    sizeQuote,
		EntryTime:         time.Now(),
		EntryConfidence:   confidence,
		CurrentPrice:      entryPrice,
		PeakPrice:         entryPrice,
		TrailingStopLevel: entryPrice * (1 - m.cfg.TrailingStopPct),
		Status:            model.StatusOpen,
	}
	m.positions[instrument] = pos
	m.portfolio.AvailableCapital -= sizeQuote
	return pos
}

// OpenPosition returns a snapshot of the current position for instrument,
// or nil if none is open. The returned value is a copy: callers may read
// its immutable entry fields freely, but must go through Close to mutate
// Risk Manager state (§5: Position is exclusively Risk-Manager-owned).
func (m *Manager) OpenPosition(instrument string) *model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[instrument]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// StopFired is one entry of tick_update's return value.
type StopFired struct {
	Instrument string
	PositionID string
	Reason     model.StopReason
}

// TickUpdate applies a price map to every open position, in deterministic
// instrument-ascending order (§9 supplemented feature: the Rust original
// iterates a HashMap; this spec requires determinism). For each position it
// updates peak/trailing-stop and checks the stop-loss state machine,
// reporting stops that fired. Tie-break: hard stop wins over trailing.
func (m *Manager) TickUpdate(prices map[string]float64) []StopFired {
	m.mu.Lock()
	defer m.mu.Unlock()

	instruments := make([]string, 0, len(m.positions))
	for inst := range m.positions {
		if _, ok := prices[inst]; ok {
			instruments = append(instruments, inst)
		}
	}
	sort.Strings(instruments)

	var fired []StopFired
	for _, inst := range instruments {
		pos := m.positions[inst]
		price := prices[inst]

		pos.CurrentPrice = price
		pos.UnrealizedPnL = (price - pos.EntryPrice) * (pos.EntrySizeQuote / pos.EntryPrice)
		if pos.EntryPrice != 0 {
			pos.UnrealizedPnLPct = (price - pos.EntryPrice) / pos.EntryPrice
		}
		if price > pos.PeakPrice {
			pos.PeakPrice = price
		}
		// Trailing stop is monotone non-decreasing (property 6, §8): it is
		// recomputed from peak only, and peak is itself non-decreasing.
		newTrail := pos.PeakPrice * (1 - m.cfg.TrailingStopPct)
		if newTrail > pos.TrailingStopLevel {
			pos.TrailingStopLevel = newTrail
		}

		if pos.Status != model.StatusOpen {
			continue
		}

		hardTriggered := pos.UnrealizedPnLPct < -m.cfg.HardStopPct
		trailingTriggered := price < pos.TrailingStopLevel

		switch {
		case hardTriggered:
			pos.Status = model.StatusClosing
			fired = append(fired, StopFired{inst, pos.ID, model.StopHard})
		case trailingTriggered:
			pos.Status = model.StatusClosing
			fired = append(fired, StopFired{inst, pos.ID, model.StopTrailing})
		}
	}
	return fired
}

// Close finalizes a position (called once the Execution Engine confirms a
// sell) and reconciles the portfolio. feesQuote is subtracted from the
// realized PnL so the ledger matches Trade Records exactly (§9 open
// question 4).
func (m *Manager) Close(instrument string, exitPrice, feesQuote float64, reason model.StopReason) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[instrument]
	if !ok {
		return 0, errNotFound
	}

	units := pos.EntrySizeQuote / pos.EntryPrice
	pnl := (exitPrice-pos.EntryPrice)*units - feesQuote
	pnlPct := pnl / pos.EntrySizeQuote

	pos.Status = model.StatusClosed
	pos.ExitPrice = exitPrice
	pos.ExitTime = time.Now()
	pos.RealizedPnL = pnl
	pos.RealizedPct = pnlPct
	pos.ExitReason = reason

	p := &m.portfolio
	p.AvailableCapital += pos.EntrySizeQuote + pnl
	p.CurrentCapital += pnl
	p.TotalPnL += pnl
	p.DailyPnL += pnl
	p.WeeklyPnL += pnl
	p.TotalTrades++

	// Property 5 (§8): exactly one of winning/losing increments.
	if pnl > 0 {
		p.WinningTrades++
		p.ConsecutiveWins++
		p.ConsecutiveLosses = 0
	} else {
		p.LosingTrades++
		p.ConsecutiveLosses++
		p.ConsecutiveWins = 0
		now := time.Now()
		p.LastLossTime = &now
	}
	if p.CurrentCapital > p.PeakCapital {
		p.PeakCapital = p.CurrentCapital
	}

	delete(m.positions, instrument)
	return pnl, nil
}

// Metrics is the pure read producing a RiskSnapshot.
func (m *Manager) Metrics() model.RiskSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.portfolio
	var totalPositionValue, unrealized float64
	for _, pos := range m.positions {
		totalPositionValue += pos.EntrySizeQuote
		unrealized += pos.UnrealizedPnL
	}

	winRate := 0.0
	if p.TotalTrades > 0 {
		winRate = float64(p.WinningTrades) / float64(p.TotalTrades)
	}

	return model.RiskSnapshot{
		Timestamp:          time.Now(),
		TotalCapital:        p.CurrentCapital,
		AvailableCapital:    p.AvailableCapital,
		TotalPositionValue:  totalPositionValue,
		UnrealizedPnL:       unrealized,
		RealizedPnL:         p.TotalPnL,
		DailyPnL:            p.DailyPnL,
		DailyPnLPct:         dailyPnLPct(&p),
		WeeklyPnL:           p.WeeklyPnL,
		WeeklyPnLPct:        weeklyPnLPct(&p),
		MaxDrawdownPct:      maxDrawdownPct(&p),
		NumPositions:        len(m.positions),
		TotalTrades:         p.TotalTrades,
		WinRate:             winRate,
		SharpeEstimate:      sharpeEstimate(&p),
		ConsecutiveLosses:   p.ConsecutiveLosses,
		ConsecutiveWins:     p.ConsecutiveWins,
	}
}

// EstimateVolatility is the §9-supplemented volatility estimator, ported
// from original_source/src/risk_manager.rs's calculate_volatility: the
// standard deviation of log returns over recent prices, cached per
// instrument, defaulting to 0.02 with fewer than two observations.
func (m *Manager) EstimateVolatility(instrument string, recentPrices []float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(recentPrices) < 2 {
		if v, ok := m.volCache[instrument]; ok {
			return v
		}
		return 0.02
	}

	returns := make([]float64, 0, len(recentPrices)-1)
	for i := 1; i < len(recentPrices); i++ {
		if recentPrices[i-1] <= 0 {
			continue
		}
		returns = append(returns, math.Log(recentPrices[i]/recentPrices[i-1]))
	}
	if len(returns) == 0 {
		return 0.02
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	vol := math.Sqrt(variance)
	m.volCache[instrument] = vol
	return vol
}

func (m *Manager) rollAnchorsLocked() {
	now := time.Now()
	p := &m.portfolio
	if now.Sub(p.DayAnchor) >= 24*time.Hour {
		p.DailyPnL = 0
		p.DayAnchor = now
	}
	if now.Sub(p.WeekAnchor) >= 7*24*time.Hour {
		p.WeeklyPnL = 0
		p.WeekAnchor = now
	}
}

func dailyPnLPct(p *model.Portfolio) float64 {
	if p.StartingCapital == 0 {
		return 0
	}
	return p.DailyPnL / p.StartingCapital
}

func weeklyPnLPct(p *model.Portfolio) float64 {
	if p.StartingCapital == 0 {
		return 0
	}
	return p.WeeklyPnL / p.StartingCapital
}

func maxDrawdownPct(p *model.Portfolio) float64 {
	if p.PeakCapital == 0 {
		return 0
	}
	return (p.PeakCapital - p.CurrentCapital) / p.PeakCapital
}

// sharpeEstimate is a best-effort Sharpe-like figure carried from the Rust
// original's get_metrics, valid only once enough trades have closed to be
// meaningful (original used total_trades > 10).
func sharpeEstimate(p *model.Portfolio) float64 {
	const minTradesForEstimate = 10
	if p.TotalTrades <= minTradesForEstimate || p.TotalTrades == 0 {
		return 0
	}
	avgPnL := p.TotalPnL / float64(p.TotalTrades)
	const placeholderVol = 0.02
	if placeholderVol == 0 {
		return 0
	}
	return avgPnL / (placeholderVol * p.StartingCapital)
}
