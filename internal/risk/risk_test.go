package risk

import (
	"math"
	"testing"
	"time"

	"memetrader/internal/model"
)

func testConfig() Config {
	return Config{
		MaxPositionSizeQuote:    1000,
		MaxPositionPctPortfolio: 0.20,
		PayoffRatio:             1.5,
		KellyFraction:           0.25,
		VolTarget:               0.02,
		MinDustQuote:            1,
		HardStopPct:             0.05,
		TrailingStopPct:         0.03,
		MaxTotalPositions:       5,
		MaxDailyDrawdownPct:     0.15,
		MaxWeeklyDrawdownPct:    0.25,
		CooldownThreshold:       3,
		CooldownDuration:        60 * time.Minute,
		ExtremeVolCeiling:       0.50,
	}
}

// S2: Sizing. available=10_000, confidence=0.80, b=1.5, kf=0.25,
// vol_target=0.02, estimated_vol=0.02. Expect size capped to 1000 by
// max_position_size_quote.
func TestSizingScenarioS2(t *testing.T) {
	m := New(testConfig(), 10_000)
	sig := model.Signal{Confidence: 0.80}
	size := m.SizeFor(sig, 0.02)
	if math.Abs(size-1000) > 1e-6 {
		t.Fatalf("expected size capped at 1000, got %v", size)
	}
}

// Property 4 (§8): sizing never exceeds the stated caps.
func TestSizingNeverExceedsCaps(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionSizeQuote = 100000 // relax the absolute cap so pct cap binds
	m := New(cfg, 10_000)
	size := m.SizeFor(model.Signal{Confidence: 0.99}, 0.001)
	maxAllowed := math.Min(cfg.MaxPositionPctPortfolio*10_000, math.Min(cfg.MaxPositionSizeQuote, 10_000))
	if size > maxAllowed+1e-9 {
		t.Fatalf("size %v exceeds cap %v", size, maxAllowed)
	}
}

// S3: Hard stop. open at 1.0, size 500, hard_stop 0.05, trailing 0.03.
// Ticks 1.02, 1.05, 1.03, 0.94 -> Closing with hard_stop after 4th tick;
// peak stays 1.05 throughout.
func TestHardStopScenarioS3(t *testing.T) {
	m := New(testConfig(), 10_000)
	m.Open("X", 1.0, 500, 0.8)

	seq := []float64{1.02, 1.05, 1.03, 0.94}
	var lastFired []StopFired
	for _, price := range seq {
		lastFired = m.TickUpdate(map[string]float64{"X": price})
	}

	pos := m.positions["X"]
	if pos.Status != model.StatusClosing {
		t.Fatalf("expected Closing after hard stop, got %v", pos.Status)
	}
	if pos.PeakPrice != 1.05 {
		t.Fatalf("expected peak 1.05, got %v", pos.PeakPrice)
	}
	if len(lastFired) != 1 || lastFired[0].Reason != model.StopHard {
		t.Fatalf("expected hard_stop to fire on last tick, got %+v", lastFired)
	}
}

// S4: Trailing stop. open at 1.0, trailing 0.03. Ticks 1.20, 1.30, 1.25,
// 1.26. After 1.30, trail = 1.261. 1.25 triggers trailing_stop; 1.26 after
// does not un-fire it.
func TestTrailingStopScenarioS4(t *testing.T) {
	m := New(testConfig(), 10_000)
	m.Open("X", 1.0, 500, 0.8)

	m.TickUpdate(map[string]float64{"X": 1.20})
	m.TickUpdate(map[string]float64{"X": 1.30})
	pos := m.positions["X"]
	if math.Abs(pos.TrailingStopLevel-1.261) > 1e-9 {
		t.Fatalf("expected trail 1.261 after peak 1.30, got %v", pos.TrailingStopLevel)
	}

	fired := m.TickUpdate(map[string]float64{"X": 1.25})
	if len(fired) != 1 || fired[0].Reason != model.StopTrailing {
		t.Fatalf("expected trailing_stop to fire at 1.25, got %+v", fired)
	}

	m.TickUpdate(map[string]float64{"X": 1.26})
	if m.positions["X"].Status != model.StatusClosing {
		t.Fatal("position should remain Closing even though price recovered above the stop")
	}
}

// Property 6 (§8): trailing stop never decreases while open.
func TestTrailingStopNeverDecreases(t *testing.T) {
	m := New(testConfig(), 10_000)
	m.Open("X", 1.0, 500, 0.8)

	prev := m.positions["X"].TrailingStopLevel
	for _, price := range []float64{1.1, 1.2, 1.15, 1.3, 1.05} {
		m.TickUpdate(map[string]float64{"X": price})
		cur := m.positions["X"].TrailingStopLevel
		if cur < prev-1e-12 {
			t.Fatalf("trailing stop decreased: %v -> %v", prev, cur)
		}
		prev = cur
	}
}

// S5: Drawdown halt. starting capital 10_000; daily_pnl driven to -1600
// (-16%); max_daily_drawdown_pct=0.15 -> reject.
func TestDrawdownHaltScenarioS5(t *testing.T) {
	m := New(testConfig(), 10_000)
	m.portfolio.DailyPnL = -1600

	err := m.Validate("ANY", 10, 0.01)
	rej, ok := err.(*RejectError)
	if !ok || rej.Reason != RejectDailyDrawdown {
		t.Fatalf("expected DrawdownLimitExceeded, got %v", err)
	}
}

// S6: Cooldown. Three consecutive losses; cooldown_threshold=3,
// cooldown_duration=60min -> reject with LossStreakCooldown.
func TestCooldownScenarioS6(t *testing.T) {
	m := New(testConfig(), 10_000)
	m.portfolio.ConsecutiveLosses = 3
	now := time.Now()
	m.portfolio.LastLossTime = &now

	err := m.Validate("ANY", 10, 0.01)
	rej, ok := err.(*RejectError)
	if !ok || rej.Reason != RejectLossStreakCooldown {
		t.Fatalf("expected LossStreakCooldown, got %v", err)
	}
}

// Property 5 (§8): winning_trades + losing_trades = total_trades, and each
// close increments exactly one.
func TestCloseIncrementsExactlyOneCounter(t *testing.T) {
	m := New(testConfig(), 10_000)
	m.Open("X", 1.0, 500, 0.8)
	m.Close("X", 1.1, 0, model.StopManual)

	m.Open("Y", 1.0, 500, 0.8)
	m.Close("Y", 0.9, 0, model.StopHard)

	p := m.portfolio
	if p.WinningTrades+p.LosingTrades != p.TotalTrades {
		t.Fatalf("winning(%d)+losing(%d) != total(%d)", p.WinningTrades, p.LosingTrades, p.TotalTrades)
	}
	if p.WinningTrades != 1 || p.LosingTrades != 1 {
		t.Fatalf("expected 1 win and 1 loss, got win=%d loss=%d", p.WinningTrades, p.LosingTrades)
	}
}

func TestValidateRejectsDuplicateOpenPosition(t *testing.T) {
	m := New(testConfig(), 10_000)
	m.Open("X", 1.0, 500, 0.8)

	err := m.Validate("X", 10, 0.01)
	rej, ok := err.(*RejectError)
	if !ok || rej.Reason != RejectPositionAlreadyOpen {
		t.Fatalf("expected PositionAlreadyOpen, got %v", err)
	}
}

func TestValidateRejectsExtremeVolatility(t *testing.T) {
	m := New(testConfig(), 10_000)
	err := m.Validate("X", 10, 0.9)
	rej, ok := err.(*RejectError)
	if !ok || rej.Reason != RejectExtremeVolatility {
		t.Fatalf("expected ExtremeVolatility, got %v", err)
	}
}

func TestEstimateVolatilityDefaultsWithFewObservations(t *testing.T) {
	m := New(testConfig(), 10_000)
	if v := m.EstimateVolatility("X", []float64{1.0}); v != 0.02 {
		t.Fatalf("expected default 0.02, got %v", v)
	}
}

func TestEstimateVolatilityComputesLogReturnStdev(t *testing.T) {
	m := New(testConfig(), 10_000)
	v := m.EstimateVolatility("X", []float64{1.0, 1.01, 0.99, 1.02, 1.0})
	if v <= 0 {
		t.Fatalf("expected positive volatility estimate, got %v", v)
	}
}
