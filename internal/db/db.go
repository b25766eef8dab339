// Package db persists positions, trades, risk snapshots and signals to
// SQLite. The connection setup and schema_version migration ladder follow
// the teacher's internal/db/db.go pattern exactly (WAL + busy_timeout +
// foreign_keys pragmas, incremental numbered migrations); the schema itself
// is adapted from original_source/src/database.rs's init_schema, renamed
// and typed to match this spec's data model (§3, §6).
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"memetrader/internal/logger"
	"memetrader/internal/model"
)

// DB wraps a SQLite database connection.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	version := 0
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS positions (
				id                  TEXT PRIMARY KEY,
				instrument          TEXT NOT NULL,
				entry_price         REAL NOT NULL,
				entry_size_quote    REAL NOT NULL,
				entry_time          TEXT NOT NULL,
				entry_confidence    REAL NOT NULL,
				current_price       REAL NOT NULL,
				peak_price          REAL NOT NULL,
				trailing_stop_level REAL NOT NULL,
				unrealized_pnl      REAL NOT NULL DEFAULT 0,
				unrealized_pnl_pct  REAL NOT NULL DEFAULT 0,
				status              TEXT NOT NULL,
				exit_price          REAL,
				exit_time           TEXT,
				realized_pnl        REAL,
				realized_pnl_pct    REAL,
				exit_reason         TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_positions_instrument ON positions(instrument);
			CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);

			CREATE TABLE IF NOT EXISTS trades (
				id                   TEXT PRIMARY KEY,
				position_id          TEXT REFERENCES positions(id),
				side                 TEXT NOT NULL,
				instrument           TEXT NOT NULL,
				price                REAL NOT NULL,
				size_quote           REAL NOT NULL,
				submitted_at         TEXT NOT NULL,
				signature            TEXT,
				slippage_bps         REAL,
				fees_quote           REAL NOT NULL DEFAULT 0,
				execution_latency_ms INTEGER NOT NULL DEFAULT 0
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_signature ON trades(signature) WHERE signature IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_trades_position ON trades(position_id);

			CREATE TABLE IF NOT EXISTS risk_snapshots (
				id                    INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp             TEXT NOT NULL,
				total_capital         REAL NOT NULL,
				available_capital     REAL NOT NULL,
				total_position_value  REAL NOT NULL,
				unrealized_pnl        REAL NOT NULL,
				realized_pnl          REAL NOT NULL,
				daily_pnl             REAL NOT NULL,
				daily_pnl_pct         REAL NOT NULL,
				weekly_pnl            REAL NOT NULL,
				weekly_pnl_pct        REAL NOT NULL,
				max_drawdown_pct      REAL NOT NULL,
				num_positions         INTEGER NOT NULL,
				total_trades          INTEGER NOT NULL,
				win_rate              REAL NOT NULL,
				sharpe_estimate       REAL NOT NULL,
				consecutive_losses    INTEGER NOT NULL,
				consecutive_wins      INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_risk_snapshots_ts ON risk_snapshots(timestamp);

			CREATE TABLE IF NOT EXISTS signals (
				id                     INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp              TEXT NOT NULL,
				instrument             TEXT NOT NULL,
				confidence             REAL NOT NULL,
				predicted_volatility   REAL,
				anomaly_score          REAL NOT NULL,
				neighbor_count         INTEGER NOT NULL DEFAULT 0,
				executed               INTEGER NOT NULL DEFAULT 0,
				position_id            TEXT REFERENCES positions(id)
			);
			CREATE INDEX IF NOT EXISTS idx_signals_instrument ON signals(instrument, timestamp);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1 (positions/trades/risk_snapshots/signals)")
	}

	return nil
}

// InsertPosition inserts a newly opened position.
func (d *DB) InsertPosition(p *model.Position) error {
	_, err := d.sql.Exec(`
		INSERT INTO positions (
			id, instrument, entry_price, entry_size_quote, entry_time, entry_confidence,
			current_price, peak_price, trailing_stop_level, unrealized_pnl, unrealized_pnl_pct, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Instrument, p.EntryPrice, p.EntrySizeQuote, p.EntryTime.UTC().Format(timeFmt), p.EntryConfidence,
		p.CurrentPrice, p.PeakPrice, p.TrailingStopLevel, p.UnrealizedPnL, p.UnrealizedPnLPct, p.Status,
	)
	return err
}

// UpdatePosition persists the mutable fields touched by tick_update.
func (d *DB) UpdatePosition(p *model.Position) error {
	_, err := d.sql.Exec(`
		UPDATE positions SET current_price=?, peak_price=?, trailing_stop_level=?,
			unrealized_pnl=?, unrealized_pnl_pct=?, status=?
		WHERE id=?`,
		p.CurrentPrice, p.PeakPrice, p.TrailingStopLevel, p.UnrealizedPnL, p.UnrealizedPnLPct, p.Status, p.ID,
	)
	return err
}

// ClosePosition persists the closed-state fields.
func (d *DB) ClosePosition(p *model.Position) error {
	_, err := d.sql.Exec(`
		UPDATE positions SET status=?, exit_price=?, exit_time=?, realized_pnl=?, realized_pnl_pct=?, exit_reason=?
		WHERE id=?`,
		p.Status, p.ExitPrice, p.ExitTime.UTC().Format(timeFmt), p.RealizedPnL, p.RealizedPct, p.ExitReason, p.ID,
	)
	return err
}

// InsertTrade appends a Trade Record. The unique index on signature
// enforces the §4.E idempotency guard at the storage layer: a duplicate
// signature is rejected rather than silently duplicated.
func (d *DB) InsertTrade(t *model.TradeRecord) error {
	_, err := d.sql.Exec(`
		INSERT INTO trades (
			id, position_id, side, instrument, price, size_quote, submitted_at,
			signature, slippage_bps, fees_quote, execution_latency_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PositionID, t.Side, t.Instrument, t.Price, t.SizeQuote, t.SubmittedAt.UTC().Format(timeFmt),
		t.Signature, t.SlippageBps, t.FeesQuote, t.ExecutionLatencyMs,
	)
	return err
}

// TradeExists reports whether a trade with the given signature is already
// recorded (idempotency guard, §4.E).
func (d *DB) TradeExists(signature string) (bool, error) {
	var id string
	err := d.sql.QueryRow(`SELECT id FROM trades WHERE signature = ? LIMIT 1`, signature).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertRiskSnapshot appends a periodic risk snapshot.
func (d *DB) InsertRiskSnapshot(s model.RiskSnapshot) error {
	_, err := d.sql.Exec(`
		INSERT INTO risk_snapshots (
			timestamp, total_capital, available_capital, total_position_value, unrealized_pnl,
			realized_pnl, daily_pnl, daily_pnl_pct, weekly_pnl, weekly_pnl_pct, max_drawdown_pct,
			num_positions, total_trades, win_rate, sharpe_estimate, consecutive_losses, consecutive_wins
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Timestamp.UTC().Format(timeFmt), s.TotalCapital, s.AvailableCapital, s.TotalPositionValue, s.UnrealizedPnL,
		s.RealizedPnL, s.DailyPnL, s.DailyPnLPct, s.WeeklyPnL, s.WeeklyPnLPct, s.MaxDrawdownPct,
		s.NumPositions, s.TotalTrades, s.WinRate, s.SharpeEstimate, s.ConsecutiveLosses, s.ConsecutiveWins,
	)
	return err
}

// InsertSignal records an emitted signal.
func (d *DB) InsertSignal(s model.Signal) (int64, error) {
	res, err := d.sql.Exec(`
		INSERT INTO signals (timestamp, instrument, confidence, predicted_volatility, anomaly_score, neighbor_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.CreatedAt.UTC().Format(timeFmt), s.InstrumentID, s.Confidence, s.PredictedVol, s.AnomalyScore, s.NeighborCount,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// MarkSignalExecuted links an executed signal to the position it authorized.
func (d *DB) MarkSignalExecuted(signalID int64, positionID string) error {
	_, err := d.sql.Exec(`UPDATE signals SET executed = 1, position_id = ? WHERE id = ?`, positionID, signalID)
	return err
}

// PerformanceStats is the §9-supplemented read-only aggregate over closed
// positions, ported from original_source/src/database.rs's
// get_performance_stats.
type PerformanceStats struct {
	TotalTrades    int
	WinningTrades  int
	AvgReturnPct   float64
	MaxReturnPct   float64
	MinReturnPct   float64
	TotalPnL       float64
}

// WinRate returns winning trades as a fraction of total trades.
func (s PerformanceStats) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.WinningTrades) / float64(s.TotalTrades)
}

// PerformanceStats aggregates realized performance across closed positions.
func (d *DB) PerformanceStats() (PerformanceStats, error) {
	var stats PerformanceStats
	row := d.sql.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(realized_pnl_pct), 0),
			COALESCE(MAX(realized_pnl_pct), 0),
			COALESCE(MIN(realized_pnl_pct), 0),
			COALESCE(SUM(realized_pnl), 0)
		FROM positions WHERE status = 'closed'`)
	err := row.Scan(&stats.TotalTrades, &stats.WinningTrades, &stats.AvgReturnPct, &stats.MaxReturnPct, &stats.MinReturnPct, &stats.TotalPnL)
	return stats, err
}

const timeFmt = "2006-01-02T15:04:05.000Z"
