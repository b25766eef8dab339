package db

import (
	"path/filepath"
	"testing"
	"time"

	"memetrader/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpenRunsMigration(t *testing.T) {
	d := openTestDB(t)
	var version int
	if err := d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version); err != nil {
		t.Fatalf("expected schema_version row: %v", err)
	}
	if version < 1 {
		t.Fatalf("expected migration v1 applied, got version %d", version)
	}
}

func TestPositionLifecycle(t *testing.T) {
	d := openTestDB(t)
	pos := &model.Position{
		ID: "pos-1", Instrument: "X", EntryPrice: 1.0, EntrySizeQuote: 500,
		EntryTime: time.Now(), EntryConfidence: 0.8, CurrentPrice: 1.0, PeakPrice: 1.0,
		TrailingStopLevel: 0.97, Status: model.StatusOpen,
	}
	if err := d.InsertPosition(pos); err != nil {
		t.Fatalf("InsertPosition: %v", err)
	}

	pos.CurrentPrice = 1.1
	pos.PeakPrice = 1.1
	if err := d.UpdatePosition(pos); err != nil {
		t.Fatalf("UpdatePosition: %v", err)
	}

	pos.Status = model.StatusClosed
	pos.ExitPrice = 1.1
	pos.ExitTime = time.Now()
	pos.RealizedPnL = 50
	pos.RealizedPct = 0.1
	pos.ExitReason = model.StopManual
	if err := d.ClosePosition(pos); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}

	stats, err := d.PerformanceStats()
	if err != nil {
		t.Fatalf("PerformanceStats: %v", err)
	}
	if stats.TotalTrades != 1 || stats.WinningTrades != 1 {
		t.Fatalf("expected 1 total/1 winning, got %+v", stats)
	}
}

func TestTradeSignatureUniqueness(t *testing.T) {
	d := openTestDB(t)
	sig := "sig-abc"
	t1 := &model.TradeRecord{ID: "t1", Side: model.SideBuy, Instrument: "X", Price: 1, SizeQuote: 100, SubmittedAt: time.Now(), Signature: &sig}
	if err := d.InsertTrade(t1); err != nil {
		t.Fatalf("InsertTrade: %v", err)
	}

	exists, err := d.TradeExists(sig)
	if err != nil || !exists {
		t.Fatalf("expected trade to exist, err=%v exists=%v", err, exists)
	}

	t2 := &model.TradeRecord{ID: "t2", Side: model.SideBuy, Instrument: "X", Price: 1, SizeQuote: 100, SubmittedAt: time.Now(), Signature: &sig}
	if err := d.InsertTrade(t2); err == nil {
		t.Fatal("expected unique constraint violation on duplicate signature")
	}
}

func TestSignalRecordAndMarkExecuted(t *testing.T) {
	d := openTestDB(t)
	// signals.position_id references positions(id), so the position must exist.
	pos := &model.Position{
		ID: "pos-1", Instrument: "X", EntryPrice: 1.0, EntrySizeQuote: 500,
		EntryTime: time.Now(), EntryConfidence: 0.9, CurrentPrice: 1.0, PeakPrice: 1.0,
		TrailingStopLevel: 0.97, Status: model.StatusOpen,
	}
	if err := d.InsertPosition(pos); err != nil {
		t.Fatalf("InsertPosition: %v", err)
	}
	sig := model.Signal{InstrumentID: "X", Confidence: 0.9, AnomalyScore: 0.1, CreatedAt: time.Now(), NeighborCount: 3}
	id, err := d.InsertSignal(sig)
	if err != nil {
		t.Fatalf("InsertSignal: %v", err)
	}
	if err := d.MarkSignalExecuted(id, "pos-1"); err != nil {
		t.Fatalf("MarkSignalExecuted: %v", err)
	}
}
