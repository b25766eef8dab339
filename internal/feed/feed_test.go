package feed

import (
	"testing"
	"time"

	"memetrader/internal/metrics"
	"memetrader/internal/model"
)

func TestBackoffCapsAndGrows(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	d0 := backoff(base, max, 0)
	if d0 < base*3/4 || d0 > base*5/4 {
		t.Fatalf("attempt 0 should be ~base, got %v", d0)
	}

	d3 := backoff(base, max, 3)
	if d3 < 6*time.Second || d3 > 10*time.Second {
		t.Fatalf("attempt 3 should be ~8x base, got %v", d3)
	}

	d10 := backoff(base, max, 10)
	if d10 > max {
		t.Fatalf("backoff must be capped at max, got %v", d10)
	}
}

func TestPushDropsOldestWhenFull(t *testing.T) {
	in := New("ws://example.invalid", "X", 2, time.Second, 30*time.Second, time.Minute, metrics.NewHealth())

	in.push(model.Tick{InstrumentID: "X", Price: 1})
	in.push(model.Tick{InstrumentID: "X", Price: 2})
	in.push(model.Tick{InstrumentID: "X", Price: 3}) // channel full, should drop price=1

	first := <-in.out
	second := <-in.out

	if first.Price != 2 || second.Price != 3 {
		t.Fatalf("expected oldest tick dropped, got %v then %v", first.Price, second.Price)
	}
}
