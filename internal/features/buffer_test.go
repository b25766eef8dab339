package features

import (
	"testing"
	"time"

	"memetrader/internal/model"
)

func tick(price, volume float64) model.Tick {
	return model.Tick{InstrumentID: "X", Price: price, Volume: volume, ReceivedAt: time.Now()}
}

// S1: Warm-up. W=3. First two ticks yield no tensor; the third yields a
// tensor with the documented price/delta/volume channels.
func TestWarmupScenarioS1(t *testing.T) {
	b := New("X", 3, false)

	if _, ok := b.Push(tick(100, 1)); ok {
		t.Fatal("expected no tensor before window is full")
	}
	if _, ok := b.Push(tick(101, 1)); ok {
		t.Fatal("expected no tensor before window is full")
	}
	ten, ok := b.Push(tick(102, 2))
	if !ok {
		t.Fatal("expected a tensor once window is full")
	}

	wantPrice := []float64{100, 101, 102}
	wantDelta := []float64{0, 1, 1}
	wantVolume := []float64{1, 1, 2}
	for i := range wantPrice {
		if ten.Price[i] != wantPrice[i] {
			t.Errorf("price[%d] = %v, want %v", i, ten.Price[i], wantPrice[i])
		}
		if ten.PriceDelta[i] != wantDelta[i] {
			t.Errorf("delta[%d] = %v, want %v", i, ten.PriceDelta[i], wantDelta[i])
		}
		if ten.Volume[i] != wantVolume[i] {
			t.Errorf("volume[%d] = %v, want %v", i, ten.Volume[i], wantVolume[i])
		}
	}
}

// Property 1 (§8): no tensor until W ticks, then exactly one per push.
func TestSlidingWindowEmitsOnEveryPushOnceFull(t *testing.T) {
	b := New("X", 2, false)
	b.Push(tick(1, 1))
	for i := 0; i < 5; i++ {
		if _, ok := b.Push(tick(float64(i+2), 1)); !ok {
			t.Fatalf("expected tensor on push %d once window is full", i)
		}
	}
}

// Property 2 (§8): channel semantics hold once at capacity.
func TestTensorChannelsMatchDefinition(t *testing.T) {
	b := New("X", 2, false)
	b.Push(tick(10, 5))
	ten, ok := b.Push(tick(13, 7))
	if !ok {
		t.Fatal("expected tensor")
	}
	if ten.Price[1] != 13 {
		t.Fatalf("price channel should equal price_t, got %v", ten.Price[1])
	}
	if ten.PriceDelta[1] != 3 {
		t.Fatalf("delta channel should equal price_t - price_t-1, got %v", ten.PriceDelta[1])
	}
	if ten.Volume[1] != 7 {
		t.Fatalf("volume channel should equal volume_t, got %v", ten.Volume[1])
	}
}

func TestBuffersRoutesByInstrument(t *testing.T) {
	bs := NewBuffers(2, false)
	bs.Push(model.Tick{InstrumentID: "A", Price: 1, Volume: 1})
	if _, ok := bs.Push(model.Tick{InstrumentID: "B", Price: 1, Volume: 1}); ok {
		t.Fatal("instrument B should start its own fresh window")
	}
	if _, ok := bs.Push(model.Tick{InstrumentID: "A", Price: 2, Volume: 1}); !ok {
		t.Fatal("instrument A should be full on its second tick")
	}
}
