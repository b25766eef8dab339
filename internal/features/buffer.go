// Package features implements the Feature Buffer (§4.B): a fixed-length
// sliding window per instrument that emits a feature tensor once filled,
// and on every subsequent push thereafter (sliding-window emission).
package features

import (
	"math"

	"golang.org/x/exp/constraints"

	"memetrader/internal/metrics"
	"memetrader/internal/model"
)

func clamp[T constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Buffer holds the last W ticks for one instrument. It is not safe for
// concurrent use; the Feature Buffer owns one per instrument and is fed by
// a single consumer goroutine reading off the ingestor's channel.
type Buffer struct {
	instrument string
	window     int
	normalize  bool
	ticks      []model.Tick
}

// New constructs a Buffer for instrument with window length w. When
// normalize is true, z-score normalization is applied over the window
// before channels are emitted (§4.B: "whatever normalization is chosen must
// be stable — deterministic, no leakage of future data").
func New(instrument string, w int, normalize bool) *Buffer {
	return &Buffer{instrument: instrument, window: w, normalize: normalize, ticks: make([]model.Tick, 0, w)}
}

// Push appends tick to the window. It returns a tensor only once the
// window has reached capacity; thereafter every push yields a tensor
// (property 1, §8).
func (b *Buffer) Push(tick model.Tick) (*model.FeatureTensor, bool) {
	b.ticks = append(b.ticks, tick)
	if len(b.ticks) > b.window {
		b.ticks = b.ticks[len(b.ticks)-b.window:]
	}
	if len(b.ticks) < b.window {
		return nil, false
	}

	price := make([]float64, b.window)
	delta := make([]float64, b.window)
	volume := make([]float64, b.window)
	for i, t := range b.ticks {
		price[i] = t.Price
		volume[i] = t.Volume
		if i == 0 {
			delta[i] = 0
		} else {
			delta[i] = t.Price - b.ticks[i-1].Price
		}
	}
	if b.normalize {
		zscore(price)
		zscore(delta)
		zscore(volume)
	}

	metrics.TensorsEmitted.Inc()
	return &model.FeatureTensor{
		InstrumentID: b.instrument,
		Window:       b.window,
		Price:        price,
		PriceDelta:   delta,
		Volume:       volume,
	}, true
}

// zscore normalizes a channel in place using only the values already
// present in the window (no future leakage, deterministic).
func zscore(xs []float64) {
	if len(xs) == 0 {
		return
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	stddev := math.Sqrt(variance)
	if stddev < 1e-12 {
		for i := range xs {
			xs[i] = 0
		}
		return
	}
	for i, x := range xs {
		xs[i] = clamp((x-mean)/stddev, -8, 8)
	}
}

// Buffers is the Feature Buffer component: one Buffer per instrument,
// exclusively owned (§3: "Ownership... the Feature Buffer exclusively owns
// per-instrument windows").
type Buffers struct {
	window    int
	normalize bool
	byInst    map[string]*Buffer
}

// NewBuffers constructs the per-instrument registry.
func NewBuffers(window int, normalize bool) *Buffers {
	return &Buffers{window: window, normalize: normalize, byInst: make(map[string]*Buffer)}
}

// Push routes tick to its instrument's Buffer, creating one on first sight.
func (bs *Buffers) Push(tick model.Tick) (*model.FeatureTensor, bool) {
	buf, ok := bs.byInst[tick.InstrumentID]
	if !ok {
		buf = New(tick.InstrumentID, bs.window, bs.normalize)
		bs.byInst[tick.InstrumentID] = buf
	}
	return buf.Push(tick)
}
