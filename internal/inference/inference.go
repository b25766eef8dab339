// Package inference implements the Inference & Retrieval component (§4.C):
// run the sequence model to get an embedding + anomaly score, query the
// vector store for nearest neighbors, and derive a deterministic confidence
// signal. The model session and vector store are external collaborators
// (§1) represented here as interfaces only.
package inference

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/constraints"
	"golang.org/x/sync/singleflight"

	"memetrader/internal/errs"
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

// ModelSession is the sequence model's prediction contract. Engine holds no
// lock around Predict: concurrent Process calls on one Engine reach the
// session concurrently. In main.go a single pipeline goroutine calls
// Process, so Predict calls there do not overlap.
type ModelSession interface {
	// Predict runs the model over a feature tensor and returns the encoder
	// embedding plus the anomaly score (mean squared reconstruction error).
	Predict(ctx context.Context, tensor *model.FeatureTensor) (embedding []float32, anomalyScore float64, err error)
}

// Neighbor is one result from a vector store similarity query.
type Neighbor struct {
	ID    string
	Score float64
}

// VectorStore is the nearest-neighbor pattern store's contract.
type VectorStore interface {
	QuerySimilar(ctx context.Context, embedding []float32, k int) ([]Neighbor, error)
	IngestPattern(ctx context.Context, rec model.PatternRecord) error
}

// Engine wires a ModelSession and VectorStore together to produce Signals.
type Engine struct {
	session    ModelSession
	store      VectorStore
	k          int
	group      singleflight.Group
	inferTO    time.Duration
	storeTO    time.Duration
}

// New constructs an Engine. inferTimeout and storeTimeout bound each
// external call per §5's suspension-point timeout table.
func New(session ModelSession, store VectorStore, k int, inferTimeout, storeTimeout time.Duration) *Engine {
	return &Engine{session: session, store: store, k: k, inferTO: inferTimeout, storeTO: storeTimeout}
}

// Process runs predict → query_similar → derive-signal → ingest_pattern for
// one feature tensor. On inference failure it returns a nil Signal and a
// KindInferenceError error. Otherwise it always returns a Signal: a
// vector-store failure leaves it with no neighbors (zero confidence), and
// the confidence gate is left to the caller, so callers can observe the
// degenerate/low-confidence case too if they choose.
func (e *Engine) Process(ctx context.Context, tick model.Tick, tensor *model.FeatureTensor) (*model.Signal, error) {
	ictx, cancel := context.WithTimeout(ctx, e.inferTO)
	defer cancel()

	start := time.Now()
	embedding, anomaly, err := e.session.Predict(ictx, tensor)
	metrics.InferenceLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.InferenceErrors.Inc()
		return nil, errs.New(errs.KindInferenceError, "predict failed", err)
	}

	neighbors, simErr := e.querySimilar(ctx, embedding)
	if simErr != nil {
		metrics.VectorStoreTimeouts.Inc()
		neighbors = nil // §4.C: vector-store timeouts are *skipped* for that tick; confidence degrades naturally
	}

	sig := deriveSignal(tick.InstrumentID, neighbors, anomaly)
	sig.SourceEmbedding = embedding

	// Fire-and-forget style ingest for future retrieval; idempotency is not
	// required (fresh UUID per call, §4.C).
	_ = e.store.IngestPattern(ctx, model.PatternRecord{
		ID:           uuid.NewString(),
		Vector:       embedding,
		InstrumentID: tick.InstrumentID,
		Price:        tick.Price,
		Volume:       tick.Volume,
	})

	return sig, nil
}

// querySimilar collapses concurrent lookups for an identical embedding
// bucket (coarse rounding) into one vector-store round trip, using
// singleflight the way internal/api/server.go does for ESI requests in the
// teacher repo.
func (e *Engine) querySimilar(ctx context.Context, embedding []float32) ([]Neighbor, error) {
	sctx, cancel := context.WithTimeout(ctx, e.storeTO)
	defer cancel()

	key := bucketKey(embedding)
	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		return e.store.QuerySimilar(sctx, embedding, e.k)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Neighbor), nil
}

// bucketKey coarsely quantizes an embedding into a dedup key for
// singleflight. It need not be exact: a false negative merely means one
// extra round trip, never a correctness issue.
func bucketKey(embedding []float32) string {
	if len(embedding) == 0 {
		return "empty"
	}
	buf := make([]byte, 0, len(embedding)*4)
	for _, v := range embedding {
		q := int32(v * 100)
		buf = append(buf, byte(q), byte(q>>8), byte(q>>16), byte(q>>24))
	}
	return string(buf)
}

// deriveSignal implements §4.C's deterministic confidence formula:
//
//	avg_sim        = mean(scores)                  if any neighbors, else 0
//	anomaly_factor = clamp(1 - anomaly, 0, 1)
//	confidence     = clamp(avg_sim * anomaly_factor, 0, 1)
func deriveSignal(instrument string, neighbors []Neighbor, anomaly float64) *model.Signal {
	var avgSim float64
	if len(neighbors) > 0 {
		var sum float64
		for _, n := range neighbors {
			sum += n.Score
		}
		avgSim = sum / float64(len(neighbors))
	}
	anomalyFactor := clamp(1-anomaly, 0, 1)
	confidence := clamp(avgSim*anomalyFactor, 0, 1)

	sig := &model.Signal{
		InstrumentID:      instrument,
		Confidence:        confidence,
		AnomalyScore:      anomaly,
		CreatedAt:         time.Now(),
		NeighborCount:     len(neighbors),
		MeanNeighborScore: avgSim,
	}
	return sig
}
