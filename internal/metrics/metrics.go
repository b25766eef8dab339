// Package metrics exposes Prometheus counters/gauges for every component of
// the pipeline, registered in init() in the style of
// chidi150c-coinbase/metrics.go, plus the /metrics and /healthz HTTP
// handlers required by §6.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memetrader_ticks_received_total",
		Help: "Ticks received by the market ingestor.",
	})

	LagDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memetrader_lag_drops_total",
		Help: "Ticks dropped because the ingestor's outbound channel was full.",
	})

	DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memetrader_decode_errors_total",
		Help: "Inbound feed frames that failed schema validation.",
	})

	FeedReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memetrader_feed_reconnects_total",
		Help: "Market feed reconnection attempts.",
	})

	TensorsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memetrader_feature_tensors_emitted_total",
		Help: "Feature tensors emitted by the feature buffer.",
	})

	InferenceErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memetrader_inference_errors_total",
		Help: "Inference calls that failed and were skipped.",
	})

	InferenceLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "memetrader_inference_latency_seconds",
		Help:    "Latency of model predict() calls.",
		Buckets: prometheus.DefBuckets,
	})

	VectorStoreTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memetrader_vector_store_timeouts_total",
		Help: "Vector store queries that timed out and were skipped.",
	})

	SignalsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memetrader_signals_emitted_total",
		Help: "Signals whose confidence exceeded the forwarding threshold.",
	})

	RiskRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memetrader_risk_rejections_total",
		Help: "Risk Manager validate() rejections by reason.",
	}, []string{"reason"})

	TradesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memetrader_trades_total",
		Help: "Trades recorded, by side and result.",
	}, []string{"side", "result"})

	SubmitRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memetrader_submit_retries_total",
		Help: "Swap submission retry attempts.",
	})

	InconclusiveConfirms = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memetrader_inconclusive_confirms_total",
		Help: "Swaps accepted but not confirmed within the timeout.",
	})

	PortfolioEquity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memetrader_portfolio_equity_quote",
		Help: "Current portfolio capital, quote-denominated.",
	})

	OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memetrader_open_positions",
		Help: "Number of currently open positions.",
	})
)

func init() {
	prometheus.MustRegister(
		TicksReceived, LagDrops, DecodeErrors, FeedReconnects,
		TensorsEmitted,
		InferenceErrors, InferenceLatency, VectorStoreTimeouts, SignalsEmitted,
		RiskRejections,
		TradesTotal, SubmitRetries, InconclusiveConfirms,
		PortfolioEquity, OpenPositions,
	)
}

// Health tracks the two conditions §6 requires /healthz to report on: the
// ingestor is connected, and inference has completed at least one call
// within the last minute.
type Health struct {
	mu                sync.RWMutex
	feedConnected     bool
	lastInferenceAt   time.Time
	inferenceWindow   time.Duration
}

// NewHealth constructs a Health tracker using the spec's default one-minute
// inference freshness window.
func NewHealth() *Health {
	return &Health{inferenceWindow: time.Minute}
}

func (h *Health) SetFeedConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.feedConnected = connected
}

func (h *Health) MarkInference() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastInferenceAt = time.Now()
}

func (h *Health) OK() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.feedConnected {
		return false
	}
	return !h.lastInferenceAt.IsZero() && time.Since(h.lastInferenceAt) < h.inferenceWindow
}

// Handler returns the /healthz handler: 200 when OK() holds, 503 otherwise.
func (h *Health) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok := h.OK()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "healthy", false: "unhealthy"}[ok],
			"time":   time.Now().UTC(),
		})
	}
}

// Mux builds the HTTP handler serving /metrics and /healthz.
func Mux(h *Health) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.Handler())
	return mux
}
