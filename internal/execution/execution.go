// Package execution implements the Execution Engine (§4.E): a five-step
// quote → build → sign → submit → confirm → reconcile pipeline. The
// aggregator/RPC surface is generalized from
// chidi150c-coinbase/broker.go's Broker interface — that teacher
// abstracted "place an order against some exchange" behind one interface
// with paper/live implementations; Router plays the identical role for
// "get a route from the aggregator and land it on-chain".
package execution

import (
	"context"
	"time"

	"github.com/google/uuid"

	"memetrader/internal/db"
	"memetrader/internal/errs"
	"memetrader/internal/logger"
	"memetrader/internal/metrics"
	"memetrader/internal/model"
	"memetrader/internal/risk"
	"memetrader/internal/wallet"
)

// QuoteRequest names a route query to the swap aggregator (§6).
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	InAmount    float64
	SlippageBps float64
}

// QuoteResponse is the aggregator's route description (§6, §4.E step 2).
type QuoteResponse struct {
	InAmount       float64
	ExpectedOut    float64
	PriceImpactPct float64
	SlippageBpsCap float64
	Raw            any // opaque payload passed through to Build unmodified
}

// UnsignedTx is a ready-to-sign transaction bound to a quote and a wallet
// public key (§4.E step 3).
type UnsignedTx struct {
	Bytes           []byte
	RecentBlockhash string
}

// SubmitResult is what the RPC node returns for a submitted transaction.
type SubmitResult struct {
	Signature string
	Confirmed bool
}

// Router is the swap-aggregator + chain RPC abstraction (§6: quote/swap
// HTTP API, JSON-RPC commitment). It is an external collaborator (§1); only
// its contract is specified here.
type Router interface {
	Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error)
	Build(ctx context.Context, quote *QuoteResponse, userPublicKey string) (*UnsignedTx, error)
	Submit(ctx context.Context, signedTx []byte, commitment string, confirmTimeout time.Duration) (*SubmitResult, error)
	// GetSignatureStatus re-queries the chain for a previously submitted
	// signature; used by the cancellation-shield / inconclusive-confirm
	// reconciliation path (§4.E, §5).
	GetSignatureStatus(ctx context.Context, signature string) (confirmed bool, err error)
}

// SignFunc performs the actual ed25519 (or equivalent) signature given raw
// key bytes and an unsigned transaction; the wire format itself is out of
// scope (§1) and is supplied by the caller's Router/wallet integration.
type SignFunc func(key, tx []byte) ([]byte, error)

// Engine drives the five-step pipeline and reconciles results through the
// Risk Manager and the database.
type Engine struct {
	router           Router
	wallet           *wallet.Wallet
	signFn           SignFunc
	risk             *risk.Manager
	store            *db.DB
	maxPriceImpact   float64
	maxSlippageBps   float64
	quoteTimeout     time.Duration
	buildTimeout     time.Duration
	submitTimeout    time.Duration
	confirmTimeout   time.Duration
	submitMaxRetries int
	commitment       string
}

// Config bundles the Execution Engine's tunables (§4.E, §5).
type Config struct {
	MaxPriceImpactPct float64
	MaxSlippageBps    float64
	QuoteTimeout      time.Duration
	BuildTimeout      time.Duration
	SubmitTimeout     time.Duration
	ConfirmTimeout    time.Duration
	SubmitMaxRetries  int
	CommitmentLevel   string
}

// New constructs an Engine.
func New(router Router, w *wallet.Wallet, signFn SignFunc, rm *risk.Manager, store *db.DB, cfg Config) *Engine {
	return &Engine{
		router: router, wallet: w, signFn: signFn, risk: rm, store: store,
		maxPriceImpact: cfg.MaxPriceImpactPct, maxSlippageBps: cfg.MaxSlippageBps,
		quoteTimeout: cfg.QuoteTimeout, buildTimeout: cfg.BuildTimeout,
		submitTimeout: cfg.SubmitTimeout, confirmTimeout: cfg.ConfirmTimeout,
		submitMaxRetries: cfg.SubmitMaxRetries, commitment: cfg.CommitmentLevel,
	}
}

// shieldedContext detaches ctx's cancellation and deadline from the returned
// context, bounding it by timeout alone, implementing §5's cancellation
// shield: "the engine holds a cancellation-shield around the submit/confirm
// block and finishes reconciliation... before exiting." A fresh
// background-derived context means an outer shutdown signal cannot abort a
// transaction that has already been submitted to the chain.
func shieldedContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// ExecuteBuy runs the five-step pipeline to open a position (§4.E).
func (e *Engine) ExecuteBuy(ctx context.Context, signal model.Signal, instrument, inputMint, outputMint string, estimatedVol float64) (*model.Position, error) {
	size := e.risk.SizeFor(signal, estimatedVol)
	if err := e.risk.Validate(instrument, size, estimatedVol); err != nil {
		metrics.RiskRejections.WithLabelValues(err.Error()).Inc()
		return nil, errs.New(errs.KindRiskRejection, "buy rejected by risk manager", err)
	}

	quote, err := e.quote(ctx, QuoteRequest{InputMint: inputMint, OutputMint: outputMint, InAmount: size, SlippageBps: e.maxSlippageBps})
	if err != nil {
		return nil, err
	}

	entryPrice := priceFromQuote(quote, model.SideBuy) // §9 open question 1: derived from the quote, never the raw input amount
	result, feesQuote, err := e.buildSignSubmit(ctx, quote, model.SideBuy, instrument)
	if err != nil {
		return nil, err
	}

	if !result.Confirmed {
		logger.Warn("EXECUTION", "buy for "+instrument+" accepted but not confirmed within timeout; recorded inconclusive")
		metrics.InconclusiveConfirms.Inc()
		e.recordTrade(instrument, model.SideBuy, entryPrice, size, result.Signature, feesQuote, nil)
		return nil, errs.New(errs.KindConfirmTimeout, "buy submit accepted but unconfirmed", nil)
	}

	pos := e.risk.Open(instrument, entryPrice, size, signal.Confidence)
	if err := e.store.InsertPosition(pos); err != nil {
		// Post-confirmation accounting error is fatal (§4.E, §7): the chain
		// has already moved the funds; a persistence failure here means the
		// in-memory and durable views of the world have diverged.
		panic(errs.New(errs.KindInvariantViolation, "failed to persist confirmed position", err))
	}
	e.recordTrade(instrument, model.SideBuy, entryPrice, size, result.Signature, feesQuote, &pos.ID)
	metrics.TradesTotal.WithLabelValues("buy", "opened").Inc()
	return pos, nil
}

// ExecuteSell runs the five-step pipeline to close a position (§4.E).
func (e *Engine) ExecuteSell(ctx context.Context, position *model.Position, inputMint, outputMint string, reason model.StopReason) error {
	amount := position.EntrySizeQuote / position.EntryPrice // units held

	quote, err := e.quote(ctx, QuoteRequest{InputMint: inputMint, OutputMint: outputMint, InAmount: amount, SlippageBps: e.maxSlippageBps})
	if err != nil {
		return err
	}

	exitPrice := priceFromQuote(quote, model.SideSell)
	result, feesQuote, err := e.buildSignSubmit(ctx, quote, model.SideSell, position.Instrument)
	if err != nil {
		return err
	}

	if !result.Confirmed {
		logger.Warn("EXECUTION", "sell for "+position.Instrument+" accepted but not confirmed within timeout; recorded inconclusive")
		metrics.InconclusiveConfirms.Inc()
		e.recordTrade(position.Instrument, model.SideSell, exitPrice, position.EntrySizeQuote, result.Signature, feesQuote, &position.ID)
		return errs.New(errs.KindConfirmTimeout, "sell submit accepted but unconfirmed", nil)
	}

	pnl, err := e.risk.Close(position.Instrument, exitPrice, feesQuote, reason)
	if err != nil {
		panic(errs.New(errs.KindInvariantViolation, "risk manager close failed for a confirmed sell", err))
	}
	position.Status = model.StatusClosed
	position.ExitPrice = exitPrice
	position.ExitTime = time.Now()
	position.RealizedPnL = pnl
	position.RealizedPct = pnl / position.EntrySizeQuote
	position.ExitReason = reason
	if err := e.store.ClosePosition(position); err != nil {
		panic(errs.New(errs.KindInvariantViolation, "failed to persist confirmed close", err))
	}

	resultLabel := "loss"
	if pnl > 0 {
		resultLabel = "win"
	}
	e.recordTrade(position.Instrument, model.SideSell, exitPrice, position.EntrySizeQuote, result.Signature, feesQuote, &position.ID)
	metrics.TradesTotal.WithLabelValues("sell", resultLabel).Inc()
	return nil
}

func (e *Engine) quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	qctx, cancel := context.WithTimeout(ctx, e.quoteTimeout)
	defer cancel()

	quote, err := e.router.Quote(qctx, req)
	if err != nil {
		return nil, errs.New(errs.KindQuoteFailure, "quote request failed", err)
	}
	if quote.PriceImpactPct > e.maxPriceImpact {
		return nil, errs.New(errs.KindQuoteFailure, "price impact exceeds limit", nil)
	}
	if quote.SlippageBpsCap > e.maxSlippageBps {
		return nil, errs.New(errs.KindQuoteFailure, "slippage cap exceeds limit", nil)
	}
	return quote, nil
}

// buildSignSubmit runs steps 3-4 of the pipeline: build, sign, submit with
// retry and backoff, confirm. It returns a fee alongside the submit result;
// the fee is always zero, because Router reports no fee figure.
func (e *Engine) buildSignSubmit(ctx context.Context, quote *QuoteResponse, side model.Side, instrument string) (*SubmitResult, float64, error) {
	bctx, cancel := context.WithTimeout(ctx, e.buildTimeout)
	defer cancel()

	unsigned, err := e.router.Build(bctx, quote, e.wallet.PublicKey())
	if err != nil {
		return nil, 0, errs.New(errs.KindBuildFailure, "build failed", err)
	}

	signed, err := e.wallet.Sign(unsigned.Bytes, e.signFn)
	if err != nil {
		return nil, 0, errs.New(errs.KindBuildFailure, "sign failed", err)
	}

	// Cancellation shield (§5): once submitted, an outer shutdown must not
	// abort this goroutine before reconciliation completes.
	sctx, cancel2 := shieldedContext(ctx, e.submitTimeout+e.confirmTimeout)
	defer cancel2()

	var result *SubmitResult
	var submitErr error
	for attempt := 0; attempt <= e.submitMaxRetries; attempt++ {
		result, submitErr = e.router.Submit(sctx, signed, e.commitment, e.confirmTimeout)
		if submitErr == nil {
			break
		}
		metrics.SubmitRetries.Inc()
		logger.Warn("EXECUTION", "submit attempt failed, retrying: "+submitErr.Error())
		if attempt < e.submitMaxRetries {
			select {
			case <-sctx.Done():
			case <-time.After(time.Duration(attempt+1) * 200 * time.Millisecond):
			}
		}
	}
	if submitErr != nil {
		return nil, 0, errs.New(errs.KindSubmitFailure, "submit failed after retries", submitErr)
	}

	if !result.Confirmed && result.Signature != "" {
		// Idempotency guard (§4.E): re-query the chain before concluding
		// failure rather than assuming the worst.
		confirmed, statusErr := e.router.GetSignatureStatus(sctx, result.Signature)
		if statusErr == nil && confirmed {
			result.Confirmed = true
		}
	}

	fee := 0.0
	return result, fee, nil
}

// recordTrade writes a Trade Record, keyed by signature when present, else
// a synthesized (instrument, submitted_at, side) tuple (§4.E idempotency
// guard).
func (e *Engine) recordTrade(instrument string, side model.Side, price, size float64, signature string, fees float64, positionID *string) {
	rec := &model.TradeRecord{
		ID:          uuid.NewString(),
		PositionID:  positionID,
		Side:        side,
		Instrument:  instrument,
		Price:       price,
		SizeQuote:   size,
		SubmittedAt: time.Now(),
		FeesQuote:   fees,
	}
	if signature != "" {
		rec.Signature = &signature
		if exists, _ := e.store.TradeExists(signature); exists {
			return // idempotency guard: same signature never produces two records
		}
	} else {
		rec.ID = instrument + "|" + rec.SubmittedAt.UTC().Format(time.RFC3339Nano) + "|" + string(side)
	}
	if err := e.store.InsertTrade(rec); err != nil {
		logger.Error("EXECUTION", "failed to record trade: "+err.Error())
	}
}

// priceFromQuote derives the instrument-denominated entry/exit price (quote
// amount per instrument unit) from the aggregator's quote response rather
// than conflating the raw input amount with a USD size (§9 open question 1).
// A buy spends quote for instrument units (in/out); a sell spends instrument
// units for quote (out/in).
func priceFromQuote(q *QuoteResponse, side model.Side) float64 {
	if side == model.SideBuy {
		if q.ExpectedOut == 0 {
			return 0
		}
		return q.InAmount / q.ExpectedOut
	}
	if q.InAmount == 0 {
		return 0
	}
	return q.ExpectedOut / q.InAmount
}
