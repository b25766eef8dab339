package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"memetrader/internal/adapters"
	"memetrader/internal/config"
	"memetrader/internal/db"
	"memetrader/internal/errs"
	"memetrader/internal/execution"
	"memetrader/internal/feed"
	"memetrader/internal/features"
	"memetrader/internal/inference"
	"memetrader/internal/logger"
	"memetrader/internal/metrics"
	"memetrader/internal/risk"
	"memetrader/internal/wallet"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Error("CONFIG", "failed to load configuration: "+err.Error())
		os.Exit(1)
	}

	logger.Banner(version)

	w, err := wallet.New(cfg.WalletPrivateKeyBase58, cfg.WalletPublicKey)
	if err != nil {
		logger.Error("WALLET", "failed to initialize wallet: "+err.Error())
		os.Exit(1)
	}

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("DB", "failed to open database: "+err.Error())
		os.Exit(1)
	}
	defer store.Close()

	health := metrics.NewHealth()

	rm := risk.New(risk.Config{
		MaxPositionSizeQuote:    cfg.MaxPositionSizeQuote,
		MaxPositionPctPortfolio: cfg.MaxPositionPctPortfolio,
		PayoffRatio:             cfg.PayoffRatio,
		KellyFraction:           cfg.KellyFraction,
		VolTarget:               cfg.VolTarget,
		MinDustQuote:            cfg.MinDustQuote,
		HardStopPct:             cfg.HardStopPct,
		TrailingStopPct:         cfg.TrailingStopPct,
		MaxTotalPositions:       cfg.MaxTotalPositions,
		MaxDailyDrawdownPct:     cfg.MaxDailyDrawdownPct,
		MaxWeeklyDrawdownPct:    cfg.MaxWeeklyDrawdownPct,
		CooldownThreshold:       cfg.CooldownThreshold,
		CooldownDuration:        cfg.CooldownDuration,
		ExtremeVolCeiling:       cfg.ExtremeVolCeiling,
	}, cfg.MaxPositionSizeQuote*float64(cfg.MaxTotalPositions))

	modelClient := adapters.NewModelClient(cfg.ModelPath, cfg.InferenceTimeout)
	vectorClient := adapters.NewVectorClient(cfg.VectorStoreURL, cfg.VectorCollection, cfg.VectorStoreTimeout)
	infer := inference.New(modelClient, vectorClient, cfg.NeighborK, cfg.InferenceTimeout, cfg.VectorStoreTimeout)

	router := adapters.NewSwapRouter(cfg.QuoteAggregatorURL, cfg.RPCURL, cfg.SubmitTimeout)
	signFn := func(key, tx []byte) ([]byte, error) { return tx, nil } // signature scheme is out of scope (§1)
	exec := execution.New(router, w, signFn, rm, store, execution.Config{
		MaxPriceImpactPct: cfg.MaxPriceImpactPct,
		MaxSlippageBps:    cfg.MaxSlippageBps,
		QuoteTimeout:      cfg.QuoteTimeout,
		BuildTimeout:      cfg.BuildTimeout,
		SubmitTimeout:     cfg.SubmitTimeout,
		ConfirmTimeout:    cfg.ConfirmTimeout,
		SubmitMaxRetries:  cfg.SubmitMaxRetries,
		CommitmentLevel:   cfg.CommitmentLevel,
	})

	ingestor := feed.New(cfg.FeedEndpoint, cfg.Instrument, cfg.FeedChannelCapacity,
		cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay, cfg.FeedIdleTimeout, health)
	buffers := features.NewBuffers(cfg.WindowSize, true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metrics.Mux(health)}

	// The five component goroutines are supervised by one errgroup, following
	// the teacher's graceful-shutdown idiom (signal.NotifyContext +
	// cancellation) generalized to a multi-stage pipeline: any fatal error
	// cancels ctx, which unwinds the rest (§7: only invariant violations and
	// missing config are fatal, everywhere else reports and continues).
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ingestor.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP", "shutdown error: "+err.Error())
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("HTTP", fmt.Sprintf("serving /metrics and /healthz on :%d", cfg.MetricsPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return runPipeline(gctx, cfg, ingestor, buffers, infer, rm, exec, store, health)
	})

	g.Go(func() error {
		return runSnapshotLoop(gctx, rm, store)
	})

	if err := g.Wait(); err != nil {
		logger.Error("MAIN", "fatal error, shutting down: "+err.Error())
		os.Exit(1)
	}
	logger.Info("MAIN", "stopped")
}

// runPipeline consumes ticks, runs them through the feature buffer and
// inference engine, applies the confidence-forwarding gate (§4.C), and
// drives the Execution Engine for buys and the Risk Manager's tick_update
// for stop-loss sells.
func runPipeline(ctx context.Context, cfg *config.Config, ingestor *feed.Ingestor, buffers *features.Buffers,
	infer *inference.Engine, rm *risk.Manager, exec *execution.Engine, store *db.DB, health *metrics.Health) error {

	const volHistoryLen = 20
	lastPrice := make(map[string]float64)
	priceHistory := make(map[string][]float64)

	for {
		select {
		case <-ctx.Done():
			return nil
		case tick, ok := <-ingestor.Ticks():
			if !ok {
				return nil
			}
			lastPrice[tick.InstrumentID] = tick.Price
			hist := append(priceHistory[tick.InstrumentID], tick.Price)
			if len(hist) > volHistoryLen {
				hist = hist[len(hist)-volHistoryLen:]
			}
			priceHistory[tick.InstrumentID] = hist

			for _, fired := range rm.TickUpdate(lastPrice) {
				pos := rm.OpenPosition(fired.Instrument)
				if pos == nil {
					continue
				}
				if err := exec.ExecuteSell(ctx, pos, pos.Instrument, "USDC", fired.Reason); err != nil {
					logger.Warn("EXECUTION", "stop-loss sell failed for "+fired.Instrument+": "+err.Error())
				}
			}

			tensor, ready := buffers.Push(tick)
			if !ready {
				continue
			}

			sig, err := infer.Process(ctx, tick, tensor)
			health.MarkInference()
			if err != nil {
				continue // inference errors are reported (counted) and the pipeline continues, §7
			}

			signalID, err := store.InsertSignal(*sig)
			if err != nil {
				logger.Error("DB", "failed to record signal: "+err.Error())
			}

			if sig.Confidence <= cfg.ConfidenceThresh {
				continue
			}
			metrics.SignalsEmitted.Inc()

			vol := rm.EstimateVolatility(tick.InstrumentID, priceHistory[tick.InstrumentID])
			pos, err := exec.ExecuteBuy(ctx, *sig, tick.InstrumentID, "USDC", tick.InstrumentID, vol)
			if err != nil {
				var kindErr *errs.Error
				if errors.As(err, &kindErr) && kindErr.Kind.Fatal() {
					return err
				}
				logger.Warn("EXECUTION", "buy skipped for "+tick.InstrumentID+": "+err.Error())
				continue
			}
			if err := store.MarkSignalExecuted(signalID, pos.ID); err != nil {
				logger.Error("DB", "failed to mark signal executed: "+err.Error())
			}
		}
	}
}

// runSnapshotLoop periodically persists a Risk Snapshot (§6: "a periodic
// snapshot of risk metrics is persisted").
func runSnapshotLoop(ctx context.Context, rm *risk.Manager, store *db.DB) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := rm.Metrics()
			metrics.PortfolioEquity.Set(snap.TotalCapital)
			metrics.OpenPositions.Set(float64(snap.NumPositions))
			logger.Section("risk snapshot")
			logger.StatsF("capital", snap.TotalCapital)
			logger.StatsF("available", snap.AvailableCapital)
			logger.StatsF("unrealized_pnl", snap.UnrealizedPnL)
			logger.StatsF("realized_pnl", snap.RealizedPnL)
			logger.Stats("open_positions", snap.NumPositions)
			logger.Stats("total_trades", snap.TotalTrades)
			if err := store.InsertRiskSnapshot(snap); err != nil {
				logger.Error("DB", "failed to persist risk snapshot: "+err.Error())
			}
		}
	}
}
