package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kolwatch/kolwatch/internal/config"
	"github.com/kolwatch/kolwatch/internal/ingest"
	"github.com/kolwatch/kolwatch/internal/price"
	"github.com/kolwatch/kolwatch/internal/risk"
	"github.com/kolwatch/kolwatch/internal/social"
	solanax "github.com/kolwatch/kolwatch/internal/solana"
	"github.com/kolwatch/kolwatch/internal/store"
	"github.com/kolwatch/kolwatch/internal/trade"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use stubs (no external connections)")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.App)

	log.Info().Msg("=============================================")
	log.Info().Msg("KOLWATCH - KOL Signal-to-Trade Pipeline")
	log.Info().Msg("WATCH -> EXTRACT -> SCORE -> BUY -> MOONBAG")
	log.Info().Msg("=============================================")

	log.Info().
		Bool("stub_mode", *stubMode).
		Bool("trading", cfg.Trade.Enabled).
		Bool("dry_run", cfg.Trade.DryRun).
		Strs("handles", cfg.Ingest.Handles).
		Float64("alert_threshold", cfg.Ingest.AlertThreshold).
		Float64("min_trade_score", cfg.Trade.MinTradeScore).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Open the signal store.
	st, err := store.Open(cfg.App.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.App.DatabasePath).Msg("Failed to open store")
	}
	defer st.Close()

	// 5. Solana RPC client.
	var rpc solanax.RPCClient
	if *stubMode {
		rpc = solanax.NewStubRPCClient()
		log.Info().Msg("Solana RPC: STUB mode")
	} else {
		liveRPC := solanax.NewLiveRPCClient(cfg.RPC())
		rpc = liveRPC
		defer liveRPC.Close()

		healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rpc.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.Solana.Endpoint).
				Msg("Solana RPC health check failed (continuing, may be rate-limited)")
		} else {
			log.Info().Str("endpoint", cfg.Solana.Endpoint).Msg("Solana RPC: LIVE - connected")
		}
		healthCancel()
	}

	// 6. Priority fee estimator.
	feeEstimator := solanax.NewPriorityFeeEstimator(cfg.Solana.Fees, rpc)
	go feeEstimator.Start(ctx)

	// 7. Social source and risk scorer.
	var source social.Source
	var scorer risk.Scorer
	if *stubMode {
		source = social.NewStubSource()
		scorer = &risk.StubScorer{Scores: map[string]float64{}}
		log.Info().Msg("Social source and scorer: STUB mode")
	} else {
		source = social.NewHTTPSource(cfg.SocialHTTP())
		scorer = risk.NewHTTPScorer(cfg.Scorer())
	}

	sinks := []risk.AlertSink{risk.LogSink{}}
	if cfg.Risk.AlertWebhookURL != "" {
		sinks = append(sinks, risk.NewWebhookSink(cfg.Risk.AlertWebhookURL, 5*time.Second))
		log.Info().Str("url", cfg.Risk.AlertWebhookURL).Msg("Alert webhook enabled")
	}

	// 8. Ingest loop.
	loop := ingest.NewLoop(cfg.Ingest, source, st, scorer, sinks...)
	if err := loop.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start ingest loop")
	}

	// 9. Price source.
	var prices price.Source
	var stream *price.WSSource
	switch {
	case *stubMode:
		prices = price.NewStubSource()
	case cfg.Price.WSURL != "":
		stream = price.NewWSSource(cfg.Stream())
		stream.Start(ctx)
		prices = stream
		log.Info().Str("url", cfg.Price.WSURL).Msg("Price source: stream")
	default:
		prices = price.NewQuoteSource(cfg.Quote())
		log.Info().Msg("Price source: quote API")
	}

	// 10. Trading.
	var dispatcher *trade.Dispatcher
	if cfg.Trade.Enabled {
		var executor trade.Executor
		if *stubMode {
			executor = trade.NewStubExecutor(decimal.NewFromInt(1000))
			log.Info().Msg("Trade executor: STUB mode")
		} else {
			executor, err = trade.NewSwapExecutor(cfg.Executor(), rpc, cfg.Trade.WalletKey)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create trade executor")
			}
		}

		sizing := trade.NewRandomSizing(cfg.Trade.Sizing)
		controllerCfg := cfg.Controller()

		dispatcher = trade.NewDispatcher(cfg.Dispatcher(), st, func(mint string) trade.Runner {
			if stream != nil {
				stream.Subscribe(mint)
			}
			return trade.NewController(controllerCfg, mint, executor, prices, feeEstimator, sizing)
		})
		dispatcher.Start(ctx)
	} else {
		log.Info().Msg("Trading disabled: signal pipeline only")
	}

	// 11. HTTP server (health + stats).
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"status":  "ok",
				"trading": cfg.Trade.Enabled,
				"dry_run": cfg.Trade.DryRun,
				"stub":    *stubMode,
			})
		})

		mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
			observations, _ := st.ObservationCount(r.Context())
			combined := map[string]any{
				"ingest":        loop.Stats(),
				"priority_fees": feeEstimator.Stats(),
				"observations":  observations,
			}
			if dispatcher != nil {
				combined["dispatcher"] = dispatcher.Stats()
			}
			if liveRPC, ok := rpc.(*solanax.LiveRPCClient); ok {
				combined["rpc"] = liveRPC.Stats()
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(combined)
		})

		server := &http.Server{
			Addr:              cfg.App.HTTPListen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		log.Info().Str("addr", cfg.App.HTTPListen).Msg("HTTP server started (health + stats)")

		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()

		if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			log.Error().Err(srvErr).Msg("HTTP server error")
		}
	}()

	log.Info().Msg("KOLWATCH - Running")

	// 12. Block until shutdown.
	<-ctx.Done()

	log.Info().Msg("Shutting down...")

	// Stop scheduling new ingest ticks, then let in-flight trades finish
	// their current submission.
	loop.Stop()
	feeEstimator.Stop()
	if dispatcher != nil {
		dispatcher.Wait()
	}
	wg.Wait()

	stats := loop.Stats()
	log.Info().
		Uint64("ticks", stats.Ticks).
		Uint64("posts_seen", stats.PostsSeen).
		Uint64("new_observations", stats.NewObservations).
		Uint64("alerts", stats.Alerts).
		Msg("KOLWATCH - Final statistics")

	log.Info().Msg("KOLWATCH - Shutdown complete")
}

func setupLogging(app config.AppConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(app.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if app.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "kolwatch").Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "kolwatch").Logger()
	}
}
