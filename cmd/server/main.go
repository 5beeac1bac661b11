package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradeassist/signal-engine/internal/account"
	"github.com/tradeassist/signal-engine/internal/api"
	"github.com/tradeassist/signal-engine/internal/config"
	"github.com/tradeassist/signal-engine/internal/interpret"
	"github.com/tradeassist/signal-engine/internal/lifecycle"
	"github.com/tradeassist/signal-engine/internal/model"
	"github.com/tradeassist/signal-engine/internal/monitor"
	"github.com/tradeassist/signal-engine/internal/pricefeed"
	"github.com/tradeassist/signal-engine/internal/store"
	"github.com/tradeassist/signal-engine/internal/util"
	"github.com/tradeassist/signal-engine/internal/voice"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := util.NewLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Initialize store ---
	var st store.Store
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("database schema setup failed")
		}
		st = pg
		log.Info().Msg("connected to PostgreSQL")
	case "file":
		st = store.NewFileStore(cfg.Store.Path)
		log.Info().Str("path", cfg.Store.Path).Msg("using file store")
	default:
		log.Warn().Msg("using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Price source ---
	prices, err := newPriceSource(ctx, cfg.PriceFeed, log, &cleanup)
	if err != nil {
		log.Fatal().Err(err).Msg("price source setup failed")
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub(log)
	go wsHub.Run(ctx)

	// --- Lifecycle engine ---
	engine := lifecycle.NewEngine(st, model.AccountProfile{
		FuturesBalance: cfg.Account.FuturesBalance,
		RiskPercent:    cfg.Account.RiskPercent,
		SessionStatus:  model.SessionStatus(strings.ToUpper(cfg.Account.SessionStatus)),
	}, log, lifecycle.Options{
		CeilingMultiplier: cfg.Engine.CeilingMultiplier,
		AuditRetention:    cfg.Engine.AuditRetention,
		AutoConfirm:       cfg.Engine.AutoConfirm,
		ExecutionMode:     model.ExecutionMode(strings.ToUpper(cfg.Engine.ExecutionMode)),
		KillSwitchPnL:     cfg.Engine.KillSwitchPnL,
		Publisher:         wsHub,
	})
	if err := engine.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("engine restore failed")
	}

	// --- Market monitor ---
	mon := monitor.New(engine, prices, log, monitor.Config{
		Interval:    cfg.Monitor.Interval,
		Concurrency: cfg.Monitor.Concurrency,
	})
	go mon.Run(ctx)

	// --- Interpretation and voice control ---
	var llm interpret.Model
	if cfg.Interpreter.APIKey != "" {
		llm = interpret.NewGeminiModel(cfg.Interpreter.BaseURL, cfg.Interpreter.Model, cfg.Interpreter.APIKey, cfg.Interpreter.Timeout)
		log.Info().Str("model", cfg.Interpreter.Model).Msg("language model interpreter enabled")
	} else {
		log.Warn().Msg("no interpreter API key, using rule-based signal parsing")
	}
	interp := interpret.New(llm, cfg.Interpreter.MaxInputLen, log)
	dispatcher := voice.NewDispatcher(engine, mon, log)

	balance := account.NewSimulatedBalance(func() decimal.Decimal {
		return engine.Profile().FuturesBalance
	}, time.Now().UnixNano())

	// --- HTTP router ---
	handler := api.NewHandler(engine, interp, dispatcher, balance, log)
	router := api.NewRouter(handler, wsHub, log, cfg.Server.RequestTimeout)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("signal-engine listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	log.Info().Msg("shutting down signal-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("signal-engine stopped")
}

// newPriceSource builds the configured provider, wrapped with the Redis
// read-through cache when a Redis URL is set.
func newPriceSource(ctx context.Context, cfg config.PriceFeed, log zerolog.Logger, cleanup *[]func()) (pricefeed.Source, error) {
	var src pricefeed.Source
	switch cfg.Provider {
	case pricefeed.ProviderStatic:
		src = pricefeed.NewStaticSource(cfg.StaticPrices)
	case pricefeed.ProviderSimulated:
		src = pricefeed.NewSimulatedSource(time.Now().UnixNano())
	case pricefeed.ProviderBinanceWS:
		stream := pricefeed.NewStreamSource(cfg.StreamURL, cfg.MaxAge, log)
		go func() {
			if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("price stream stopped")
			}
		}()
		src = stream
	default:
		src = pricefeed.NewRESTSource(cfg.BaseURL, cfg.Timeout, log)
	}
	log.Info().Str("provider", cfg.Provider).Msg("price source ready")

	if cfg.RedisURL == "" {
		return src, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	*cleanup = append(*cleanup, func() { rdb.Close() })
	log.Info().Msg("Redis price cache enabled")
	return pricefeed.NewCachedSource(src, rdb, cfg.CacheTTL, log), nil
}
