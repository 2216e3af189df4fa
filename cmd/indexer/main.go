package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leafsii/lp-points/internal/api"
	"github.com/leafsii/lp-points/internal/chain"
	"github.com/leafsii/lp-points/internal/config"
	"github.com/leafsii/lp-points/internal/jobs"
	"github.com/leafsii/lp-points/internal/log"
	"github.com/leafsii/lp-points/internal/metrics"
	"github.com/leafsii/lp-points/internal/points"
	"github.com/leafsii/lp-points/internal/prices"
	"github.com/leafsii/lp-points/internal/prices/binance"
	"github.com/leafsii/lp-points/internal/prices/mock"
	"github.com/leafsii/lp-points/internal/rates"
	"github.com/leafsii/lp-points/internal/snapshot"
	"github.com/leafsii/lp-points/internal/store"
	"github.com/leafsii/lp-points/pkg/kv"

	_ "github.com/leafsii/lp-points/pkg/kv/memory"
	_ "github.com/leafsii/lp-points/pkg/kv/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	pool := cfg.Pool.PoolAddress()
	logger.Infow("Starting LP points indexer",
		"env", cfg.Env,
		"pool", pool.Hex(),
		"snapshotBackend", cfg.Storage.SnapshotBackend,
		"rateSource", cfg.Rates.Source,
		"priceProvider", cfg.Prices.Provider,
		"gauge", cfg.Pool.GaugeEnabled,
	)

	metricsObj, metricsHandler, err := metrics.Setup("lp-points")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	rpc, err := ethclient.Dial(cfg.Chain.RPCURL)
	if err != nil {
		logger.Fatalw("Failed to connect to RPC", "url", cfg.Chain.RPCURL, "error", err)
	}
	defer rpc.Close()
	client := chain.NewThrottledClient(rpc, cfg.Chain.RPCRPS)

	reader := chain.NewPoolReader(client, pool)
	if cfg.Pool.GaugeEnabled {
		reader = reader.WithGauge(chain.Gauge{Address: cfg.Pool.Gauge(), StartBlock: cfg.Pool.GaugeStartBlock})
		logger.Infow("Gauge balances enabled", "gauge", cfg.Pool.Gauge().Hex(), "startBlock", cfg.Pool.GaugeStartBlock)
	}
	source := chain.NewLogSource(client, pool, logger)

	rateProvider, err := buildRates(cfg, client, logger)
	if err != nil {
		logger.Fatalw("Failed to setup exchange rates", "error", err)
	}

	oracle := buildOracle(cfg, logger)

	schedule, err := buildSchedule(cfg)
	if err != nil {
		logger.Fatalw("Failed to load reward policy", "error", err)
	}
	for _, p := range schedule.Policies() {
		logger.Infow("Reward policy",
			"effectiveFrom", time.UnixMilli(p.EffectiveFromMilli).UTC(),
			"pearlsPerEthPerDay", p.PearlsPerEthPerDay,
			"multiplier", p.Multiplier,
			"elPerDay", p.ELPerDay,
		)
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer startupCancel()

	stores, err := openStores(startupCtx, cfg, metricsObj, logger)
	if err != nil {
		logger.Fatalw("Failed to setup storage", "error", err)
	}
	defer stores.Close()
	metricsObj.ObserveAccounts(func(ctx context.Context) (int64, error) {
		return stores.snapshots.Count(ctx, pool)
	})

	publisher := store.NewPublisher(cfg.Storage.RedisURL, cfg.Storage.UpdateRetention, logger)
	defer publisher.Close()

	tokenA, tokenB := cfg.Pool.Token(0), cfg.Pool.Token(1)
	engine := points.NewEngine(points.PoolConfig{
		Address:   pool,
		AssetA:    points.Asset{Symbol: tokenA.Symbol, Address: tokenA.Address, Decimals: tokenA.Decimals},
		AssetB:    points.Asset{Symbol: tokenB.Symbol, Address: tokenB.Address, Decimals: tokenB.Decimals},
		USDSymbol: cfg.Points.USDSymbol,
	}, rateProvider, oracle, schedule, metricsObj, logger)

	emitter := points.MultiEmitter{points.NewLogEmitter(logger), publisher}
	dispatcher := points.NewDispatcher(engine, stores.snapshots, reader, emitter, metricsObj, logger, cfg.Workers)
	defer dispatcher.Close()

	indexer := jobs.NewPointIndexer(source, dispatcher, stores.cursors, metricsObj, logger, jobs.PointIndexerConfig{
		Pool:          pool,
		StartBlock:    cfg.Chain.StartBlock,
		Confirmations: cfg.Chain.Confirmations,
		MaxBlockRange: cfg.Chain.MaxBlockRange,
		Interval:      cfg.Points.Interval,
		PollSpec:      cfg.Chain.PollSpec,
	}).WithCheckpoints(stores.snapshots)

	handler := api.NewHandler(logger,
		func(ctx context.Context) (any, error) { return indexer.Status(ctx) },
		api.Check{Name: "rpc", Ping: func(ctx context.Context) error {
			_, err := source.Head(ctx)
			return err
		}},
		api.Check{Name: "snapshots", Ping: stores.Ping},
		api.Check{Name: "publisher", Ping: publisher.Ping},
	)
	router := handler.Routes(api.NewMiddleware(logger, metricsObj), metricsHandler)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	indexerDone := make(chan error, 1)
	go func() {
		indexerDone <- indexer.Start(ctx)
	}()

	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Errorw("HTTP server failed", "error", err)
	case err := <-indexerDone:
		logger.Errorw("Point indexer exited", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	}

	// Stop the indexer first so no trigger is cut off by a closed store.
	cancel()
	select {
	case <-indexerDone:
	case <-time.After(30 * time.Second):
		logger.Warnw("Point indexer did not stop in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorw("Graceful shutdown failed", "error", err)
		server.Close()
	}

	logger.Infow("Indexer stopped")
}

func buildRates(cfg *config.Config, caller chain.Caller, logger *zap.SugaredLogger) (rates.Provider, error) {
	tokenA, tokenB := cfg.Pool.Token(0), cfg.Pool.Token(1)

	if cfg.Rates.Source == "static" {
		static, err := rates.NewStatic(map[common.Address]decimal.Decimal{
			tokenA.Address: decimal.RequireFromString(cfg.Rates.StaticRateA),
			tokenB.Address: decimal.RequireFromString(cfg.Rates.StaticRateB),
		})
		if err != nil {
			return nil, err
		}
		logger.Warnw("Using static exchange rates", "rateA", cfg.Rates.StaticRateA, "rateB", cfg.Rates.StaticRateB)
		return static, nil
	}

	registry, err := rates.NewRegistry(
		rates.Token{Symbol: tokenA.Symbol, Address: tokenA.Address, Method: tokenA.RateMethod, Decimals: tokenA.Decimals},
		rates.Token{Symbol: tokenB.Symbol, Address: tokenB.Address, Method: tokenB.RateMethod, Decimals: tokenB.Decimals},
	)
	if err != nil {
		return nil, err
	}
	return rates.NewEVMProvider(caller, registry, logger), nil
}

// buildOracle returns nil when USD exposure is disabled.
func buildOracle(cfg *config.Config, logger *zap.SugaredLogger) prices.Oracle {
	var oracle prices.Oracle
	switch cfg.Prices.Provider {
	case "binance":
		oracle = binance.NewProvider(logger, cfg.Prices.BinanceURL)
	case "mock":
		oracle = mock.NewGenerator(logger, cfg.Prices.MockBasePrice, cfg.Prices.MockVolatility)
	default:
		logger.Infow("USD exposure disabled")
		return nil
	}
	return prices.NewResolver(oracle, prices.NewRegistry())
}

func buildSchedule(cfg *config.Config) (*points.Schedule, error) {
	if cfg.Points.PolicyFile != "" {
		return points.LoadSchedule(cfg.Points.PolicyFile)
	}
	pearls, multiplier, el := cfg.Points.Rates()
	return points.NewSchedule(points.Policy{
		PearlsPerEthPerDay: pearls,
		Multiplier:         multiplier,
		ELPerDay:           el,
	})
}

// storage bundles the snapshot store with the cursors of the same backend, so both survive a restart together.
type storage struct {
	snapshots snapshot.Store
	cursors   jobs.Cursors
	kv        kv.Store
	db        *sql.DB
}

func openStores(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *zap.SugaredLogger) (*storage, error) {
	switch cfg.Storage.SnapshotBackend {
	case "postgres":
		db, err := snapshot.OpenPostgres(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.Storage.AutoMigrate {
			if err := snapshot.Migrate(db); err != nil {
				db.Close()
				return nil, err
			}
			logger.Infow("Snapshot migrations applied")
		}
		return &storage{
			snapshots: snapshot.NewSQLStore(db, logger),
			cursors:   jobs.NewSQLCursorStore(db),
			db:        db,
		}, nil

	default:
		backend := kv.BackendMemory
		if cfg.Storage.SnapshotBackend == "redis" {
			backend = kv.BackendRedis
		}
		kvStore, err := kv.NewStoreFromConfig(kv.Config{Backend: backend, RedisURL: cfg.Storage.RedisURL})
		if err != nil {
			return nil, err
		}
		if backend == kv.BackendMemory {
			logger.Warnw("Using in-memory snapshot store, state is lost on restart")
		}
		return &storage{
			snapshots: snapshot.NewKVStore(kvStore).WithTelemetry(logger, m),
			cursors:   jobs.NewCursorStore(kvStore),
			kv:        kvStore,
		}, nil
	}
}

func (s *storage) Ping(ctx context.Context) error {
	if s.db != nil {
		return s.db.PingContext(ctx)
	}
	return s.kv.Ping(ctx)
}

func (s *storage) Close() {
	if s.kv != nil {
		s.kv.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}
