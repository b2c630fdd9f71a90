package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/stablecoin-gateway/internal/api"
	"github.com/ayo6706/stablecoin-gateway/internal/api/handler"
	"github.com/ayo6706/stablecoin-gateway/internal/chain"
	"github.com/ayo6706/stablecoin-gateway/internal/config"
	"github.com/ayo6706/stablecoin-gateway/internal/db"
	"github.com/ayo6706/stablecoin-gateway/internal/domain"
	"github.com/ayo6706/stablecoin-gateway/internal/idempotency"
	"github.com/ayo6706/stablecoin-gateway/internal/lock"
	"github.com/ayo6706/stablecoin-gateway/internal/observability"
	"github.com/ayo6706/stablecoin-gateway/internal/operator"
	"github.com/ayo6706/stablecoin-gateway/internal/repository"
	"github.com/ayo6706/stablecoin-gateway/internal/repository/memory"
	"github.com/ayo6706/stablecoin-gateway/internal/retry"
	"github.com/ayo6706/stablecoin-gateway/internal/service"
	"github.com/ayo6706/stablecoin-gateway/internal/settlement"
	"github.com/ayo6706/stablecoin-gateway/internal/sweep"
	"github.com/ayo6706/stablecoin-gateway/internal/txbuilder"
	"github.com/ayo6706/stablecoin-gateway/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// store is what the services and the readiness probe need from persistence.
type store interface {
	service.QueryStore
	handler.Pinger
}

// Run bootstraps the HTTP server, the sweep registry and the reconciliation
// worker, blocking until ctx is cancelled.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient *redis.Client
	var redisCmd redis.Cmdable
	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisURL != "" {
		redisClient, err = newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		redisCmd = redisClient
		locker = lock.NewRedis(redisClient, cfg.LockTTL)
		logger.Info("redis locks enabled", zap.Duration("ttl", cfg.LockTTL))
	} else {
		logger.Warn("REDIS_URL not set; using in-process locks, run a single instance")
	}

	backend, closeChain, err := openChain(ctx, cfg.Chain)
	if err != nil {
		return err
	}
	defer closeChain()
	chainClient := chain.NewClient(backend, cfg.Chain.TokenContract)
	builder := txbuilder.New(cfg.Chain.ChainID, cfg.Chain.TokenContract)

	holder, err := operator.NewHolder(cfg.Operator)
	if err != nil {
		return fmt.Errorf("operator credentials: %w", err)
	}
	settingsSvc := service.NewSettingsService(st, holder)
	if err := settingsSvc.LoadPersisted(ctx); err != nil {
		return err
	}

	sweepCfg, settleCfg := engineConfigs(cfg)
	tasks := service.NewTaskRegistry()
	services := api.Services{
		Deposits:    service.NewDepositService(st, sweep.NewEngine(chainClient, builder, locker, sweepCfg), locker, holder, tasks, cfg.Chain.TokenSymbol),
		Withdrawals: service.NewWithdrawalService(st, settlement.NewEngine(chainClient, builder, locker, settleCfg), locker, holder, cfg.Chain.TokenSymbol),
		Ledger:      service.NewLedgerService(st),
		Settings:    settingsSvc,
	}

	reconciler := worker.NewReconciliationWorker(service.NewReconciliationService(st, tasks, cfg.StaleSweepWindow).WithLocker(locker)).
		WithInterval(cfg.ReconciliationInterval)

	idemStore := idempotency.NewStore(redisCmd, st.Queries(), cfg.IdempotencyTTL)
	router := api.NewRouter(cfg, logger, st, idemStore, redisCmd, services)

	// Settlement requests block on the receipt poll.
	writeTimeout := settleCfg.ReceiptPoll.Budget() + 15*time.Second
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting",
			zap.String("port", cfg.HTTPPort),
			zap.String("chain_id", cfg.Chain.ChainID.String()),
			zap.String("token", cfg.Chain.TokenSymbol),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		reconciler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		reconciler.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
		if err := tasks.Shutdown(shutdownCtx); err != nil {
			logger.Error("sweeps did not finish before shutdown", zap.Int("running", tasks.Len()), zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store, func(), error) {
	if cfg.DatabaseURL == db.MemoryURL {
		zap.L().Warn("DATABASE_URL=memory; ledger state is lost on restart")
		return memory.NewStore(), func() {}, nil
	}
	if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	st := repository.NewStore(pool)
	return st, st.Close, nil
}

func openChain(ctx context.Context, cfg config.ChainConfig) (chain.Backend, func(), error) {
	if cfg.Simulated() {
		zap.L().Warn("RPC_URL=simulated; transactions are executed in memory")
		return chain.NewMockBackend(cfg.ChainID, cfg.TokenContract), func() {}, nil
	}
	client, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("read chain id: %w", err)
	}
	if id.Cmp(cfg.ChainID) != 0 {
		client.Close()
		return nil, nil, fmt.Errorf("rpc serves chain %s, configured CHAIN_ID is %s", id, cfg.ChainID)
	}
	return client, client.Close, nil
}

func engineConfigs(cfg *config.Config) (sweep.Config, settlement.Config) {
	gasPrice := domain.GweiToWei(cfg.Chain.GasPriceGwei)
	tokenGas := txbuilder.GasParams{Limit: cfg.Chain.TokenGasLimit, Price: gasPrice}
	poll := retry.Policy{Attempts: cfg.Chain.ReceiptPollAttempts, Interval: cfg.Chain.ReceiptPollInterval}

	sweepCfg := sweep.DefaultConfig()
	sweepCfg.Currency = cfg.Chain.TokenSymbol
	sweepCfg.MinTokenBalance = cfg.Sweep.MinTokenBalance
	sweepCfg.MinGasReserve = cfg.Sweep.MinGasReserve
	sweepCfg.GasTopUpAmount = cfg.Sweep.GasTopUpAmount
	sweepCfg.DustThreshold = cfg.Sweep.DustThreshold
	sweepCfg.SettleDelay = cfg.Sweep.SettleDelay
	sweepCfg.TokenGas = tokenGas
	sweepCfg.NativeGas = txbuilder.GasParams{Limit: cfg.Chain.NativeGasLimit, Price: gasPrice}
	sweepCfg.ReceiptPoll = poll

	return sweepCfg, settlement.Config{TokenGas: tokenGas, ReceiptPoll: poll}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
